package lift

import (
	"fmt"
	"regexp"
)

// stack is the symbolic operand stack: textual expression fragments that
// are already safe to splice into emitted source. Branch lifting clones
// it with value-copy semantics.
type stack struct {
	items []string
}

func (s *stack) push(v string) {
	s.items = append(s.items, v)
}

// pop returns the top expression, or def on underflow.
func (s *stack) pop(def string) string {
	if len(s.items) == 0 {
		return def
	}
	v := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return v
}

func (s *stack) peek(def string) string {
	if len(s.items) == 0 {
		return def
	}
	return s.items[len(s.items)-1]
}

func (s *stack) len() int {
	return len(s.items)
}

func (s *stack) clone() *stack {
	return &stack{items: append([]string(nil), s.items...)}
}

const (
	maxScopeId = 1000
	maxVarSlot = 10000
)

// varNamer assigns stable names from a (scopeId, varSlot) bijection,
// created on first sight. Nested function bodies share the namer so
// emitted names never collide with the parent's.
type varNamer struct {
	names   map[[2]int]string
	counter int
	unknown int
}

func newVarNamer() *varNamer {
	return &varNamer{names: make(map[[2]int]string)}
}

func (n *varNamer) name(scope, slot int) string {
	if scope > maxScopeId {
		scope = 0
	}
	if slot > maxVarSlot {
		slot = 0
	}
	if scope < 0 || slot < 0 {
		v := fmt.Sprintf("var_unknown_%d", n.unknown)
		n.unknown++
		return v
	}

	key := [2]int{scope, slot}
	if v, ok := n.names[key]; ok {
		return v
	}
	v := fmt.Sprintf("var_%d", n.counter)
	n.counter++
	n.names[key] = v
	return v
}

var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

var trivialRe = regexp.MustCompile(`^(?:[A-Za-z_$][A-Za-z0-9_$]*|-?[0-9.]+|"[^"\\]*"|null|undefined|true|false)$`)

// isTrivial reports whether an expression has no effect as a statement.
func isTrivial(expr string) bool {
	return trivialRe.MatchString(expr)
}
