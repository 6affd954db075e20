// Package testutil builds synthetic bytecode streams for tests, so the
// disassembler, CFG, and lifter can be exercised without going through
// the transport encoding.
package testutil

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
)

// OpcodeMap returns a deterministic map assigning each canonical name its
// index in model.CanonicalNames.
func OpcodeMap() *model.OpcodeMap {
	m := model.NewOpcodeMap()
	for i, name := range model.CanonicalNames() {
		m.Set(i, name)
	}
	return m
}

// Swapped builds an OpcodeSet from canonical names using OpcodeMap
// numbering.
func Swapped(names ...string) model.OpcodeSet {
	m := OpcodeMap()
	set := make(model.OpcodeSet)
	for _, name := range names {
		raw, ok := m.Number(name)
		if !ok {
			panic(fmt.Sprintf("unknown opcode %q", name))
		}
		set.Add(raw)
	}
	return set
}

// Ins is one instruction to assemble. A Label with an empty Name marks an
// address without emitting anything. Args follow the operand schema of
// the opcode; address-kind operands accept a string label.
type Ins struct {
	Label string
	Name  string
	Args  []any
}

// Assemble encodes instructions for the given version, resolving labels
// in a second pass.
func Assemble(version model.Version, ins []Ins) []byte {
	m := OpcodeMap()

	labels := make(map[string]int)
	addr := 0
	for _, in := range ins {
		if in.Label != "" {
			labels[in.Label] = addr
		}
		if in.Name == "" {
			continue
		}
		addr += width(in, version)
	}

	var out []byte
	for _, in := range ins {
		if in.Name == "" {
			continue
		}
		raw, ok := m.Number(in.Name)
		if !ok {
			panic(fmt.Sprintf("unknown opcode %q", in.Name))
		}
		out = append(out, byte(raw))
		out = append(out, encodeArgs(in, version, labels, m)...)
	}
	return out
}

func width(in Ins, version model.Version) int {
	w := 1
	switch in.Name {
	case model.OpBuildFunction:
		body, _ := in.Args[0].([]byte)
		return w + 4 + len(body)
	case model.OpAssignVariable:
		w += 1 + 4 + 4
		if len(in.Args) > 3 {
			w++
		}
		return w
	}
	for _, kind := range model.OperandSchema(in.Name, version) {
		w += kind.Width()
	}
	return w
}

func encodeArgs(in Ins, version model.Version, labels map[string]int, m *model.OpcodeMap) []byte {
	var out []byte

	switch in.Name {
	case model.OpBuildFunction:
		body, _ := in.Args[0].([]byte)
		out = appendDword(out, len(body))
		return append(out, body...)
	case model.OpAssignVariable:
		out = append(out, byte(argInt(in.Args[0], labels)))
		out = appendDword(out, argInt(in.Args[1], labels))
		out = appendDword(out, argInt(in.Args[2], labels))
		if len(in.Args) > 3 {
			name, _ := in.Args[3].(string)
			raw, ok := m.Number(name)
			if !ok {
				panic(fmt.Sprintf("unknown compound opcode %q", name))
			}
			out = append(out, byte(raw))
		}
		return out
	}

	schema := model.OperandSchema(in.Name, version)
	if len(in.Args) != len(schema) {
		panic(fmt.Sprintf("%s: expected %d args, got %d", in.Name, len(schema), len(in.Args)))
	}
	for i, kind := range schema {
		switch kind.Width() {
		case 1:
			out = append(out, byte(argInt(in.Args[i], labels)))
		case 8:
			f, _ := in.Args[i].(float64)
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
			out = append(out, buf[:]...)
		default:
			out = appendDword(out, argInt(in.Args[i], labels))
		}
	}
	return out
}

func argInt(v any, labels map[string]int) int {
	switch x := v.(type) {
	case int:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		addr, ok := labels[x]
		if !ok {
			panic(fmt.Sprintf("unresolved label %q", x))
		}
		return addr
	}
	panic(fmt.Sprintf("bad arg %v", v))
}

func appendDword(out []byte, v int) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(int32(v)))
	return append(out, buf[:]...)
}
