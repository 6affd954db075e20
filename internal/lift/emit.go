package lift

import (
	"regexp"
	"strings"
)

// body accumulates emitted lines at a given indentation depth. Two spaces
// per scope; statements end with a semicolon; block openers keep the
// brace on their own line's end.
type body struct {
	lines  []string
	indent int
}

func (b *body) line(s string) {
	b.lines = append(b.lines, strings.Repeat("  ", b.indent)+s)
}

func (b *body) comment(s string) {
	b.line("/* " + s + " */")
}

var declRe = regexp.MustCompile(`^(\s*)var ([A-Za-z_$][A-Za-z0-9_$]*) = (.*)$`)

var trivialLineRe = regexp.MustCompile(`^\s*(?:undefined|null|-?[0-9.]+);$`)

// cleanup drops lines that are lone trivial literals and rewrites a
// repeated declaration of the same name within a scope into a plain
// assignment.
func cleanup(lines []string) []string {
	out := make([]string, 0, len(lines))

	type scope struct {
		indent   int
		declared map[string]bool
	}
	scopes := []scope{{indent: 0, declared: make(map[string]bool)}}

	for _, line := range lines {
		if trivialLineRe.MatchString(line) {
			continue
		}

		indent := len(line) - len(strings.TrimLeft(line, " "))
		for len(scopes) > 1 && indent < scopes[len(scopes)-1].indent {
			scopes = scopes[:len(scopes)-1]
		}
		if indent > scopes[len(scopes)-1].indent {
			scopes = append(scopes, scope{indent: indent, declared: make(map[string]bool)})
		}

		if m := declRe.FindStringSubmatch(line); m != nil {
			declared := scopes[len(scopes)-1].declared
			if declared[m[2]] {
				line = m[1] + m[2] + " = " + m[3]
			} else {
				declared[m[2]] = true
			}
		}

		out = append(out, line)
	}
	return out
}
