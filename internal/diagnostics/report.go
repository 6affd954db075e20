// Package diagnostics accumulates the per-stage notes every pipeline
// stage emits instead of throwing away context: why a version heuristic
// fell back, which opcode stayed unclassified, where a body stopped
// decoding.
package diagnostics

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/iancoleman/orderedmap"
)

type Severity string

const (
	Info  Severity = "info"
	Warn  Severity = "warn"
	Error Severity = "error"
)

// Diagnostic is one note from one stage. Addr is an instruction address
// when the note is tied to a source point, -1 otherwise.
type Diagnostic struct {
	Stage    string
	Severity Severity
	Message  string
	Addr     int
}

// Report is an ordered accumulation of diagnostics. Stages appear in the
// order they first reported.
type Report struct {
	entries []Diagnostic
}

func NewReport() *Report {
	return &Report{}
}

// Sink returns the callback handed to pipeline stages.
func (r *Report) Sink() func(Diagnostic) {
	return func(d Diagnostic) {
		r.entries = append(r.entries, d)
	}
}

func (r *Report) Add(stage string, severity Severity, msg string, addr int) {
	r.entries = append(r.entries, Diagnostic{Stage: stage, Severity: severity, Message: msg, Addr: addr})
}

func (r *Report) Entries() []Diagnostic {
	return r.entries
}

func (r *Report) HasErrors() bool {
	for _, d := range r.entries {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// MarshalJSON renders the report grouped by stage, preserving stage
// order.
func (r *Report) MarshalJSON() ([]byte, error) {
	o := orderedmap.New()
	for _, d := range r.entries {
		var bucket []any
		if existing, ok := o.Get(d.Stage); ok {
			bucket = existing.([]any)
		}
		entry := orderedmap.New()
		entry.Set("severity", string(d.Severity))
		entry.Set("message", d.Message)
		if d.Addr >= 0 {
			entry.Set("addr", d.Addr)
		}
		o.Set(d.Stage, append(bucket, entry))
	}
	return o.MarshalJSON()
}

// Render returns the colorized human-readable summary printed by the CLI.
func (r *Report) Render() string {
	if len(r.entries) == 0 {
		return color.GreenString("no diagnostics")
	}

	var b strings.Builder
	for _, d := range r.entries {
		var tag string
		switch d.Severity {
		case Error:
			tag = color.RedString("error")
		case Warn:
			tag = color.YellowString("warn")
		default:
			tag = color.CyanString("info")
		}
		if d.Addr >= 0 {
			fmt.Fprintf(&b, "[%s] %s: %s (addr %d)\n", tag, d.Stage, d.Message, d.Addr)
		} else {
			fmt.Fprintf(&b, "[%s] %s: %s\n", tag, d.Stage, d.Message)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
