package diagnostics

import (
	"strings"
	"testing"
)

func TestReportOrderAndJSON(t *testing.T) {
	r := NewReport()
	sink := r.Sink()
	sink(Diagnostic{Stage: "transport", Severity: Info, Message: "decoded 120 bytes", Addr: -1})
	sink(Diagnostic{Stage: "lift", Severity: Warn, Message: "unclassified opcode UNKNOWN_9", Addr: 14})
	r.Add("lift", Error, "stack underflow", 20)

	if len(r.Entries()) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(r.Entries()))
	}
	if !r.HasErrors() {
		t.Fatal("expected HasErrors")
	}

	data, err := r.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	json := string(data)

	// Stage order is preserved: transport before lift.
	if strings.Index(json, "transport") > strings.Index(json, "lift") {
		t.Fatalf("stage order lost: %s", json)
	}
	if !strings.Contains(json, `"addr":14`) {
		t.Fatalf("addr missing: %s", json)
	}
}

func TestReportRender(t *testing.T) {
	r := NewReport()
	if r.Render() == "" {
		t.Fatal("empty report should still render a summary")
	}

	r.Add("transport", Warn, "version heuristics ambiguous", -1)
	out := r.Render()
	if !strings.Contains(out, "transport") || !strings.Contains(out, "ambiguous") {
		t.Fatalf("render missing content: %s", out)
	}
	if strings.Contains(out, "(addr") {
		t.Fatalf("addr -1 should not render: %s", out)
	}
}
