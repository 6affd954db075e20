// Package decompiler is the public entry point: raw payload bytes in,
// reconstructed source out. The CLI and tests drive the pipeline only
// through this surface.
package decompiler

import (
	"fmt"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/diagnostics"
	"github.com/User319183/NebulaVM-Deobfuscator/internal/extract"
	"github.com/User319183/NebulaVM-Deobfuscator/internal/fingerprint"
	"github.com/User319183/NebulaVM-Deobfuscator/internal/lift"
	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
	"github.com/User319183/NebulaVM-Deobfuscator/internal/transport"
)

// Input carries one payload and its per-payload analysis context. Either
// BytecodeB64 (still transport-encoded) or Bytecode (already decoded and
// unmasked) must be set.
type Input struct {
	BytecodeB64     string
	Bytecode        []byte
	StringTableBlob []byte

	OpcodeMap    *model.OpcodeMap
	ReturnOpcode *int
	Swapped      model.OpcodeSet
}

// Result is the reconstructed source plus everything the pipeline wants
// to tell the operator about how it got there.
type Result struct {
	Source  string
	Version model.Version
	Report  *diagnostics.Report
}

// ExtractFromSource parses an obfuscated script, fingerprints its
// interpreter, and returns the Input for Decompile.
func ExtractFromSource(src string) (Input, error) {
	payload, err := extract.FromSource(src)
	if err != nil {
		return Input{}, err
	}

	result, err := fingerprint.Fingerprint(payload.Interpreter)
	if err != nil {
		return Input{}, err
	}

	in := Input{
		BytecodeB64:     payload.BytecodeB64,
		StringTableBlob: payload.StringTableBytes,
		OpcodeMap:       result.Map,
		Swapped:         result.Swapped,
	}
	if result.HasReturn {
		ret := result.ReturnOpcode
		in.ReturnOpcode = &ret
	}
	return in, nil
}

// Decompile runs transport decoding, disassembly, structuring, and
// lifting. Local failures end up in the report and inline comments; only
// transport-level failures and a missing opcode map return an error.
func Decompile(in Input) (*Result, error) {
	if in.OpcodeMap == nil || in.OpcodeMap.Len() == 0 {
		return nil, model.ErrOpcodeMapEmpty
	}

	report := diagnostics.NewReport()

	var decoded *transport.Decoded
	var err error
	if in.Bytecode != nil {
		decoded, err = transport.DecodeRaw(in.Bytecode, in.OpcodeMap)
	} else {
		decoded, err = transport.DecodeBytecode(in.BytecodeB64, in.OpcodeMap)
	}
	if err != nil {
		return nil, fmt.Errorf("transport decode: %w", err)
	}
	if decoded.Ambiguous {
		report.Add("transport", diagnostics.Warn, "version heuristics ambiguous, fell back to v1", -1)
	}
	report.Add("transport", diagnostics.Info,
		fmt.Sprintf("decoded %d instruction bytes (%s)", len(decoded.Bytes), decoded.Version), -1)

	var table []string
	if len(in.StringTableBlob) > 0 {
		table = transport.DecodeStringTable(in.StringTableBlob)
		report.Add("strings", diagnostics.Info, fmt.Sprintf("decoded %d table entries", len(table)), -1)
	} else {
		report.Add("strings", diagnostics.Warn, "no string table, emitting literal indices", -1)
	}

	swapped := in.Swapped
	if swapped == nil {
		swapped = make(model.OpcodeSet)
	}

	opts := lift.Options{
		OpcodeMap: in.OpcodeMap,
		Strings:   table,
		Version:   decoded.Version,
		Swapped:   swapped,
		Sink:      report.Sink(),
	}
	if in.ReturnOpcode != nil {
		opts.ReturnOpcode = *in.ReturnOpcode
		opts.HasReturn = true
	}

	source, err := lift.LiftProgram(decoded.Bytes, opts)
	if err != nil {
		return nil, err
	}

	return &Result{
		Source:  source,
		Version: decoded.Version,
		Report:  report,
	}, nil
}

// DecompileSource is the one-call form: parse, fingerprint, decompile.
func DecompileSource(src string) (*Result, error) {
	in, err := ExtractFromSource(src)
	if err != nil {
		return nil, err
	}
	return Decompile(in)
}
