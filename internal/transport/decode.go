package transport

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
)

// xorMask is applied to every transported byte and to every string-table
// code unit.
const xorMask = 0x80

// Decoded is the result of reversing the bytecode transport encoding.
type Decoded struct {
	Bytes   []byte
	Version model.Version
	// Ambiguous is set when both version heuristics matched and the V1
	// fallback was taken.
	Ambiguous bool
}

// DecodeBytecode reverses the transport encoding of a bytecode payload:
// base64, then per-byte XOR 0x80, then version-dependent decompression.
// The opcode map is only used by the version heuristic; pass an empty map
// to force the structural flag checks alone.
func DecodeBytecode(b64 string, opmap *model.OpcodeMap) (*Decoded, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBase64Decode, err)
	}

	data := make([]byte, len(raw))
	for i, b := range raw {
		data[i] = b ^ xorMask
	}

	return decodeTransportBytes(data, opmap)
}

// DecodeRaw is DecodeBytecode for payloads that are already
// base64-decoded and XOR-unmasked.
func DecodeRaw(data []byte, opmap *model.OpcodeMap) (*Decoded, error) {
	return decodeTransportBytes(data, opmap)
}

func decodeTransportBytes(data []byte, opmap *model.OpcodeMap) (*Decoded, error) {
	if len(data) == 0 {
		return &Decoded{Bytes: nil, Version: model.V2Current}, nil
	}

	last := data[len(data)-1]
	first := data[0]

	var v2 *Decoded
	if last == 0 || last == 1 {
		body := data[:len(data)-1]
		if last == 1 {
			if decoded, err := decompressLZ77(body); err == nil && plausibleOpcodeStart(decoded, opmap) {
				v2 = &Decoded{Bytes: decoded, Version: model.V2Current}
			}
		} else if plausibleOpcodeStart(body, opmap) {
			v2 = &Decoded{Bytes: append([]byte(nil), body...), Version: model.V2Current}
		}
	}

	v1Plausible := first == 0 || first == 1

	if v2 != nil && v1Plausible {
		// Ambiguous payload: both flag positions look valid. Fall back to
		// V1 and let the caller surface a diagnostic.
		if v1, err := decodeV1(data); err == nil {
			v1.Ambiguous = true
			return v1, nil
		}
	}

	if v2 != nil {
		return v2, nil
	}

	if v1Plausible {
		return decodeV1(data)
	}

	return nil, model.ErrVersionUndetected
}

func decodeV1(data []byte) (*Decoded, error) {
	out := &Decoded{Version: model.V1Legacy}
	body := data[1:]
	if data[0] == 1 {
		r, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrDecompress, err)
		}
		defer r.Close()
		decoded, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrDecompress, err)
		}
		out.Bytes = decoded
	} else {
		out.Bytes = append([]byte(nil), body...)
	}
	return out, nil
}

// plausibleOpcodeStart checks whether stripped bytes look like an
// instruction stream under the given opcode map: the first byte must be a
// known opcode, and at least 30% of the first twenty bytes must fall in
// the legal opcode range. This only picks a version; the disassembler is
// the authority once one is selected.
func plausibleOpcodeStart(data []byte, opmap *model.OpcodeMap) bool {
	if len(data) == 0 || opmap == nil || opmap.Len() == 0 {
		return false
	}
	if !opmap.Has(int(data[0])) {
		return false
	}

	maxOpcode := 0
	for _, n := range opmap.Numbers() {
		if n > maxOpcode {
			maxOpcode = n
		}
	}

	window := len(data)
	if window > 20 {
		window = 20
	}
	inRange := 0
	for _, b := range data[:window] {
		if int(b) <= maxOpcode {
			inRange++
		}
	}
	return inRange*10 >= window*3
}
