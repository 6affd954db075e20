package transport

import (
	"encoding/binary"
	"fmt"
)

// decompressLZ77 decodes the V2 back-reference stream. The data is a
// sequence of groups, each led by a flag byte covering the next eight
// slots LSB-first: a 1 bit means a literal byte follows, a 0 bit means a
// (distance:u16LE, length:u16LE) copy from earlier output. Decoding halts
// when the input is exhausted.
func decompressLZ77(data []byte) ([]byte, error) {
	var out []byte
	pos := 0

	for pos < len(data) {
		flags := data[pos]
		pos++

		for bit := 0; bit < 8 && pos < len(data); bit++ {
			if flags&(1<<bit) != 0 {
				out = append(out, data[pos])
				pos++
				continue
			}

			if pos+4 > len(data) {
				// Truncated back-reference terminates the stream.
				return out, nil
			}
			distance := int(binary.LittleEndian.Uint16(data[pos:]))
			length := int(binary.LittleEndian.Uint16(data[pos+2:]))
			pos += 4

			if distance <= 0 || distance > len(out) {
				return nil, fmt.Errorf("lz77 back-reference distance %d at output %d", distance, len(out))
			}
			for i := 0; i < length; i++ {
				out = append(out, out[len(out)-distance])
			}
		}
	}

	return out, nil
}

// compressLZ77Literal encodes data as all-literal LZ77 groups. The
// obfuscator emits real back-references; this minimal encoder exists for
// round-trip tests of the decoder.
func compressLZ77Literal(data []byte) []byte {
	var out []byte
	for i := 0; i < len(data); i += 8 {
		end := i + 8
		if end > len(data) {
			end = len(data)
		}
		flags := byte(0)
		for bit := 0; bit < end-i; bit++ {
			flags |= 1 << bit
		}
		out = append(out, flags)
		out = append(out, data[i:end]...)
	}
	return out
}
