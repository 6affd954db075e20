package disasm

import (
	"encoding/binary"
	"math"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
)

// reader is a cursor over the decoded instruction stream. Every read
// reports underrun instead of panicking so the disassembler can attach
// the error to the instruction it was decoding.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) eof() bool {
	return r.pos >= len(r.data)
}

func (r *reader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, model.ErrOperandUnderrun
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readDword() (uint32, error) {
	if r.remaining() < 4 {
		return 0, model.ErrOperandUnderrun
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) readDouble() (float64, error) {
	if r.remaining() < 8 {
		return 0, model.ErrOperandUnderrun
	}
	bits := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return math.Float64frombits(bits), nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, model.ErrOperandUnderrun
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}
