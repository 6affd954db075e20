package transport

import (
	"encoding/binary"
	"strings"
)

// DecodeStringTable decodes the auxiliary string table: repeating records
// of {length:u32LE, codeUnits:length x u16LE}, each code unit XOR'd with
// 0x80. A length that would overrun the buffer stops decoding; everything
// before it is kept.
func DecodeStringTable(data []byte) []string {
	var table []string
	pos := 0

	for pos+4 <= len(data) {
		length := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4

		if length < 0 || pos+length*2 > len(data) {
			break
		}

		var b strings.Builder
		for i := 0; i < length; i++ {
			unit := binary.LittleEndian.Uint16(data[pos+i*2:])
			b.WriteRune(rune(unit ^ xorMask))
		}
		pos += length * 2
		table = append(table, b.String())
	}

	return table
}

// EncodeStringTable is the trivial inverse of DecodeStringTable, used by
// tests and by the cache round-trip.
func EncodeStringTable(table []string) []byte {
	var out []byte
	for _, s := range table {
		units := []rune(s)
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(units)))
		out = append(out, lenBuf[:]...)
		for _, r := range units {
			var u [2]byte
			binary.LittleEndian.PutUint16(u[:], uint16(r)^xorMask)
			out = append(out, u[:]...)
		}
	}
	return out
}
