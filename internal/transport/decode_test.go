package transport

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
)

func testOpcodeMap() *model.OpcodeMap {
	m := model.NewOpcodeMap()
	for i, name := range model.CanonicalNames() {
		m.Set(i, name)
	}
	return m
}

func encodeTransport(payload []byte) string {
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ 0x80
	}
	return base64.StdEncoding.EncodeToString(masked)
}

func TestDecodeBytecodeV2Raw(t *testing.T) {
	instrs := []byte{5, 6, 7, 8}
	payload := append(append([]byte(nil), instrs...), 0)

	decoded, err := DecodeBytecode(encodeTransport(payload), testOpcodeMap())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Version != model.V2Current {
		t.Fatalf("expected v2, got %s", decoded.Version)
	}
	if !bytes.Equal(decoded.Bytes, instrs) {
		t.Fatalf("expected %v, got %v", instrs, decoded.Bytes)
	}
}

func TestDecodeBytecodeV2LZ77(t *testing.T) {
	instrs := []byte{5, 6, 7, 8, 5, 6, 7, 8, 5, 6, 7, 8}
	payload := append(compressLZ77Literal(instrs), 1)

	decoded, err := DecodeBytecode(encodeTransport(payload), testOpcodeMap())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Version != model.V2Current {
		t.Fatalf("expected v2, got %s", decoded.Version)
	}
	if !bytes.Equal(decoded.Bytes, instrs) {
		t.Fatalf("expected %v, got %v", instrs, decoded.Bytes)
	}
}

func TestDecodeBytecodeV1Zlib(t *testing.T) {
	instrs := []byte{40, 41, 42, 43, 44}

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(instrs); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	w.Close()

	payload := append([]byte{1}, compressed.Bytes()...)

	decoded, err := DecodeBytecode(encodeTransport(payload), testOpcodeMap())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Version != model.V1Legacy {
		t.Fatalf("expected v1, got %s", decoded.Version)
	}
	if !bytes.Equal(decoded.Bytes, instrs) {
		t.Fatalf("expected %v, got %v", instrs, decoded.Bytes)
	}
}

func TestDecodeBytecodeAmbiguousFallsBackToV1(t *testing.T) {
	// First byte 0 (raw V1) and last byte 0 with a known opcode at the
	// front: both heuristics match, V1 wins.
	payload := []byte{0, 5, 6, 7, 0}

	decoded, err := DecodeBytecode(encodeTransport(payload), testOpcodeMap())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Version != model.V1Legacy {
		t.Fatalf("expected v1 fallback, got %s", decoded.Version)
	}
	if !decoded.Ambiguous {
		t.Fatal("expected ambiguity diagnostic")
	}
	if !bytes.Equal(decoded.Bytes, []byte{5, 6, 7, 0}) {
		t.Fatalf("unexpected bytes %v", decoded.Bytes)
	}
}

func TestDecodeBytecodeBadBase64(t *testing.T) {
	if _, err := DecodeBytecode("!!!not base64!!!", testOpcodeMap()); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestLZ77BackReferences(t *testing.T) {
	// One flag group: four literal slots "abcd", then a fifth slot that
	// copies (distance=4, length=6): abcdabcdab.
	data := []byte{
		0x0f, 'a', 'b', 'c', 'd',
		4, 0, 6, 0,
	}
	out, err := decompressLZ77(data)
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	if string(out) != "abcdabcdab" {
		t.Fatalf("expected abcdabcdab, got %q", out)
	}
}

func TestLZ77ZeroLength(t *testing.T) {
	data := []byte{
		0x01, 'x',
		1, 0, 0, 0,
	}
	out, err := decompressLZ77(data)
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	if string(out) != "x" {
		t.Fatalf("expected x, got %q", out)
	}
}

func TestLZ77BadDistance(t *testing.T) {
	data := []byte{0x00, 9, 0, 3, 0}
	if _, err := decompressLZ77(data); err == nil {
		t.Fatal("expected error for distance past output start")
	}
}

func TestStringTableRoundTrip(t *testing.T) {
	table := []string{"", "hello", "var", "été", "with,comma"}
	decoded := DecodeStringTable(EncodeStringTable(table))
	if len(decoded) != len(table) {
		t.Fatalf("expected %d entries, got %d", len(table), len(decoded))
	}
	for i := range table {
		if decoded[i] != table[i] {
			t.Fatalf("entry %d: expected %q, got %q", i, table[i], decoded[i])
		}
	}
}

func TestStringTableOverrunStopsGracefully(t *testing.T) {
	data := EncodeStringTable([]string{"ok"})
	// A length record claiming more units than remain.
	data = append(data, 0xff, 0x00, 0x00, 0x00, 'x', 0x00)

	decoded := DecodeStringTable(data)
	if len(decoded) != 1 || decoded[0] != "ok" {
		t.Fatalf("expected graceful stop after [ok], got %v", decoded)
	}
}

func TestDecodeEmptyBytecode(t *testing.T) {
	decoded, err := DecodeBytecode("", testOpcodeMap())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded.Bytes) != 0 {
		t.Fatalf("expected empty stream, got %v", decoded.Bytes)
	}
}
