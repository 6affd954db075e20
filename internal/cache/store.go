// Package cache persists fingerprinting results keyed by payload hash.
// On a hit the stored record replaces the fresh fingerprint result; the
// fingerprinting pass itself still runs before the lookup.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
)

// Record is the cached outcome of fingerprinting one payload.
type Record struct {
	OpcodeMap    map[int]string `json:"opcode_map"`
	ReturnOpcode int            `json:"return_opcode"`
	HasReturn    bool           `json:"has_return"`
	Swapped      []int          `json:"swapped"`
}

// FromResult converts a live opcode map into its persisted form.
func FromResult(m *model.OpcodeMap, returnOpcode int, hasReturn bool, swapped model.OpcodeSet) *Record {
	rec := &Record{
		OpcodeMap:    m.Entries(),
		ReturnOpcode: returnOpcode,
		HasReturn:    hasReturn,
	}
	for raw := range swapped {
		rec.Swapped = append(rec.Swapped, raw)
	}
	return rec
}

// Restore rebuilds the live structures.
func (r *Record) Restore() (*model.OpcodeMap, model.OpcodeSet) {
	m := model.NewOpcodeMap()
	for raw, name := range r.OpcodeMap {
		m.Set(raw, name)
	}
	set := make(model.OpcodeSet)
	for _, raw := range r.Swapped {
		set.Add(raw)
	}
	return m, set
}

// Store is a directory of compressed records.
type Store struct {
	dir   string
	codec *lzCodec
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{dir: dir, codec: newLZCodec()}, nil
}

// Key hashes the payload bytes that determine the analysis outcome.
func Key(bytecode, stringTable []byte) string {
	h := sha256.New()
	h.Write(bytecode)
	h.Write([]byte{0})
	h.Write(stringTable)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".lz")
}

// Load returns the cached record for key, or (nil, nil) on a miss.
func (s *Store) Load(key string) (*Record, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	decoded := s.codec.Decompress(string(data))
	if decoded == "" {
		// A corrupt entry is a miss, not a failure.
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal([]byte(decoded), &rec); err != nil {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) Save(key string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(key), []byte(s.codec.Compress(string(data))), 0o644)
}
