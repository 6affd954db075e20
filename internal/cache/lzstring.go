package cache

import "strings"

// lzCodec is an LZ-String compressor over a 64-character alphabet, used
// to keep persisted analysis records small without pulling the payload
// codecs into this package.
type lzCodec struct {
	alphabet string
}

func newLZCodec() *lzCodec {
	return &lzCodec{
		alphabet: "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/",
	}
}

type bitWriter struct {
	alphabet string
	out      strings.Builder
	val      int
	pos      int
}

// write emits n bits of v, LSB first, packed into 6-bit alphabet chars.
func (w *bitWriter) write(v, n int) {
	for i := 0; i < n; i++ {
		w.val = (w.val << 1) | (v & 1)
		v >>= 1
		w.pos++
		if w.pos == 6 {
			w.out.WriteByte(w.alphabet[w.val])
			w.val = 0
			w.pos = 0
		}
	}
}

func (w *bitWriter) flush() string {
	for w.pos != 0 {
		w.write(0, 1)
	}
	return w.out.String()
}

type bitReader struct {
	alphabet string
	data     string
	idx      int
	val      int
	pos      int
}

// read collects n bits, LSB first.
func (r *bitReader) read(n int) int {
	out := 0
	for i := 0; i < n; i++ {
		if r.pos == 0 {
			if r.idx >= len(r.data) {
				return -1
			}
			r.val = strings.IndexByte(r.alphabet, r.data[r.idx])
			r.idx++
			r.pos = 32
		}
		bit := 0
		if r.val&r.pos != 0 {
			bit = 1
		}
		r.pos >>= 1
		out |= bit << i
	}
	return out
}

// Compress encodes s with the LZ-String dictionary scheme.
func (c *lzCodec) Compress(s string) string {
	if s == "" {
		return ""
	}

	dict := make(map[string]int)
	pending := make(map[string]bool)
	numBits := 2
	enlargeIn := 2
	dictSize := 3
	w := &bitWriter{alphabet: c.alphabet}

	bump := func() {
		enlargeIn--
		if enlargeIn == 0 {
			enlargeIn = 1 << numBits
			numBits++
		}
	}

	emit := func(word string) {
		if pending[word] {
			code := int(word[0])
			if code < 256 {
				w.write(0, numBits)
				w.write(code, 8)
			} else {
				w.write(1, numBits)
				w.write(code, 16)
			}
			bump()
			delete(pending, word)
		} else {
			w.write(dict[word], numBits)
		}
		bump()
	}

	word := ""
	for i := 0; i < len(s); i++ {
		ch := s[i : i+1]
		if _, ok := dict[ch]; !ok {
			dict[ch] = dictSize
			dictSize++
			pending[ch] = true
		}

		joined := word + ch
		if _, ok := dict[joined]; ok {
			word = joined
			continue
		}
		emit(word)
		dict[joined] = dictSize
		dictSize++
		word = ch
	}

	if word != "" {
		emit(word)
	}
	w.write(2, numBits)
	return w.flush()
}

// Decompress is the inverse of Compress; it returns "" on malformed
// input.
func (c *lzCodec) Decompress(s string) string {
	if s == "" {
		return ""
	}

	r := &bitReader{alphabet: c.alphabet, data: s}
	// Prime the reader the way the writer packs: 6 bits per char, but the
	// reader walks a 32-weighted window down to the packed width.
	r.val = strings.IndexByte(c.alphabet, s[0])
	r.idx = 1
	r.pos = 32

	readEntry := func(width int) string {
		code := r.read(width)
		if code < 0 {
			return ""
		}
		if width == 8 {
			return string([]byte{byte(code)})
		}
		return string(rune(code))
	}

	var dictionary []string
	for i := 0; i < 3; i++ {
		dictionary = append(dictionary, string(rune(i)))
	}
	numBits := 3
	enlargeIn := 4

	var result strings.Builder
	var entry string

	first := r.read(2)
	var word string
	switch first {
	case 0:
		word = readEntry(8)
	case 1:
		word = readEntry(16)
	default:
		return ""
	}
	dictionary = append(dictionary, word)
	result.WriteString(word)

	for {
		code := r.read(numBits)
		if code < 0 {
			return ""
		}

		switch code {
		case 0:
			dictionary = append(dictionary, readEntry(8))
			code = len(dictionary) - 1
			enlargeIn--
		case 1:
			dictionary = append(dictionary, readEntry(16))
			code = len(dictionary) - 1
			enlargeIn--
		case 2:
			return result.String()
		}

		if enlargeIn == 0 {
			enlargeIn = 1 << numBits
			numBits++
		}

		switch {
		case code < len(dictionary):
			entry = dictionary[code]
		case code == len(dictionary):
			entry = word + word[:1]
		default:
			return ""
		}

		result.WriteString(entry)
		dictionary = append(dictionary, word+entry[:1])
		enlargeIn--
		if enlargeIn == 0 {
			enlargeIn = 1 << numBits
			numBits++
		}
		word = entry
	}
}
