// Package index derives n-gram keys from file bytes and answers which files
// of an immutable segment may contain a byte pattern
package index

import (
	"fmt"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring"
)

// Scheme names one way of deriving 24-bit keys from bytes
type Scheme string

const (
	// Gram3 keys every 3-byte window
	Gram3 Scheme = "gram3"
	// Text4 keys 4-byte windows made only of text bytes
	Text4 Scheme = "text4"
	// Hash4 keys a 24-bit hash of every 4-byte window
	Hash4 Scheme = "hash4"
	// Wide8 keys UTF-16LE text: 8-byte windows shaped t 0 t 0 t 0 t 0
	Wide8 Scheme = "wide8"
)

// AllSchemes returns every known scheme in canonical order
func AllSchemes() []Scheme { return []Scheme{Gram3, Text4, Hash4, Wide8} }

// ParseScheme resolves a case-insensitive scheme name
func ParseScheme(s string) (Scheme, error) {
	sc := Scheme(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(AllSchemes(), sc) {
		return sc, nil
	}
	return "", fmt.Errorf("unknown index scheme %q", s)
}

// ParseSchemes resolves names, dropping duplicates and sorting canonically
func ParseSchemes(names []string) ([]Scheme, error) {
	seen := map[Scheme]bool{}
	for _, n := range names {
		sc, err := ParseScheme(n)
		if err != nil {
			return nil, err
		}
		seen[sc] = true
	}
	var out []Scheme
	for _, sc := range AllSchemes() {
		if seen[sc] {
			out = append(out, sc)
		}
	}
	return out, nil
}

// Width is the number of pattern bytes one key covers
func (s Scheme) Width() int {
	switch s {
	case Gram3:
		return 3
	case Text4, Hash4:
		return 4
	case Wide8:
		return 8
	}
	return 0
}

// FileKeys returns the distinct keys of data
func (s Scheme) FileKeys(data []byte) *roaring.Bitmap {
	bm := roaring.New()
	s.each(data, false, func(k uint32) { bm.Add(k) })
	return bm
}

// QueryKeys returns the distinct keys a file must hold to contain pattern.
// When caseless is set, windows holding ASCII letters are skipped since
// their key depends on case. An empty result means the scheme cannot
// narrow pattern
func (s Scheme) QueryKeys(pattern []byte, caseless bool) []uint32 {
	var out []uint32
	s.each(pattern, caseless, func(k uint32) { out = append(out, k) })
	slices.Sort(out)
	return slices.Compact(out)
}

func (s Scheme) each(b []byte, caseless bool, emit func(uint32)) {
	w := s.Width()
	for i := 0; i+w <= len(b); i++ {
		win := b[i : i+w]
		if caseless && hasLetter(win) {
			continue
		}
		switch s {
		case Gram3:
			emit(uint32(win[0])<<16 | uint32(win[1])<<8 | uint32(win[2]))
		case Text4:
			if k, ok := textKey(win); ok {
				emit(k)
			}
		case Hash4:
			emit(hash24(win))
		case Wide8:
			if win[1] != 0 || win[3] != 0 || win[5] != 0 || win[7] != 0 {
				continue
			}
			if k, ok := textKey([]byte{win[0], win[2], win[4], win[6]}); ok {
				emit(k)
			}
		}
	}
}

// text bytes map to 6-bit codes: 0-9, A-Z, a-z, space and newline
var textCode = func() (t [256]int8) {
	for i := range t {
		t[i] = -1
	}
	n := int8(0)
	for _, r := range "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz \n" {
		t[r] = n
		n++
	}
	return t
}()

// IsText reports whether b belongs to the text4 alphabet
func IsText(b byte) bool { return textCode[b] >= 0 }

func textKey(win []byte) (uint32, bool) {
	var k uint32
	for _, c := range win {
		code := textCode[c]
		if code < 0 {
			return 0, false
		}
		k = k<<6 | uint32(code)
	}
	return k, true
}

// hash24 is FNV-1a folded to 24 bits
func hash24(win []byte) uint32 {
	h := uint32(2166136261)
	for _, c := range win {
		h ^= uint32(c)
		h *= 16777619
	}
	return (h >> 24) ^ (h & 0xffffff)
}

func hasLetter(win []byte) bool {
	for _, c := range win {
		if c|0x20 >= 'a' && c|0x20 <= 'z' {
			return true
		}
	}
	return false
}
