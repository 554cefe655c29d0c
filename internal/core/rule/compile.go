// Package rule compiles the YARA subset the query engine accepts, plans index
// probes for it and confirms candidate files exactly
package rule

import (
	"strings"
	"unicode/utf8"

	ac "github.com/petar-dambovaliev/aho-corasick"
	"golang.org/x/text/encoding/unicode"
)

// Variant is one byte form a string is searched in
type Variant string

const (
	// ASCII is the string's bytes as written
	ASCII Variant = "ascii"
	// Wide is the UTF-16LE form
	Wide Variant = "wide"
	// Hex is a hex string, possibly with wildcards
	Hex Variant = "hex"
)

// String is one compiled string definition
type String struct {
	Name   string
	Nocase bool

	forms []form
	// matcher finds every literal form; nil when all forms are masked
	matcher *ac.AhoCorasick
}

// form is one searchable variant. mask[i] false marks a ?? wildcard byte
type form struct {
	variant Variant
	bytes   []byte
	mask    []bool
}

func (f form) literal() bool { return f.mask == nil }

// fragments are the maximal wildcard-free runs of f
func (f form) fragments() [][]byte {
	if f.literal() {
		return [][]byte{f.bytes}
	}
	var out [][]byte
	start := -1
	for i, fixed := range f.mask {
		switch {
		case fixed && start < 0:
			start = i
		case !fixed && start >= 0:
			out = append(out, f.bytes[start:i])
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, f.bytes[start:])
	}
	return out
}

// Variants lists the forms s is searched in
func (s *String) Variants() []Variant {
	out := make([]Variant, len(s.forms))
	for i, f := range s.forms {
		out[i] = f.variant
	}
	return out
}

// Rule is a compiled rule. It is immutable and safe for concurrent use
type Rule struct {
	Name    string
	Tags    []string
	Meta    map[string]any
	Strings []*String
	Cond    Node

	source string
}

// Source returns the text the rule was compiled from
func (r *Rule) Source() string { return r.source }

// Compile parses text into a Rule. Every failure is a ParseError carrying
// line and column
func Compile(text string) (*Rule, error) {
	a, err := parse(text)
	if err != nil {
		return nil, err
	}
	r := &Rule{Name: a.name, Tags: a.tags, Meta: a.meta, Cond: a.cond, source: text}
	for _, def := range a.strings {
		s, err := compileString(def)
		if err != nil {
			return nil, err
		}
		r.Strings = append(r.Strings, s)
	}
	return r, nil
}

func compileString(def stringDef) (*String, error) {
	s := &String{Name: def.name, Nocase: def.mods["nocase"]}
	if def.hex {
		f, err := parseHex(def)
		if err != nil {
			return nil, err
		}
		s.forms = []form{f}
	} else {
		if def.raw == "" {
			return nil, errorAt(def.pos, "string $%s is empty", def.name)
		}
		raw := []byte(def.raw)
		if def.mods["ascii"] || !def.mods["wide"] {
			s.forms = append(s.forms, form{variant: ASCII, bytes: raw})
		}
		if def.mods["wide"] {
			s.forms = append(s.forms, form{variant: Wide, bytes: widen(raw)})
		}
	}

	var lits []string
	for _, f := range s.forms {
		if f.literal() {
			lits = append(lits, string(f.bytes))
		}
	}
	if len(lits) > 0 {
		bld := ac.NewAhoCorasickBuilder(ac.Opts{
			AsciiCaseInsensitive: s.Nocase,
			MatchKind:            ac.LeftMostLongestMatch,
		})
		m := bld.Build(lits)
		s.matcher = &m
	}
	return s, nil
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// widen returns the UTF-16LE form of b. Valid UTF-8 is transcoded, so "é"
// becomes e9 00 rather than YARA's byte-wise c3 00 a9 00. Input that is not
// valid UTF-8 is zero-extended byte by byte, as YARA does
func widen(b []byte) []byte {
	if utf8.Valid(b) {
		if out, err := utf16le.NewEncoder().Bytes(b); err == nil {
			return out
		}
	}
	out := make([]byte, 0, 2*len(b))
	for _, c := range b {
		out = append(out, c, 0)
	}
	return out
}

func parseHex(def stringDef) (form, error) {
	body := strings.Join(strings.Fields(def.raw), "")
	if body == "" {
		return form{}, errorAt(def.pos, "hex string $%s is empty", def.name)
	}
	if len(body)%2 != 0 {
		return form{}, errorAt(def.pos, "hex string $%s has an odd number of digits", def.name)
	}
	f := form{variant: Hex, bytes: make([]byte, 0, len(body)/2), mask: make([]bool, 0, len(body)/2)}
	wild := false
	for i := 0; i < len(body); i += 2 {
		pair := body[i : i+2]
		if pair == "??" {
			f.bytes = append(f.bytes, 0)
			f.mask = append(f.mask, false)
			wild = true
			continue
		}
		hi, ok1 := unhex(pair[0])
		lo, ok2 := unhex(pair[1])
		if !ok1 || !ok2 {
			return form{}, errorAt(def.pos, "hex string $%s: invalid byte %q", def.name, pair)
		}
		f.bytes = append(f.bytes, hi<<4|lo)
		f.mask = append(f.mask, true)
	}
	if !wild {
		f.mask = nil
		return f, nil
	}
	if !f.mask[0] || !f.mask[len(f.mask)-1] {
		return form{}, errorAt(def.pos, "hex string $%s cannot start or end with a wildcard", def.name)
	}
	return f, nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c|0x20 >= 'a' && c|0x20 <= 'f':
		return c|0x20 - 'a' + 10, true
	}
	return 0, false
}
