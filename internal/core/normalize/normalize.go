// Package normalize canonicalises taint labels so that visually identical
// labels compare equal.
// Pipeline order
// 1 UTF-8 repair drop invalid bytes
// 2 Unicode NFC composition
// 3 Remove format characters (ZWSP ZWJ ZWNJ BOM)
// 4 Trim surrounding whitespace
// Case is kept: "Prod" and "prod" are different labels
package normalize

import (
	"slices"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// pool of fresh transformer chains
var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFC,
			runes.Remove(runes.In(unicode.Cf)),
		)
	},
}

// Label returns the canonical form of s, "" when nothing printable remains
func Label(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")

	tr := chainPool.Get().(transform.Transformer)
	ns, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		ns = s
	}
	return strings.TrimSpace(ns)
}

// LabelPtr canonicalises *p, keeping nil as nil
func LabelPtr(p *string) *string {
	if p == nil {
		return nil
	}
	l := Label(*p)
	return &l
}

// Labels canonicalises xs, drops blanks, dedupes and sorts. The result is
// a new non-nil slice
func Labels(xs []string) []string {
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if x = Label(x); x != "" {
			out = append(out, x)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
