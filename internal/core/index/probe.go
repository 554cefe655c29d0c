package index

import (
	"github.com/RoaringBitmap/roaring"
)

// Probe is one scheme lookup: every key must be present in a candidate
type Probe struct {
	Scheme Scheme
	Keys   []uint32
}

// Lookup intersects the postings of every key of p. ok is false when r
// lacks the scheme or p has no keys, in which case p cannot narrow
func Lookup(r Reader, p Probe) (bm *roaring.Bitmap, ok bool, err error) {
	if len(p.Keys) == 0 || !r.HasScheme(p.Scheme) {
		return nil, false, nil
	}
	var acc *roaring.Bitmap
	for _, k := range p.Keys {
		post, err := r.Postings(p.Scheme, k)
		if err != nil {
			return nil, false, err
		}
		if post == nil || post.IsEmpty() {
			return roaring.New(), true, nil
		}
		if acc == nil {
			acc = post.Clone()
			continue
		}
		acc.And(post)
		if acc.IsEmpty() {
			break
		}
	}
	return acc, true, nil
}

// Candidates intersects the narrowing probes of one pattern. With no
// narrowing probe every file of r is a candidate
func Candidates(r Reader, probes []Probe) (*roaring.Bitmap, error) {
	var acc *roaring.Bitmap
	for _, p := range probes {
		bm, ok, err := Lookup(r, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if acc == nil {
			acc = bm
		} else {
			acc.And(bm)
		}
		if acc.IsEmpty() {
			return acc, nil
		}
	}
	if acc == nil {
		return All(r), nil
	}
	return acc, nil
}

// PlanPattern returns the probes for pattern over schemes, one per scheme
// that yields keys
func PlanPattern(schemes []Scheme, pattern []byte, caseless bool) []Probe {
	var out []Probe
	for _, s := range schemes {
		if keys := s.QueryKeys(pattern, caseless); len(keys) > 0 {
			out = append(out, Probe{Scheme: s, Keys: keys})
		}
	}
	return out
}
