package index

import (
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring"
)

// Reader is the read side of one committed dataset. Implementations must
// be safe for concurrent use
type Reader interface {
	// FileCount is the number of file ordinals, ordinals run 0..FileCount-1
	FileCount() int
	// HasScheme reports whether the dataset was built with s
	HasScheme(s Scheme) bool
	// Postings returns the files holding key. A nil bitmap means none
	Postings(s Scheme, key uint32) (*roaring.Bitmap, error)
}

// Builder accumulates postings for one dataset. It is not safe for
// concurrent use; ingestion computes keys in parallel and adds serially
type Builder struct {
	schemes  []Scheme
	files    []string
	postings map[Scheme]map[uint32]*roaring.Bitmap
}

// NewBuilder returns a Builder for schemes
func NewBuilder(schemes []Scheme) *Builder {
	b := &Builder{
		schemes:  slices.Clone(schemes),
		postings: make(map[Scheme]map[uint32]*roaring.Bitmap, len(schemes)),
	}
	for _, s := range schemes {
		b.postings[s] = map[uint32]*roaring.Bitmap{}
	}
	return b
}

// FileKeys computes every scheme's keys for data. Safe to call concurrently
func FileKeys(schemes []Scheme, data []byte) map[Scheme]*roaring.Bitmap {
	out := make(map[Scheme]*roaring.Bitmap, len(schemes))
	for _, s := range schemes {
		out[s] = s.FileKeys(data)
	}
	return out
}

// Add registers path with precomputed keys and returns its ordinal
func (b *Builder) Add(path string, keys map[Scheme]*roaring.Bitmap) uint32 {
	ord := uint32(len(b.files))
	b.files = append(b.files, path)
	for s, ks := range keys {
		post, ok := b.postings[s]
		if !ok {
			continue
		}
		it := ks.Iterator()
		for it.HasNext() {
			k := it.Next()
			bm := post[k]
			if bm == nil {
				bm = roaring.New()
				post[k] = bm
			}
			bm.Add(ord)
		}
	}
	return ord
}

// Len is the number of files added so far
func (b *Builder) Len() int { return len(b.files) }

// Seal freezes the builder into a Segment. The builder must not be used after
func (b *Builder) Seal() *Segment {
	for _, post := range b.postings {
		for _, bm := range post {
			bm.RunOptimize()
		}
	}
	s := &Segment{files: b.files, schemes: b.schemes, postings: b.postings}
	b.files, b.postings = nil, nil
	return s
}

// Segment is an immutable in-memory dataset index
type Segment struct {
	files    []string
	schemes  []Scheme
	postings map[Scheme]map[uint32]*roaring.Bitmap
}

// Files returns the ordinal to path table
func (s *Segment) Files() []string { return s.files }

// Schemes returns the schemes the segment was built with
func (s *Segment) Schemes() []Scheme { return s.schemes }

// FileCount implements Reader
func (s *Segment) FileCount() int { return len(s.files) }

// HasScheme implements Reader
func (s *Segment) HasScheme(sc Scheme) bool { return slices.Contains(s.schemes, sc) }

// Postings implements Reader
func (s *Segment) Postings(sc Scheme, key uint32) (*roaring.Bitmap, error) {
	post, ok := s.postings[sc]
	if !ok {
		return nil, fmt.Errorf("segment has no %s postings", sc)
	}
	return post[key], nil
}

// Each calls fn for every posting list of the segment, stopping at the
// first error
func (s *Segment) Each(fn func(sc Scheme, key uint32, files *roaring.Bitmap) error) error {
	for _, sc := range s.schemes {
		for k, bm := range s.postings[sc] {
			if err := fn(sc, k, bm); err != nil {
				return err
			}
		}
	}
	return nil
}

// All returns a bitmap of every ordinal in r
func All(r Reader) *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, uint64(r.FileCount()))
	return bm
}
