package rule

import (
	"bytes"
	"io"
	"os"
	"slices"

	perr "mquery/internal/platform/errors"
)

// MaxOffsets caps the offsets reported per string
const MaxOffsets = 64

// Result is the outcome of confirming one file
type Result struct {
	Matched bool
	// Offsets maps "$name" to ascending match offsets of strings that occur
	Offsets map[string][]int
}

// Confirm evaluates r exactly against data. It is a pure function of r and data
func (r *Rule) Confirm(data []byte) Result {
	hay := string(data)
	found := make(map[string][]int, len(r.Strings))
	for _, s := range r.Strings {
		if offs := s.locate(data, hay); len(offs) > 0 {
			found[s.Name] = offs
		}
	}
	ok := Eval(r.Cond, func(name string) bool { return len(found[name]) > 0 })
	res := Result{Matched: ok}
	if ok && len(found) > 0 {
		res.Offsets = make(map[string][]int, len(found))
		for name, offs := range found {
			res.Offsets["$"+name] = offs
		}
	}
	return res
}

// ConfirmFile reads path, capped at maxBytes when positive, and confirms it.
// Read failures are EvaluationErrors
func (r *Rule) ConfirmFile(path string, maxBytes int64) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, perr.Wrapf(err, perr.ErrorCodeEvaluation, "open candidate %s", path)
	}
	defer f.Close()

	var src io.Reader = f
	if maxBytes > 0 {
		src = io.LimitReader(f, maxBytes)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return Result{}, perr.Wrapf(err, perr.ErrorCodeEvaluation, "read candidate %s", path)
	}
	return r.Confirm(data), nil
}

func (s *String) locate(data []byte, hay string) []int {
	var offs []int
	if s.matcher != nil {
		for _, m := range s.matcher.FindAll(hay) {
			offs = append(offs, m.Start())
		}
	}
	for _, f := range s.forms {
		if !f.literal() {
			offs = append(offs, maskedScan(f, data, MaxOffsets)...)
		}
	}
	slices.Sort(offs)
	offs = slices.Compact(offs)
	if len(offs) > MaxOffsets {
		offs = offs[:MaxOffsets]
	}
	return offs
}

// maskedScan finds f by anchoring on its longest fragment and checking the
// masked bytes around each anchor hit
func maskedScan(f form, data []byte, limit int) []int {
	anchor, at := longestFragment(f)
	var out []int
	for from := 0; len(out) < limit; {
		i := bytes.Index(data[from:], anchor)
		if i < 0 {
			break
		}
		hit := from + i
		start := hit - at
		if start >= 0 && start+len(f.bytes) <= len(data) && maskEqual(f, data[start:start+len(f.bytes)]) {
			out = append(out, start)
		}
		from = hit + 1
	}
	return out
}

func longestFragment(f form) (frag []byte, at int) {
	start := -1
	for i := 0; i <= len(f.mask); i++ {
		fixed := i < len(f.mask) && f.mask[i]
		if fixed && start < 0 {
			start = i
		}
		if !fixed && start >= 0 {
			if i-start > len(frag) {
				frag, at = f.bytes[start:i], start
			}
			start = -1
		}
	}
	return frag, at
}

func maskEqual(f form, window []byte) bool {
	for i, fixed := range f.mask {
		if fixed && window[i] != f.bytes[i] {
			return false
		}
	}
	return true
}
