package rule

import (
	"context"

	"mquery/internal/core/index"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"
)

// ProbeSpec is one index lookup for one variant of one string
type ProbeSpec struct {
	String  string       `json:"string"`
	Variant Variant      `json:"variant"`
	Scheme  index.Scheme `json:"scheme"`
	Keys    []uint32     `json:"-"`
}

// Plan holds the probes for a rule over a set of schemes
type Plan struct {
	Rule   *Rule
	Probes []ProbeSpec
}

// PlanProbes derives the probes for r. Every wildcard-free fragment of every
// variant contributes keys for each scheme that can narrow it. A nil
// schemes list plans for every scheme
func PlanProbes(r *Rule, schemes []index.Scheme) *Plan {
	if schemes == nil {
		schemes = index.AllSchemes()
	}
	p := &Plan{Rule: r}
	for _, s := range r.Strings {
		for _, f := range s.forms {
			for _, frag := range f.fragments() {
				for _, pr := range index.PlanPattern(schemes, frag, s.Nocase) {
					p.Probes = append(p.Probes, ProbeSpec{String: s.Name, Variant: f.variant, Scheme: pr.Scheme, Keys: pr.Keys})
				}
			}
		}
	}
	return p
}

type variantKey struct {
	str     string
	variant Variant
}

// Candidates resolves the plan against one dataset. Lookups run in
// parallel; the results combine per the condition tree so the returned
// set is a superset of the files that can satisfy the rule
func (p *Plan) Candidates(ctx context.Context, r index.Reader) (*roaring.Bitmap, error) {
	results := make([]*roaring.Bitmap, len(p.Probes))
	g, _ := errgroup.WithContext(ctx)
	for i, ps := range p.Probes {
		g.Go(func() error {
			bm, ok, err := index.Lookup(r, index.Probe{Scheme: ps.Scheme, Keys: ps.Keys})
			if ok {
				results[i] = bm
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all := index.All(r)
	narrowed := map[variantKey]*roaring.Bitmap{}
	for i, ps := range p.Probes {
		if results[i] == nil {
			continue
		}
		k := variantKey{ps.String, ps.Variant}
		if cur, ok := narrowed[k]; ok {
			cur.And(results[i])
		} else {
			narrowed[k] = results[i]
		}
	}

	perString := make(map[string]*roaring.Bitmap, len(p.Rule.Strings))
	for _, s := range p.Rule.Strings {
		var parts []*roaring.Bitmap
		for _, f := range s.forms {
			bm, ok := narrowed[variantKey{s.Name, f.variant}]
			if !ok {
				bm = all
			}
			parts = append(parts, bm)
		}
		perString[s.Name] = roaring.FastOr(parts...)
	}
	return combine(p.Rule.Cond, perString, all), nil
}

func combine(n Node, sets map[string]*roaring.Bitmap, all *roaring.Bitmap) *roaring.Bitmap {
	switch n := n.(type) {
	case Ref:
		return sets[n.Name].Clone()
	case And:
		return roaring.And(combine(n.L, sets, all), combine(n.R, sets, all))
	case Or:
		return roaring.Or(combine(n.L, sets, all), combine(n.R, sets, all))
	case Bool:
		if n.V {
			return all.Clone()
		}
		return roaring.New()
	case OfSet:
		switch {
		case n.K <= 0:
			return all.Clone()
		case n.K > len(n.Names):
			return roaring.New()
		}
		parts := make([]*roaring.Bitmap, len(n.Names))
		for i, name := range n.Names {
			parts[i] = sets[name]
		}
		if n.K == len(n.Names) {
			return roaring.FastAnd(parts...)
		}
		return roaring.FastOr(parts...)
	}
	// Not and anything unknown cannot narrow
	return all.Clone()
}

// Summary is the dry-run view of a compiled rule
type Summary struct {
	Rule    string          `json:"rule"`
	Tags    []string        `json:"tags,omitempty"`
	Meta    map[string]any  `json:"meta,omitempty"`
	Strings []StringSummary `json:"strings"`
	Probes  []ProbeSummary  `json:"probes"`
}

// StringSummary describes one string of a Summary
type StringSummary struct {
	Name     string    `json:"name"`
	Variants []Variant `json:"variants"`
	Nocase   bool      `json:"nocase,omitempty"`
	Narrowed bool      `json:"narrowed"`
}

// ProbeSummary describes one probe of a Summary
type ProbeSummary struct {
	ProbeSpec
	KeyCount int `json:"key_count"`
}

// Summary reports what the plan will look up
func (p *Plan) Summary() Summary {
	out := Summary{Rule: p.Rule.Name, Tags: p.Rule.Tags, Meta: p.Rule.Meta}
	narrowed := map[string]bool{}
	for _, ps := range p.Probes {
		narrowed[ps.String] = true
		out.Probes = append(out.Probes, ProbeSummary{ProbeSpec: ps, KeyCount: len(ps.Keys)})
	}
	for _, s := range p.Rule.Strings {
		out.Strings = append(out.Strings, StringSummary{
			Name:     "$" + s.Name,
			Variants: s.Variants(),
			Nocase:   s.Nocase,
			Narrowed: narrowed[s.Name],
		})
	}
	return out
}
