package rule

// Node is one condition tree node: Ref, And, Or, Not, OfSet or Bool
type Node interface {
	eval(present func(name string) bool) bool
}

// Ref is true when the named string occurs
type Ref struct{ Name string }

// And is true when both sides are
type And struct{ L, R Node }

// Or is true when either side is
type Or struct{ L, R Node }

// Not negates X
type Not struct{ X Node }

// OfSet is true when at least K of Names occur. "all of" sets K to len(Names)
type OfSet struct {
	K     int
	Names []string
}

// Bool is a constant
type Bool struct{ V bool }

func (n Ref) eval(p func(string) bool) bool  { return p(n.Name) }
func (n And) eval(p func(string) bool) bool  { return n.L.eval(p) && n.R.eval(p) }
func (n Or) eval(p func(string) bool) bool   { return n.L.eval(p) || n.R.eval(p) }
func (n Not) eval(p func(string) bool) bool  { return !n.X.eval(p) }
func (n Bool) eval(func(string) bool) bool   { return n.V }
func (n OfSet) eval(p func(string) bool) bool {
	hits := 0
	for _, name := range n.Names {
		if p(name) {
			hits++
			if hits >= n.K {
				return true
			}
		}
	}
	return hits >= n.K
}

// Eval evaluates n given which strings occur
func Eval(n Node, present func(name string) bool) bool { return n.eval(present) }
