package modkit

import "net/http"

// Built is the resolved option set a module reads in its constructor
type Built struct {
	Name   string
	Prefix string
	Mw     []func(http.Handler) http.Handler
	Ports  any
}

// Build applies opts in order
func Build(opts ...Option) Built {
	var c buildCfg
	for _, o := range opts {
		o(&c)
	}
	return Built{
		Name:   c.name,
		Prefix: c.prefix,
		Mw:     append([]func(http.Handler) http.Handler(nil), c.mw...),
		Ports:  c.ports,
	}
}

// NameOr returns b.Name or def when unset
func (b Built) NameOr(def string) string {
	if b.Name == "" {
		return def
	}
	return b.Name
}
