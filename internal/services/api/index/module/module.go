// Package module mounts the dataset and taint api
package module

import (
	"net/http"

	"mquery/internal/modkit"
	"mquery/internal/modkit/httpkit"
	ihttp "mquery/internal/services/api/index/http"
)

// Module implements modkit.Module
type Module struct {
	name   string
	prefix string
	mws    []func(http.Handler) http.Handler
	deps   ihttp.Deps
}

// New constructs the module; WithPorts must carry ihttp.Deps
func New(_ modkit.Deps, opts ...modkit.Option) *Module {
	b := modkit.Build(append([]modkit.Option{modkit.WithName("index")}, opts...)...)
	d, ok := b.Ports.(ihttp.Deps)
	if !ok || d.Datasets == nil || d.Taints == nil {
		panic("index api module requires Deps{Datasets, Taints}")
	}
	return &Module{name: b.Name, prefix: b.Prefix, mws: b.Mw, deps: d}
}

// MountRoutes implements modkit.Module
func (m *Module) MountRoutes(r httpkit.Router) {
	httpkit.MountUnder(r, m.prefix, m.mws, func(rr httpkit.Router) {
		ihttp.Register(rr, m.deps)
	})
}

// Name implements modkit.Module
func (m *Module) Name() string { return m.name }

// Ports implements modkit.Module
func (m *Module) Ports() any { return nil }
