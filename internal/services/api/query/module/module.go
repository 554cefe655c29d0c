// Package module mounts the query api
package module

import (
	"net/http"

	"mquery/internal/modkit"
	"mquery/internal/modkit/httpkit"
	qhttp "mquery/internal/services/api/query/http"
	dom "mquery/internal/services/jobs/domain"
)

// Ports the query api needs
type Ports struct {
	Jobs dom.Service
}

// Module implements modkit.Module
type Module struct {
	name   string
	prefix string
	mws    []func(http.Handler) http.Handler
	jobs   dom.Service
}

// New constructs the module; WithPorts must carry Ports
func New(_ modkit.Deps, opts ...modkit.Option) *Module {
	b := modkit.Build(append([]modkit.Option{modkit.WithName("query")}, opts...)...)
	p, ok := b.Ports.(Ports)
	if !ok || p.Jobs == nil {
		panic("query api module requires Ports{Jobs}")
	}
	return &Module{name: b.Name, prefix: b.Prefix, mws: b.Mw, jobs: p.Jobs}
}

// MountRoutes implements modkit.Module
func (m *Module) MountRoutes(r httpkit.Router) {
	httpkit.MountUnder(r, m.prefix, m.mws, func(rr httpkit.Router) {
		qhttp.Register(rr, m.jobs)
	})
}

// Name implements modkit.Module
func (m *Module) Name() string { return m.name }

// Ports implements modkit.Module
func (m *Module) Ports() any { return nil }
