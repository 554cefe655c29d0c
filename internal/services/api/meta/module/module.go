// Package module wires meta endpoints into the API using a tiny module
package module

import (
	"net/http"
	"time"

	"mquery/internal/modkit"
	"mquery/internal/modkit/httpkit"
	metahttp "mquery/internal/services/api/meta/http"
)

// Module implements the modkit.Module interface
type Module struct {
	name   string
	prefix string
	mws    []func(http.Handler) http.Handler
	deps   metahttp.Deps
}

// New constructs the meta module. WithPorts carries the metahttp.Deps pingers
func New(_ modkit.Deps, opts ...modkit.Option) *Module {
	b := modkit.Build(append([]modkit.Option{
		modkit.WithName("meta"),
		modkit.WithPrefix("/api/meta"),
	}, opts...)...)

	d, _ := b.Ports.(metahttp.Deps)
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now()
	}
	return &Module{name: b.Name, prefix: b.Prefix, mws: b.Mw, deps: d}
}

// MountRoutes implements the modkit.Module interface
func (m *Module) MountRoutes(r httpkit.Router) {
	httpkit.MountUnder(r, m.prefix, m.mws, func(rr httpkit.Router) {
		metahttp.Register(rr, m.deps)
	})
}

// Name implements the modkit.Module interface
func (m *Module) Name() string { return m.name }

// Ports implements the modkit.Module interface
func (m *Module) Ports() any { return nil }
