// Package module wires the dataset catalog and ingestion pipeline
package module

import (
	"mquery/internal/modkit"
	"mquery/internal/modkit/httpkit"
	dom "mquery/internal/services/datasets/domain"
	"mquery/internal/services/datasets/repo"
	"mquery/internal/services/datasets/service"
)

// Ports exposed by the datasets module
type Ports struct {
	Service dom.Service
	Repo    dom.Repo
}

// Module implements modkit.Module
type Module struct {
	name  string
	ports Ports
}

// New builds the module over deps.KV. WithPorts may carry a domain.Tracker
// that hears about commits and deletions
func New(deps modkit.Deps, opts ...modkit.Option) *Module {
	b := modkit.Build(opts...)
	if deps.KV == nil {
		panic("datasets module: deps.KV is required")
	}
	tracker, _ := b.Ports.(dom.Tracker)

	o := FromConfig(deps.Cfg)
	r := repo.NewBadger(deps.KV)
	svc := service.New(r, tracker, service.Config{
		Recursive:    o.Recursive,
		Workers:      o.Workers,
		MaxFileBytes: o.MaxFileBytes,
	})
	return &Module{name: b.NameOr("datasets"), ports: Ports{Service: svc, Repo: r}}
}

// Name satisfies modkit.Module
func (m *Module) Name() string { return m.name }

// Ports satisfies modkit.Module
func (m *Module) Ports() any { return m.ports }

// MountRoutes satisfies modkit.Module; dataset routes live in the api index module
func (m *Module) MountRoutes(httpkit.Router) {}
