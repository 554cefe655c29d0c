// Package module wires the query job engine
package module

import (
	"context"
	"time"

	"mquery/internal/modkit"
	"mquery/internal/modkit/httpkit"
	dom "mquery/internal/services/jobs/domain"
	"mquery/internal/services/jobs/repo"
	"mquery/internal/services/jobs/service"
)

// Needs are the ports the engine consumes, passed with modkit.WithPorts
type Needs struct {
	Datasets service.Datasets
	Taints   service.Snapshotter
}

// Ports exposed by the jobs module
type Ports struct {
	Service dom.Service
}

// Module implements modkit.Module and owns the engine lifecycle
type Module struct {
	name   string
	engine *service.Engine
}

// New builds the store and starts the engine workers. JOBS_STORE=pg needs deps.PG
func New(deps modkit.Deps, opts ...modkit.Option) *Module {
	b := modkit.Build(opts...)
	needs, ok := b.Ports.(Needs)
	if !ok || needs.Datasets == nil || needs.Taints == nil {
		panic("jobs module requires Needs{Datasets, Taints} ports")
	}
	o := FromConfig(deps.Cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var store dom.Store = repo.NewMemory()
	if o.Store == "pg" {
		if deps.PG == nil {
			panic("jobs module: JOBS_STORE=pg but postgres is not configured")
		}
		pg := repo.NewPG(deps.PG)
		if err := pg.EnsureSchema(ctx); err != nil {
			panic(err)
		}
		store = pg
	}

	eng := service.New(store, needs.Datasets, needs.Taints, service.Config{
		Workers:            o.Workers,
		ConfirmParallelism: o.ConfirmParallelism,
		MaxFileBytes:       o.MaxFileBytes,
		Retention:          o.Retention,
	})
	if err := eng.Start(ctx); err != nil {
		panic(err)
	}
	return &Module{name: b.NameOr("jobs"), engine: eng}
}

// Close stops the engine
func (m *Module) Close() { m.engine.Close() }

// Name satisfies modkit.Module
func (m *Module) Name() string { return m.name }

// Ports satisfies modkit.Module
func (m *Module) Ports() any { return Ports{Service: m.engine} }

// MountRoutes satisfies modkit.Module; job routes live in the api query module
func (m *Module) MountRoutes(httpkit.Router) {}
