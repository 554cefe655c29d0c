// Package module wires the taint registry
package module

import (
	"context"
	"time"

	"mquery/internal/modkit"
	"mquery/internal/modkit/httpkit"
	dsrepo "mquery/internal/services/datasets/repo"
	dom "mquery/internal/services/taints/domain"
	"mquery/internal/services/taints/service"
)

// Ports exposed by the taints module
type Ports struct {
	Registry dom.Registry
	// Tracker is handed to the datasets module
	Tracker *service.Registry
}

// Module implements modkit.Module
type Module struct {
	name  string
	ports Ports
}

// New builds the registry over the dataset records in deps.KV and loads it
func New(deps modkit.Deps, opts ...modkit.Option) *Module {
	b := modkit.Build(opts...)
	if deps.KV == nil {
		panic("taints module: deps.KV is required")
	}

	raw := deps.Cfg.Prefix("JOBS_").MayEnum("NO_TAINT_POLICY", string(dom.PolicyAll), string(dom.PolicyAll), string(dom.PolicyUntainted))
	policy, err := dom.ParsePolicy(raw)
	if err != nil {
		panic(err)
	}

	reg := service.New(dsrepo.NewBadger(deps.KV), policy)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := reg.Load(ctx); err != nil {
		panic(err)
	}
	return &Module{name: b.NameOr("taints"), ports: Ports{Registry: reg, Tracker: reg}}
}

// Name satisfies modkit.Module
func (m *Module) Name() string { return m.name }

// Ports satisfies modkit.Module
func (m *Module) Ports() any { return m.ports }

// MountRoutes satisfies modkit.Module; taint routes live in the api index module
func (m *Module) MountRoutes(httpkit.Router) {}
