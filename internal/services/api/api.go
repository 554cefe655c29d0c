// Package api assembles the service modules and mounts the HTTP API
package api

import (
	"time"

	"mquery/internal/platform/config"
	"mquery/internal/platform/logger"
	phttp "mquery/internal/platform/net/http"
	"mquery/internal/platform/store"

	"mquery/internal/modkit"
	"mquery/internal/modkit/httpkit"
	"mquery/internal/modkit/module"
	"mquery/internal/modkit/swaggerkit"

	indexmod "mquery/internal/services/api/index/module"
	ihttp "mquery/internal/services/api/index/http"
	metamod "mquery/internal/services/api/meta/module"
	metahttp "mquery/internal/services/api/meta/http"
	querymod "mquery/internal/services/api/query/module"
	dsmod "mquery/internal/services/datasets/module"
	jobsmod "mquery/internal/services/jobs/module"
	taintsmod "mquery/internal/services/taints/module"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options are the API options
type Options struct {
	Config         config.Conf
	Store          *store.Store
	Logger         *logger.Logger
	EnableSwagger  bool
	EnableProfiler bool
}

// API is the mounted application. Close stops the job workers
type API struct {
	jobs *jobsmod.Module
}

// Close stops background work owned by the modules
func (a *API) Close() {
	if a != nil && a.jobs != nil {
		a.jobs.Close()
	}
}

// Mount builds every module over opt.Store and mounts their routes on r
func Mount(r phttp.Router, opt Options) *API {
	log := opt.Logger
	if log == nil {
		log = logger.Get()
	}
	deps := modkit.Deps{
		Log: *log,
		Cfg: opt.Config,
		KV:  opt.Store.KV,
		PG:  opt.Store.PG,
	}

	// taints first: the datasets module reports commits and deletes to it
	taints := taintsmod.New(deps)
	tp := module.MustPortsOf[taintsmod.Ports](taints)

	datasets := dsmod.New(deps, modkit.WithPorts(tp.Tracker))
	dp := module.MustPortsOf[dsmod.Ports](datasets)

	jobs := jobsmod.New(deps, modkit.WithPorts(jobsmod.Needs{
		Datasets: dp.Service,
		Taints:   tp.Registry,
	}))
	jp := module.MustPortsOf[jobsmod.Ports](jobs)

	mods := []module.Module{
		taints,
		datasets,
		jobs,
		metamod.New(deps, modkit.WithPorts(metahttp.Deps{
			StartedAt: time.Now(),
			Index:     dp.Repo,
			Jobs:      jp.Service,
		})),
		querymod.New(deps, modkit.WithPorts(querymod.Ports{Jobs: jp.Service})),
		indexmod.New(deps, modkit.WithPorts(ihttp.Deps{Datasets: dp.Service, Taints: tp.Registry})),
	}

	// the stack goes on the root mux so /healthz and preflights are answered
	// even though no route is registered for them
	r.Use(httpkit.CommonStack(opt.Config)...)
	httpkit.MountUnder(r, "", nil, func(api httpkit.Router) {
		swaggerkit.Mount(api, opt.EnableSwagger)
		phttp.MountProfiler(api, "/debug", opt.EnableProfiler)
		api.Handle("/metrics", promhttp.Handler())

		for _, m := range mods {
			m.MountRoutes(api)
		}
	})

	names := make([]string, 0, len(mods))
	for _, m := range mods {
		names = append(names, m.Name())
	}
	log.Info().Strs("modules", names).Msg("api mounted")
	return &API{jobs: jobs}
}
