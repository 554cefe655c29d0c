// @title         mquery API
// @version       0.1.0
// @description   Index directories, scope them with taints and run YARA style rules as background jobs

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"mquery/internal/core/version"
	"mquery/internal/modkit/repokit"
	"mquery/internal/platform/config"
	"mquery/internal/platform/logger"
	phttp "mquery/internal/platform/net/http"
	"mquery/internal/platform/store"

	"mquery/internal/services/api"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := config.New()
	apiCfg := root.Prefix("API_")

	version.SetService("mquery-api")
	l := logger.Get()

	// badger index store always, postgres only when JOBS_STORE=pg
	st, err := store.Open(ctx, store.ConfigFrom(root), store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()
	repokit.MustGuard(ctx, st)

	// reads API_PORT and API_READ_HEADER_TIMEOUT
	srv := phttp.NewServer(root)

	a := api.Mount(
		srv.Router(),
		api.Options{
			Config:         root,
			Store:          st,
			Logger:         l,
			EnableSwagger:  apiCfg.MayBool("SWAGGER", true),
			EnableProfiler: apiCfg.MayBool("PROFILER", false),
		},
	)
	// job workers stop before the store closes
	defer a.Close()

	if err := srv.Run(ctx); err != nil {
		l.Error().Err(err).Msg("http server stopped")
	}
}
