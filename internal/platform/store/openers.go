package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"

	"mquery/internal/platform/logger"
	"mquery/internal/platform/store/kv"
	"mquery/internal/platform/store/pg"
)

func openKV(cfg KVConfig, log logger.Logger) (*badger.DB, error) {
	return kv.Open(kv.Config{
		Path:       cfg.Path,
		InMemory:   cfg.InMemory,
		SyncWrites: cfg.SyncWrites,
		Logger:     &log,
	})
}

// openPG opens the pool and pings it with capped exponential backoff before
// publishing the adapter; Postgres is often still booting next to us
func openPG(ctx context.Context, cfg PGConfig, log logger.Logger) (*pgAdapter, error) {
	var tracer pg.QueryTracer
	if cfg.LogSQL {
		tracer = pg.Tracer(log)
	}
	p, err := pg.Open(ctx, pg.Config{
		URL:         cfg.URL,
		MaxConns:    cfg.MaxConns,
		SlowMs:      cfg.SlowQueryMs,
		AppName:     "mquery",
		HealthCheck: 30 * time.Second,
	}, tracer)
	if err != nil {
		return nil, err
	}

	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := 150 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = p.Pool.Ping(pctx)
		cancel()
		if lastErr == nil {
			registerPool(p, log)
			return newPGAdapter(p), nil
		}
		log.Warn().Err(lastErr).Int("attempt", i+1).Msg("postgres not ready")
		select {
		case <-ctx.Done():
			p.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 2*time.Second)
	}
	p.Close()
	return nil, fmt.Errorf("postgres ping failed after %d attempts: %w", attempts, lastErr)
}

// registerPool exports pool stats once per process; later pools (tests,
// reopen) keep the first registration
func registerPool(p *pg.PG, log logger.Logger) {
	var are prometheus.AlreadyRegisteredError
	if err := prometheus.Register(p.Collector()); err != nil && !errors.As(err, &are) {
		log.Warn().Err(err).Msg("pg pool metrics not registered")
	}
}
