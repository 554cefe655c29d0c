package store

import (
	"context"
	"testing"
	"time"

	"mquery/internal/platform/config"
	kit "mquery/internal/platform/testkit"
)

func TestConfigFromDefaults(t *testing.T) {
	kit.Serial(t)
	t.Setenv("JOBS_STORE", "")
	t.Setenv("INDEX_IN_MEMORY", "")

	c := ConfigFrom(config.New())
	if c.PG.Enabled {
		t.Fatalf("pg enabled by default")
	}
	if c.KV.Path != "./data/index" || !c.KV.SyncWrites || c.KV.GCInterval != 10*time.Minute {
		t.Fatalf("kv defaults = %+v", c.KV)
	}
	if c.PG.MaxConns != 8 {
		t.Fatalf("max conns = %d", c.PG.MaxConns)
	}
}

func TestConfigFromEnv(t *testing.T) {
	kit.Serial(t)
	t.Setenv("JOBS_STORE", "PG")
	t.Setenv("INDEX_IN_MEMORY", "true")
	t.Setenv("PG_URL", "postgres://x/y")
	t.Setenv("PG_MAX_CONNS", "3")

	c := ConfigFrom(config.New())
	if !c.PG.Enabled || c.PG.URL != "postgres://x/y" || c.PG.MaxConns != 3 {
		t.Fatalf("pg = %+v", c.PG)
	}
	if !c.KV.InMemory {
		t.Fatalf("kv in memory not read")
	}
}

func TestOpenGuardClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := Open(ctx, Config{KV: KVConfig{InMemory: true}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.PG != nil {
		t.Fatalf("pg should stay disabled")
	}
	if err := s.Guard(ctx); err != nil {
		t.Fatalf("guard: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Guard(ctx); err == nil {
		t.Fatalf("guard after close should fail")
	}
}

func TestOpenOnDiskStartsGC(t *testing.T) {
	t.Parallel()
	s, err := Open(context.Background(), Config{KV: KVConfig{Path: t.TempDir(), GCInterval: time.Hour}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.stopGC == nil {
		t.Fatalf("gc loop not started")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestGuardNil(t *testing.T) {
	t.Parallel()
	var s *Store
	if err := s.Guard(context.Background()); err == nil {
		t.Fatalf("nil store must fail guard")
	}
}
