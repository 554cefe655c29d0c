// Package store opens the storage backends the services share: the embedded
// key value store that holds indexes and, optionally, Postgres for job records
package store

import (
	"context"
	"errors"
	"fmt"

	"mquery/internal/platform/logger"
	kvpkg "mquery/internal/platform/store/kv"

	"github.com/dgraph-io/badger/v4"
)

// Store is the facade over the opened backends. A nil field means the
// backend is disabled
type Store struct {
	Log logger.Logger

	// KV holds dataset catalogs and index postings
	KV *badger.DB

	// PG holds job records when JOBS_STORE=pg
	PG TxRunner

	stopGC func()
}

// Row is the scan contract for a single row
type Row interface {
	Scan(dest ...any) error
}

// Rows is the iteration contract for a result set
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// CommandTag reports what a statement did
type CommandTag interface {
	RowsAffected() int64
}

// RowQuerier is the SQL surface repos use
type RowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// TxRunner is a RowQuerier that can also run fn in a transaction
type TxRunner interface {
	RowQuerier
	Tx(ctx context.Context, fn func(q RowQuerier) error) error
}

// Pinger reports readiness
type Pinger interface{ Ping(context.Context) error }

// Open opens the backends enabled in cfg
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{Log: *logger.Named("store")}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	db, err := openKV(cfg.KV, s.Log)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}
	s.KV = db
	if !cfg.KV.InMemory {
		s.stopGC = kvpkg.StartGC(db, cfg.KV.GCInterval, 0.5, &s.Log)
	}

	if cfg.PG.Enabled {
		pg, err := openPG(ctx, cfg.PG, s.Log)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.PG = pg
	}
	return s, nil
}

// Guard checks every opened backend is usable
func (s *Store) Guard(ctx context.Context) error {
	if s == nil {
		return errors.New("nil store")
	}
	var errs []error
	if s.KV == nil || s.KV.IsClosed() {
		errs = append(errs, errors.New("kv: closed"))
	}
	if p, ok := s.PG.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pg: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every opened backend
func (s *Store) Close() error {
	var errs []error
	if s.stopGC != nil {
		s.stopGC()
	}
	if c, ok := s.PG.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	if s.KV != nil && !s.KV.IsClosed() {
		errs = append(errs, s.KV.Close())
	}
	return errors.Join(errs...)
}
