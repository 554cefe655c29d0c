// Package kv opens the embedded badger store that backs dataset indexes
package kv

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"mquery/internal/platform/logger"

	"github.com/dgraph-io/badger/v4"
)

// Config configures one badger instance
type Config struct {
	// Path is ignored when InMemory is set
	Path       string
	InMemory   bool
	SyncWrites bool

	// Logger routes badger's own logs; nil silences them
	Logger *logger.Logger
}

type zlAdapter struct{ log *logger.Logger }

func (l zlAdapter) Errorf(f string, a ...any)   { l.log.Error().Msgf(trim(f), a...) }
func (l zlAdapter) Warningf(f string, a ...any) { l.log.Warn().Msgf(trim(f), a...) }
func (l zlAdapter) Infof(f string, a ...any)    { l.log.Debug().Msgf(trim(f), a...) }
func (l zlAdapter) Debugf(f string, a ...any)   { l.log.Trace().Msgf(trim(f), a...) }

func trim(f string) string {
	for len(f) > 0 && f[len(f)-1] == '\n' {
		f = f[:len(f)-1]
	}
	return f
}

// Open opens (or creates) the database described by cfg
func Open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("kv: path is required unless in memory")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("kv: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		l := cfg.Logger.With().Str("component", "badger").Logger()
		opts = opts.WithLogger(zlAdapter{log: &l})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open: %w", err)
	}
	return db, nil
}

// StartGC runs value log garbage collection every interval until the
// returned stop func is called. stop blocks until the loop exits and is
// safe to call more than once
func StartGC(db *badger.DB, interval time.Duration, ratio float64, log *logger.Logger) (stop func()) {
	if db == nil || interval <= 0 {
		return func() {}
	}
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-quit:
				return
			case <-t.C:
				err := db.RunValueLogGC(ratio)
				if err != nil && !errors.Is(err, badger.ErrNoRewrite) && log != nil {
					log.Warn().Err(err).Msg("badger value log gc")
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(quit)
			<-done
		})
	}
}
