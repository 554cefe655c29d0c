// Package modkit provides module wiring and core deps
package modkit

import (
	"mquery/internal/modkit/repokit"
	"mquery/internal/platform/config"
	"mquery/internal/platform/logger"

	"github.com/dgraph-io/badger/v4"
)

// Deps holds core dependencies passed to modules
type Deps struct {
	Log logger.Logger
	Cfg config.Conf

	// KV is the index store; always set in a running api
	KV *badger.DB

	// PG is nil unless JOBS_STORE=pg
	PG repokit.TxRunner
}
