package module

import (
	"runtime"
	"time"

	"mquery/internal/platform/config"
)

// Options for the jobs module
type Options struct {
	Workers            int
	ConfirmParallelism int
	MaxFileBytes       int64
	Retention          time.Duration
	// Store is "memory" or "pg"
	Store string
}

// FromConfig reads JOBS_* keys. The confirm cap defaults to
// INGEST_MAX_FILE_BYTES and is never lower, so an indexed file is always
// read in full
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("JOBS_")
	ingested := cfg.Prefix("INGEST_").MayInt64("MAX_FILE_BYTES", 256<<20)
	return Options{
		Workers:            c.MayInt("WORKERS", 2),
		ConfirmParallelism: c.MayInt("CONFIRM_PARALLELISM", runtime.NumCPU()),
		MaxFileBytes:       max(c.MayInt64("MAX_FILE_BYTES", ingested), ingested),
		Retention:          c.MayDuration("RETENTION", 0),
		Store:              c.MayEnum("STORE", "memory", "memory", "pg"),
	}
}
