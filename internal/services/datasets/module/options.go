package module

import (
	"runtime"

	"mquery/internal/platform/config"
)

// Options holds configuration settings for the datasets module
type Options struct {
	Recursive    bool
	Workers      int
	MaxFileBytes int64
}

// FromConfig reads INGEST_* keys
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("INGEST_")
	return Options{
		Recursive:    c.MayBool("RECURSIVE", true),
		Workers:      c.MayInt("WORKERS", runtime.NumCPU()),
		MaxFileBytes: c.MayInt64("MAX_FILE_BYTES", 256<<20),
	}
}
