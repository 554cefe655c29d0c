package domain

import (
	"context"

	"mquery/internal/core/index"
)

// Reader is one committed dataset opened for probing
type Reader interface {
	index.Reader
	// Path resolves a file ordinal
	Path(ord uint32) (string, error)
}

// Repo persists datasets. Commit publishes atomically: until it returns nil
// no other method observes the dataset
type Repo interface {
	Commit(ctx context.Context, ds Dataset, seg *index.Segment) error
	Get(ctx context.Context, id string) (Dataset, error)
	List(ctx context.Context) ([]Dataset, error)
	Delete(ctx context.Context, id string) error
	SetTaints(ctx context.Context, id string, taints []string) error
	Open(ctx context.Context, id string) (Reader, error)
	Ping(ctx context.Context) error
}

// Tracker is told about datasets entering and leaving the catalog
type Tracker interface {
	Track(ds Dataset)
	Forget(id string)
}

// Service is the dataset port other modules use
type Service interface {
	Ingest(ctx context.Context, in IngestInput) (IngestResult, error)
	Get(ctx context.Context, id string) (Dataset, error)
	List(ctx context.Context) ([]Dataset, error)
	Delete(ctx context.Context, id string) error
	Open(ctx context.Context, id string) (Reader, error)
}
