// Package service builds datasets from directories and serves them for probing
package service

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"mquery/internal/core/index"
	"mquery/internal/core/normalize"
	perr "mquery/internal/platform/errors"
	"mquery/internal/platform/logger"
	dom "mquery/internal/services/datasets/domain"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var (
	ingestFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mquery_ingest_files_total",
		Help: "Files seen by ingestion, by result",
	}, []string{"result"})
	ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mquery_ingest_duration_seconds",
		Help:    "Wall time of successful ingestions",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})
)

// Config for the dataset service
type Config struct {
	// Recursive is the default when IngestInput.Recursive is nil
	Recursive bool
	Workers   int
	// MaxFileBytes skips larger files; 0 disables the cap
	MaxFileBytes int64
}

// Service implements domain.Service
type Service struct {
	repo    dom.Repo
	tracker dom.Tracker
	cfg     Config
	log     *logger.Logger
}

// New constructs the service. tracker may be nil
func New(repo dom.Repo, tracker dom.Tracker, cfg Config) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Service{repo: repo, tracker: tracker, cfg: cfg, log: logger.Named("datasets")}
}

type fileResult struct {
	keys    map[index.Scheme]*roaring.Bitmap
	skipped string
}

// Ingest walks in.Path, indexes every readable file and commits the dataset
// all-or-nothing
func (s *Service) Ingest(ctx context.Context, in dom.IngestInput) (dom.IngestResult, error) {
	started := time.Now()
	if len(in.Schemes) == 0 {
		return dom.IngestResult{}, perr.WithField(perr.Ingestionf("at least one index scheme is required"), "schemes")
	}
	schemes, err := index.ParseSchemes(in.Schemes)
	if err != nil {
		return dom.IngestResult{}, perr.WithField(perr.Wrap(err, perr.ErrorCodeIngestion, "bad schemes"), "schemes")
	}
	root, err := filepath.Abs(in.Path)
	if err != nil {
		return dom.IngestResult{}, perr.WithField(perr.Wrap(err, perr.ErrorCodeIngestion, "bad path"), "path")
	}
	recursive := s.cfg.Recursive
	if in.Recursive != nil {
		recursive = *in.Recursive
	}

	paths, skipped, err := discover(root, recursive)
	if err != nil {
		return dom.IngestResult{}, err
	}
	if len(paths) == 0 {
		return dom.IngestResult{Skipped: skipped}, perr.WithField(perr.Ingestionf("no files found in %s", root), "path")
	}

	results := make([]fileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := s.read(p)
			if err != nil {
				results[i].skipped = err.Error()
				return nil
			}
			results[i].keys = index.FileKeys(schemes, data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return dom.IngestResult{}, perr.Wrap(err, perr.ErrorCodeIngestion, "ingestion interrupted")
	}

	b := index.NewBuilder(schemes)
	for i, res := range results {
		if res.skipped != "" {
			skipped = append(skipped, dom.Skipped{Path: paths[i], Reason: res.skipped})
			continue
		}
		b.Add(paths[i], res.keys)
		results[i].keys = nil
	}
	ingestFiles.WithLabelValues("indexed").Add(float64(b.Len()))
	ingestFiles.WithLabelValues("skipped").Add(float64(len(skipped)))
	for _, sk := range skipped {
		s.log.Warn().Str("path", sk.Path).Str("reason", sk.Reason).Msg("file skipped")
	}
	if b.Len() == 0 {
		return dom.IngestResult{Skipped: skipped}, perr.WithField(perr.Ingestionf("no file under %s could be read", root), "path")
	}

	seg := b.Seal()
	ds := dom.Dataset{
		ID:        uuid.NewString(),
		Root:      root,
		Schemes:   schemes,
		Taints:    normalize.Labels(in.Taints),
		FileCount: seg.FileCount(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Commit(ctx, ds, seg); err != nil {
		return dom.IngestResult{}, err
	}
	if s.tracker != nil {
		s.tracker.Track(ds)
	}
	ingestDuration.Observe(time.Since(started).Seconds())
	s.log.Info().
		Str("dataset", ds.ID).
		Str("root", root).
		Int("files", ds.FileCount).
		Int("skipped", len(skipped)).
		Strs("taints", ds.Taints).
		Dur("took", time.Since(started)).
		Msg("dataset committed")
	return dom.IngestResult{Dataset: ds, Skipped: skipped}, nil
}

func (s *Service) read(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if s.cfg.MaxFileBytes > 0 {
		st, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if st.Size() > s.cfg.MaxFileBytes {
			return nil, fmt.Errorf("file is %d bytes, limit is %d", st.Size(), s.cfg.MaxFileBytes)
		}
	}
	return io.ReadAll(f)
}

// discover lists regular files under root in lexical order. Unreadable
// subdirectories become skipped entries
func discover(root string, recursive bool) ([]string, []dom.Skipped, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, nil, perr.WithField(perr.Wrap(err, perr.ErrorCodeIngestion, "directory unreadable"), "path")
	}
	if !st.IsDir() {
		return nil, nil, perr.WithField(perr.Ingestionf("%s is not a directory", root), "path")
	}

	var paths []string
	var skipped []dom.Skipped
	if !recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, nil, perr.WithField(perr.Wrap(err, perr.ErrorCodeIngestion, "directory unreadable"), "path")
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				paths = append(paths, filepath.Join(root, e.Name()))
			}
		}
		return paths, nil, nil
	}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			skipped = append(skipped, dom.Skipped{Path: p, Reason: err.Error()})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, nil, perr.WithField(perr.Wrap(err, perr.ErrorCodeIngestion, "directory unreadable"), "path")
	}
	slices.Sort(paths)
	return paths, skipped, nil
}

// Get returns one dataset
func (s *Service) Get(ctx context.Context, id string) (dom.Dataset, error) {
	return s.repo.Get(ctx, id)
}

// List returns every published dataset
func (s *Service) List(ctx context.Context) ([]dom.Dataset, error) {
	return s.repo.List(ctx)
}

// Delete unpublishes and drops a dataset. Jobs already holding a reader
// may see empty postings for it
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.tracker != nil {
		s.tracker.Forget(id)
	}
	s.log.Info().Str("dataset", id).Msg("dataset deleted")
	return nil
}

// Open returns a reader over a published dataset
func (s *Service) Open(ctx context.Context, id string) (dom.Reader, error) {
	return s.repo.Open(ctx, id)
}
