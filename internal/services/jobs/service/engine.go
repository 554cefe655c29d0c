// Package service runs query jobs: it snapshots eligible datasets at submit,
// narrows each dataset with index probes and confirms the candidates
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"mquery/internal/core/index"
	"mquery/internal/core/normalize"
	"mquery/internal/core/rule"
	perr "mquery/internal/platform/errors"
	"mquery/internal/platform/logger"
	dsdom "mquery/internal/services/datasets/domain"
	dom "mquery/internal/services/jobs/domain"
	tdom "mquery/internal/services/taints/domain"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Datasets opens committed datasets for probing
type Datasets interface {
	Open(ctx context.Context, id string) (dsdom.Reader, error)
}

// Snapshotter captures the datasets a query may see
type Snapshotter interface {
	Snapshot(taint *string) []tdom.DatasetRef
}

// Config for the engine
type Config struct {
	// Workers is how many jobs run at once
	Workers int
	// ConfirmParallelism bounds concurrent confirms within one job
	ConfirmParallelism int
	// MaxFileBytes caps how much of a candidate is read; 0 reads everything
	MaxFileBytes int64
	// Retention drops terminal jobs this long after they finish; 0 keeps them
	Retention time.Duration
	// FlushEvery is the match batch size written while a job runs
	FlushEvery int
}

// Engine implements domain.Service
type Engine struct {
	store    dom.Store
	datasets Datasets
	taints   Snapshotter
	cfg      Config
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	queues  map[dom.Priority][]string
	rules   map[string]*rule.Rule
	cancels map[string]context.CancelFunc
	closed  bool

	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New builds an idle engine; Start launches the workers
func New(store dom.Store, datasets Datasets, taints Snapshotter, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.ConfirmParallelism <= 0 {
		cfg.ConfirmParallelism = runtime.NumCPU()
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 64
	}
	e := &Engine{
		store:    store,
		datasets: datasets,
		taints:   taints,
		cfg:      cfg,
		log:      logger.Named("jobs"),
		now:      func() time.Time { return time.Now().UTC() },
		queues:   map[dom.Priority][]string{},
		rules:    map[string]*rule.Rule{},
		cancels:  map[string]context.CancelFunc{},
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Start recovers jobs left behind by a previous process and launches the
// workers. Queued jobs are requeued; jobs caught running are failed
func (e *Engine) Start(ctx context.Context) error {
	jobs, err := e.store.List(ctx)
	if err != nil {
		return err
	}
	// List is newest first; requeue oldest first
	for i := len(jobs) - 1; i >= 0; i-- {
		j := jobs[i]
		switch j.Status {
		case dom.StatusQueued:
			e.enqueue(j.ID, j.Priority, nil)
		case dom.StatusRunning:
			if _, err := e.store.Finish(ctx, j.ID, dom.StatusError, "interrupted by restart", e.now(), nil); err != nil {
				return err
			}
		}
	}

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.stop = cancel
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.work(base)
		}()
	}
	if e.cfg.Retention > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.janitor(base)
		}()
	}
	e.log.Info().Int("workers", e.cfg.Workers).Int("confirm_parallelism", e.cfg.ConfirmParallelism).Msg("job engine started")
	return nil
}

// Close stops the workers and cancels running jobs. Queued jobs stay queued
// in the store
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for _, cancel := range e.cancels {
		cancel()
	}
	e.cond.Broadcast()
	e.mu.Unlock()
	if e.stop != nil {
		e.stop()
	}
	e.wg.Wait()
}

// Submit compiles the rule, captures the eligible datasets and queues the
// job. A rule that does not compile creates no job
func (e *Engine) Submit(ctx context.Context, in dom.SubmitInput) (string, error) {
	r, err := rule.Compile(in.RuleText)
	if err != nil {
		return "", err
	}
	prio := in.Priority
	if prio == "" {
		prio = dom.PriorityMedium
	}
	if _, err := dom.ParsePriority(string(prio)); err != nil {
		return "", perr.WithField(perr.Validationf("%v", err), "priority")
	}

	j := dom.Job{
		ID:          uuid.NewString(),
		RuleText:    in.RuleText,
		RuleName:    r.Name,
		Taint:       normalize.LabelPtr(in.Taint),
		Priority:    prio,
		Status:      dom.StatusQueued,
		SubmittedAt: e.now(),
	}
	j.Datasets = e.taints.Snapshot(j.Taint)
	if j.Datasets == nil {
		j.Datasets = []tdom.DatasetRef{}
	}
	if err := e.store.Create(ctx, j); err != nil {
		return "", err
	}
	e.enqueue(j.ID, prio, r)
	jobsSubmitted.WithLabelValues(string(prio)).Inc()
	logger.C(logger.WithJob(ctx, j.ID)).Info().
		Str("rule", r.Name).
		Str("priority", string(prio)).
		Int("datasets", len(j.Datasets)).
		Msg("job queued")
	return j.ID, nil
}

func (e *Engine) enqueue(id string, p dom.Priority, r *rule.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queues[p] = append(e.queues[p], id)
	if r != nil {
		e.rules[id] = r
	}
	queueDepth.WithLabelValues(string(p)).Inc()
	e.cond.Signal()
}

// next blocks until a job is queued and pops the highest priority one
func (e *Engine) next() (string, *rule.Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		if e.closed {
			return "", nil, false
		}
		for _, p := range dom.Priorities() {
			if q := e.queues[p]; len(q) > 0 {
				id := q[0]
				e.queues[p] = q[1:]
				r := e.rules[id]
				delete(e.rules, id)
				queueDepth.WithLabelValues(string(p)).Dec()
				return id, r, true
			}
		}
		e.cond.Wait()
	}
}

func (e *Engine) work(base context.Context) {
	for {
		id, r, ok := e.next()
		if !ok {
			return
		}
		e.run(base, id, r)
	}
}

func (e *Engine) run(base context.Context, id string, r *rule.Rule) {
	ctx, cancel := context.WithCancel(logger.WithJob(base, id))
	defer cancel()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.cancels[id] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, id)
		e.mu.Unlock()
	}()

	log := logger.C(ctx)
	started := e.now()
	ok, err := e.store.Start(ctx, id, started)
	if err != nil {
		log.Error().Err(err).Msg("job start failed")
		return
	}
	if !ok {
		// cancelled while queued
		return
	}

	st, msg, tail := e.execute(ctx, id, r)
	if st == dom.StatusCancelled && e.isClosed() {
		st, msg = dom.StatusError, "interrupted by shutdown"
	}
	at := e.now()
	// the job context may be gone; the terminal write must still land
	done, err := e.store.Finish(context.WithoutCancel(ctx), id, st, msg, at, tail)
	if err != nil {
		log.Error().Err(err).Msg("job finish failed")
		return
	}
	if !done {
		return
	}
	jobsFinished.WithLabelValues(string(st)).Inc()
	jobDuration.Observe(at.Sub(started).Seconds())
	ev := log.Info()
	if st == dom.StatusError {
		ev = log.Warn().Str("error", msg)
	}
	ev.Str("status", string(st)).Dur("took", at.Sub(started)).Msg("job finished")
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// progress records counters. A failed write only delays what pollers see
func (e *Engine) progress(ctx context.Context, id string, p dom.Progress) {
	if err := e.store.Progress(ctx, id, p); err != nil && ctx.Err() == nil {
		logger.C(ctx).Warn().Err(err).Int("processed", p.Processed).Int("total", p.Total).Msg("record progress failed")
	}
}

type candidate struct {
	dataset string
	rd      dsdom.Reader
	ords    *roaring.Bitmap
}

// execute runs one job and returns its terminal status plus the matches
// not yet flushed
func (e *Engine) execute(ctx context.Context, id string, r *rule.Rule) (dom.Status, string, []dom.Match) {
	log := logger.C(ctx)
	j, err := e.store.Get(ctx, id)
	if err != nil {
		return dom.StatusError, err.Error(), nil
	}
	if r == nil {
		if r, err = rule.Compile(j.RuleText); err != nil {
			return dom.StatusError, err.Error(), nil
		}
	}
	plan := rule.PlanProbes(r, nil)

	var cands []candidate
	total, vanished := 0, 0
	for _, ref := range j.Datasets {
		rd, err := e.datasets.Open(ctx, ref.ID)
		if perr.IsCode(err, perr.ErrorCodeNotFound) {
			log.Warn().Str("dataset", ref.ID).Msg("dataset removed after submit; skipped")
			vanished++
			continue
		}
		if err != nil {
			return e.abort(ctx, fmt.Sprintf("open dataset %s: %v", ref.ID, err))
		}
		bm, err := plan.Candidates(ctx, rd)
		if err != nil {
			return e.abort(ctx, fmt.Sprintf("probe dataset %s: %v", ref.ID, err))
		}
		if n := rd.FileCount(); n > 0 {
			candidateRatio.Observe(float64(bm.GetCardinality()) / float64(n))
		}
		total += int(bm.GetCardinality())
		cands = append(cands, candidate{dataset: ref.ID, rd: rd, ords: bm})
	}
	if n := len(j.Datasets); n > 0 && vanished == n {
		return dom.StatusError, fmt.Sprintf("all %d eligible datasets vanished", n), nil
	}
	e.progress(ctx, id, dom.Progress{Total: total})

	var (
		processed, errored atomic.Int64
		batchMu            sync.Mutex
		batch              []dom.Match
	)
	flush := func(force bool) {
		batchMu.Lock()
		if len(batch) == 0 || (!force && len(batch) < e.cfg.FlushEvery) {
			batchMu.Unlock()
			return
		}
		out := batch
		batch = nil
		batchMu.Unlock()
		if _, err := e.store.Append(ctx, id, out); err != nil {
			log.Warn().Err(err).Int("matches", len(out)).Msg("append matches failed; retrying at finish")
			batchMu.Lock()
			batch = append(out, batch...)
			batchMu.Unlock()
			return
		}
		e.progress(ctx, id, dom.Progress{
			Processed: int(processed.Load()),
			Total:     total,
			Errored:   int(errored.Load()),
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ConfirmParallelism)
	for _, c := range cands {
		it := c.ords.Iterator()
		for it.HasNext() {
			if gctx.Err() != nil {
				break
			}
			ord := it.Next()
			g.Go(func() error {
				m, ok := e.confirm(gctx, c, ord, r, &errored)
				processed.Add(1)
				if ok {
					batchMu.Lock()
					batch = append(batch, m)
					batchMu.Unlock()
					flush(false)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return dom.StatusCancelled, "cancelled", nil
	}

	batchMu.Lock()
	tail := batch
	batchMu.Unlock()
	e.progress(ctx, id, dom.Progress{Processed: int(processed.Load()), Total: total, Errored: int(errored.Load())})

	if n := int(errored.Load()); total > 0 && n == total {
		return dom.StatusError, fmt.Sprintf("all %d candidate files failed evaluation", n), tail
	}
	return dom.StatusDone, "", tail
}

func (e *Engine) confirm(ctx context.Context, c candidate, ord uint32, r *rule.Rule, errored *atomic.Int64) (dom.Match, bool) {
	if ctx.Err() != nil {
		return dom.Match{}, false
	}
	path, err := c.rd.Path(ord)
	if err == nil {
		var res rule.Result
		res, err = r.ConfirmFile(path, e.cfg.MaxFileBytes)
		if err == nil {
			if !res.Matched {
				confirmFiles.WithLabelValues("unmatched").Inc()
				return dom.Match{}, false
			}
			confirmFiles.WithLabelValues("matched").Inc()
			return dom.Match{File: path, Dataset: c.dataset, Offsets: res.Offsets}, true
		}
	}
	errored.Add(1)
	confirmFiles.WithLabelValues("error").Inc()
	logger.C(ctx).Debug().Err(err).Str("dataset", c.dataset).Uint32("ord", ord).Msg("candidate skipped")
	return dom.Match{}, false
}

func (e *Engine) abort(ctx context.Context, msg string) (dom.Status, string, []dom.Match) {
	if ctx.Err() != nil {
		return dom.StatusCancelled, "cancelled", nil
	}
	return dom.StatusError, msg, nil
}

// Status returns the job and one page of its matches
func (e *Engine) Status(ctx context.Context, id string, offset, limit int) (dom.StatusView, error) {
	if offset < 0 {
		return dom.StatusView{}, perr.WithField(perr.Validationf("offset must not be negative"), "offset")
	}
	if limit < 0 {
		return dom.StatusView{}, perr.WithField(perr.Validationf("limit must not be negative"), "limit")
	}
	return e.store.View(ctx, id, offset, limit)
}

// Get returns one job
func (e *Engine) Get(ctx context.Context, id string) (dom.Job, error) {
	return e.store.Get(ctx, id)
}

// List returns every job newest first
func (e *Engine) List(ctx context.Context) ([]dom.Job, error) {
	return e.store.List(ctx)
}

// Cancel moves a queued or running job to cancelled and stops its workers
func (e *Engine) Cancel(ctx context.Context, id string) (dom.Job, error) {
	j, err := e.store.Get(ctx, id)
	if err != nil {
		return dom.Job{}, err
	}
	if j.Status.Terminal() {
		return j, perr.Conflictf("job %s is already %s", id, j.Status)
	}
	ok, err := e.store.Finish(ctx, id, dom.StatusCancelled, "cancelled", e.now(), nil)
	if err != nil {
		return dom.Job{}, err
	}
	if !ok {
		j, _ = e.store.Get(ctx, id)
		return j, perr.Conflictf("job %s is already %s", id, j.Status)
	}
	e.mu.Lock()
	if cancel, running := e.cancels[id]; running {
		cancel()
	}
	delete(e.rules, id)
	e.mu.Unlock()
	jobsFinished.WithLabelValues(string(dom.StatusCancelled)).Inc()
	logger.C(logger.WithJob(ctx, id)).Info().Msg("job cancelled")
	return e.store.Get(ctx, id)
}

// Parse compiles ruleText and reports the probe plan over every scheme
// without creating a job
func (e *Engine) Parse(ruleText string) (rule.Summary, error) {
	r, err := rule.Compile(ruleText)
	if err != nil {
		return rule.Summary{}, err
	}
	return rule.PlanProbes(r, index.AllSchemes()).Summary(), nil
}

// Ping reports whether the job store is reachable
func (e *Engine) Ping(ctx context.Context) error { return e.store.Ping(ctx) }

func (e *Engine) janitor(ctx context.Context) {
	every := min(max(e.cfg.Retention/4, time.Second), time.Hour)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := e.store.Prune(ctx, e.now().Add(-e.cfg.Retention))
			switch {
			case err != nil && !errors.Is(err, context.Canceled):
				e.log.Warn().Err(err).Msg("job prune failed")
			case n > 0:
				e.log.Info().Int("jobs", n).Msg("old jobs pruned")
			}
		}
	}
}
