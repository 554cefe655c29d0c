// Package repo holds the job store adapters
package repo

import (
	"context"
	"slices"
	"sync"
	"time"

	perr "mquery/internal/platform/errors"
	dom "mquery/internal/services/jobs/domain"
)

type memJob struct {
	job     dom.Job
	matches []dom.Match
	seen    map[string]struct{}
}

// Memory is the default job store. One mutex covers every job so a View is
// always a single consistent read
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*memJob
}

// NewMemory returns an empty store
func NewMemory() *Memory { return &Memory{jobs: map[string]*memJob{}} }

func (m *Memory) get(id string) (*memJob, error) {
	mj, ok := m.jobs[id]
	if !ok {
		return nil, perr.NotFoundf("job %s not found", id)
	}
	return mj, nil
}

// Create implements domain.Store
func (m *Memory) Create(_ context.Context, j dom.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.jobs[j.ID]; dup {
		return perr.Conflictf("job %s exists", j.ID)
	}
	m.jobs[j.ID] = &memJob{job: cloneJob(j), seen: map[string]struct{}{}}
	return nil
}

// Get implements domain.Store
func (m *Memory) Get(_ context.Context, id string) (dom.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, err := m.get(id)
	if err != nil {
		return dom.Job{}, err
	}
	return cloneJob(mj.job), nil
}

// List implements domain.Store
func (m *Memory) List(context.Context) ([]dom.Job, error) {
	m.mu.Lock()
	out := make([]dom.Job, 0, len(m.jobs))
	for _, mj := range m.jobs {
		out = append(out, cloneJob(mj.job))
	}
	m.mu.Unlock()
	sortNewestFirst(out)
	return out, nil
}

// Start implements domain.Store
func (m *Memory) Start(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, err := m.get(id)
	if err != nil {
		return false, err
	}
	if mj.job.Status != dom.StatusQueued {
		return false, nil
	}
	mj.job.Status = dom.StatusRunning
	mj.job.StartedAt = &at
	return true, nil
}

// Progress implements domain.Store
func (m *Memory) Progress(_ context.Context, id string, p dom.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, err := m.get(id)
	if err != nil {
		return err
	}
	if mj.job.Status.Terminal() {
		return nil
	}
	mj.job.FilesProcessed = p.Processed
	mj.job.FilesTotal = p.Total
	mj.job.FilesErrored = p.Errored
	return nil
}

// Append implements domain.Store
func (m *Memory) Append(_ context.Context, id string, ms []dom.Match) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, err := m.get(id)
	if err != nil {
		return 0, err
	}
	if mj.job.Status.Terminal() {
		return 0, nil
	}
	return mj.append(ms), nil
}

func (mj *memJob) append(ms []dom.Match) int {
	n := 0
	for _, mt := range ms {
		if _, dup := mj.seen[mt.File]; dup {
			continue
		}
		mj.seen[mt.File] = struct{}{}
		mj.matches = append(mj.matches, mt)
		n++
	}
	mj.job.FilesMatched += n
	return n
}

// Finish implements domain.Store
func (m *Memory) Finish(_ context.Context, id string, st dom.Status, msg string, at time.Time, tail []dom.Match) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, err := m.get(id)
	if err != nil {
		return false, err
	}
	if mj.job.Status.Terminal() {
		return false, nil
	}
	mj.append(tail)
	mj.job.Status = st
	mj.job.Error = msg
	mj.job.FinishedAt = &at
	return true, nil
}

// View implements domain.Store
func (m *Memory) View(_ context.Context, id string, offset, limit int) (dom.StatusView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, err := m.get(id)
	if err != nil {
		return dom.StatusView{}, err
	}
	total := len(mj.matches)
	lo := min(max(offset, 0), total)
	hi := min(lo+max(limit, 0), total)
	page := make([]dom.Match, hi-lo)
	copy(page, mj.matches[lo:hi])
	return dom.StatusView{Job: cloneJob(mj.job), Matches: page, Total: total}, nil
}

// Prune implements domain.Store
func (m *Memory) Prune(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, mj := range m.jobs {
		if mj.job.Status.Terminal() && mj.job.FinishedAt != nil && mj.job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

// Ping implements domain.Store
func (m *Memory) Ping(context.Context) error { return nil }

func cloneJob(j dom.Job) dom.Job {
	j.Datasets = slices.Clone(j.Datasets)
	if j.Taint != nil {
		t := *j.Taint
		j.Taint = &t
	}
	return j
}

func sortNewestFirst(js []dom.Job) {
	slices.SortFunc(js, func(a, b dom.Job) int {
		if c := b.SubmittedAt.Compare(a.SubmittedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}

