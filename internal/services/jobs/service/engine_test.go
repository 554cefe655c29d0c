package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	perr "mquery/internal/platform/errors"
	"mquery/internal/platform/store/kv"
	pstrings "mquery/internal/platform/strings"
	"mquery/internal/platform/testkit"
	dsdom "mquery/internal/services/datasets/domain"
	dsrepo "mquery/internal/services/datasets/repo"
	dssvc "mquery/internal/services/datasets/service"
	dom "mquery/internal/services/jobs/domain"
	"mquery/internal/services/jobs/repo"
	tdom "mquery/internal/services/taints/domain"
	tsvc "mquery/internal/services/taints/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	eng   *Engine
	ds    *dssvc.Service
	reg   *tsvc.Registry
	store *repo.Memory
}

func newFixture(t *testing.T, policy tdom.Policy, cfg Config, start bool) *fixture {
	t.Helper()
	db, err := kv.Open(kv.Config{InMemory: true})
	require.NoError(t, err)
	r := dsrepo.NewBadger(db)
	reg := tsvc.New(r, policy)
	require.NoError(t, reg.Load(context.Background()))
	ds := dssvc.New(r, reg, dssvc.Config{Recursive: true, Workers: 2})
	st := repo.NewMemory()
	eng := New(st, ds, reg, cfg)
	if start {
		require.NoError(t, eng.Start(context.Background()))
	}
	t.Cleanup(func() {
		eng.Close()
		_ = db.Close()
	})
	return &fixture{eng: eng, ds: ds, reg: reg, store: st}
}

func (f *fixture) ingest(t *testing.T, dir string, taints ...string) dsdom.Dataset {
	t.Helper()
	res, err := f.ds.Ingest(context.Background(), dsdom.IngestInput{
		Path:    dir,
		Schemes: []string{"gram3", "text4", "hash4", "wide8"},
		Taints:  taints,
	})
	require.NoError(t, err)
	return res.Dataset
}

func (f *fixture) submit(t *testing.T, ruleText string, taint *string) string {
	t.Helper()
	id, err := f.eng.Submit(context.Background(), dom.SubmitInput{RuleText: ruleText, Taint: taint})
	require.NoError(t, err)
	return id
}

func (f *fixture) wait(t *testing.T, id string) dom.StatusView {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		v, err := f.eng.Status(context.Background(), id, 0, 1000)
		require.NoError(t, err)
		if v.Job.Status.Terminal() {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s still %s", id, v.Job.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func files(v dom.StatusView) []string {
	out := []string{}
	for _, m := range v.Matches {
		out = append(out, filepath.Base(m.File))
	}
	slices.Sort(out)
	return out
}

func literalRule(s string) string {
	return fmt.Sprintf("rule find { strings: $a = %q condition: $a }", s)
}

func TestEndToEndNinetyNineFiles(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{Workers: 2, ConfirmParallelism: 4}, true)

	corpus := map[string]string{}
	for i := 0; i < 99; i++ {
		line := fmt.Sprintf("line of file number %03d token-%03d-zq", i, i)
		if i < 10 {
			// five pairs share a substring that appears nowhere else
			line += fmt.Sprintf(" shared-pair-%d-overlap", i/2)
		}
		corpus[fmt.Sprintf("f%03d.txt", i)] = line + "\n"
	}
	f.ingest(t, testkit.WriteCorpus(t, corpus))

	one := f.wait(t, f.submit(t, literalRule("token-042-zq"), nil))
	assert.Equal(t, dom.StatusDone, one.Job.Status)
	assert.Equal(t, []string{"f042.txt"}, files(one))
	assert.Equal(t, 1, one.Total)
	assert.Equal(t, 1, one.Job.FilesTotal, "probing narrows to the single candidate")

	two := f.wait(t, f.submit(t, literalRule("shared-pair-3-overlap"), nil))
	assert.Equal(t, []string{"f006.txt", "f007.txt"}, files(two))
	assert.Equal(t, []int{len("line of file number 006 token-006-zq ")}, two.Matches[0].Offsets["$a"])

	none := f.wait(t, f.submit(t, literalRule("nothing ingested looks like this"), nil))
	assert.Equal(t, dom.StatusDone, none.Job.Status)
	assert.Zero(t, none.Total)
	assert.Empty(t, none.Matches)
}

func TestTaintIsolation(t *testing.T) {
	t.Parallel()
	for _, policy := range []tdom.Policy{tdom.PolicyAll, tdom.PolicyUntainted} {
		t.Run(string(policy), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, policy, Config{Workers: 1}, true)
			dir := testkit.WriteCorpus(t, map[string]string{"F": "the pattern lives here"})
			d1 := f.ingest(t, dir)
			d2 := f.ingest(t, dir, "T")
			rule := literalRule("pattern lives")

			plain := f.wait(t, f.submit(t, rule, nil))
			require.Len(t, plain.Matches, 1, "one file path, one match")
			if policy == tdom.PolicyUntainted {
				assert.Equal(t, d1.ID, plain.Matches[0].Dataset)
				assert.Equal(t, []tdom.DatasetRef{{ID: d1.ID, Taints: []string{}}}, plain.Job.Datasets)
			} else {
				assert.Contains(t, []string{d1.ID, d2.ID}, plain.Matches[0].Dataset)
				assert.Len(t, plain.Job.Datasets, 2)
			}

			tainted := f.wait(t, f.submit(t, rule, pstrings.Ptr("T")))
			require.Len(t, tainted.Matches, 1)
			assert.Equal(t, d2.ID, tainted.Matches[0].Dataset)

			other := f.wait(t, f.submit(t, rule, pstrings.Ptr("T2")))
			assert.Equal(t, dom.StatusDone, other.Job.Status)
			assert.Empty(t, other.Matches)
			assert.Empty(t, other.Job.Datasets)
		})
	}
}

func TestSnapshotTakenAtSubmit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{Workers: 1}, false)
	ds := f.ingest(t, testkit.WriteCorpus(t, map[string]string{"a": "needle in hay"}))

	id := f.submit(t, literalRule("needle"), pstrings.Ptr("late"))
	_, err := f.reg.AddTaint(context.Background(), ds.ID, "late")
	require.NoError(t, err)
	require.NoError(t, f.eng.Start(context.Background()))

	v := f.wait(t, id)
	assert.Empty(t, v.Matches, "taint added after submit must not widen the job")
}

func TestMonotonicVisibility(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{Workers: 1, ConfirmParallelism: 1, FlushEvery: 1}, true)
	corpus := map[string]string{}
	for i := 0; i < 300; i++ {
		corpus[fmt.Sprintf("m%03d", i)] = fmt.Sprintf("common marker %d", i)
	}
	f.ingest(t, testkit.WriteCorpus(t, corpus))
	id := f.submit(t, literalRule("common marker"), nil)

	prev := []dom.Match{}
	for {
		v, err := f.eng.Status(context.Background(), id, 0, 1000)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(v.Matches), len(prev))
		assert.Equal(t, prev, v.Matches[:len(prev)], "earlier matches never change")
		prev = v.Matches
		if v.Job.Status.Terminal() {
			assert.Equal(t, dom.StatusDone, v.Job.Status)
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Len(t, prev, 300)
	again, err := f.eng.Status(context.Background(), id, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, prev, again.Matches, "done is frozen")
}

func TestStatusPaging(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{Workers: 1}, true)
	f.ingest(t, testkit.WriteCorpus(t, map[string]string{"a": "xyzzy", "b": "xyzzy", "c": "xyzzy"}))
	id := f.submit(t, literalRule("xyzzy"), nil)
	f.wait(t, id)

	v, err := f.eng.Status(context.Background(), id, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Total)
	assert.Len(t, v.Matches, 1)
	v2, err := f.eng.Status(context.Background(), id, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, v, v2, "status is idempotent")

	_, err = f.eng.Status(context.Background(), id, -1, 1)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeValidation))
	_, err = f.eng.Status(context.Background(), "missing", 0, 1)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
}

func TestSubmitRejectsBadRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{}, false)
	for _, src := range []string{
		"rule { condition: true }",
		"rule r { strings: $a = \"x\" condition: $b }",
		"rule r { strings: $a = { 4G } condition: $a }",
	} {
		_, err := f.eng.Submit(context.Background(), dom.SubmitInput{RuleText: src})
		assert.True(t, perr.IsCode(err, perr.ErrorCodeParse), src)
	}
	_, err := f.eng.Submit(context.Background(), dom.SubmitInput{RuleText: literalRule("abc"), Priority: "urgent"})
	assert.True(t, perr.IsCode(err, perr.ErrorCodeValidation))

	js, err := f.eng.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, js, "failed submissions create no job")
}

func TestCancelQueuedJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{Workers: 1}, false)
	f.ingest(t, testkit.WriteCorpus(t, map[string]string{"a": "some text"}))
	id := f.submit(t, literalRule("some"), nil)

	j, err := f.eng.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, dom.StatusCancelled, j.Status)

	_, err = f.eng.Cancel(context.Background(), id)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeConflict))

	require.NoError(t, f.eng.Start(context.Background()))
	done := f.submit(t, literalRule("some"), nil)
	f.wait(t, done)

	v, err := f.eng.Status(context.Background(), id, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, dom.StatusCancelled, v.Job.Status)
	assert.Nil(t, v.Job.StartedAt, "a cancelled queued job never starts")
	assert.Empty(t, v.Matches)
}

func TestPriorityOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{}, false)
	ctx := context.Background()
	low, err := f.eng.Submit(ctx, dom.SubmitInput{RuleText: literalRule("abc"), Priority: dom.PriorityLow})
	require.NoError(t, err)
	med, err := f.eng.Submit(ctx, dom.SubmitInput{RuleText: literalRule("abc")})
	require.NoError(t, err)
	high, err := f.eng.Submit(ctx, dom.SubmitInput{RuleText: literalRule("abc"), Priority: dom.PriorityHigh})
	require.NoError(t, err)

	var order []string
	for range 3 {
		id, r, ok := f.eng.next()
		require.True(t, ok)
		require.NotNil(t, r)
		order = append(order, id)
	}
	assert.Equal(t, []string{high, med, low}, order)
}

func TestAllCandidatesFailing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{Workers: 1}, true)
	dir := testkit.WriteCorpus(t, map[string]string{"gone": "vanishing content"})
	f.ingest(t, dir)
	require.NoError(t, os.Remove(filepath.Join(dir, "gone")))

	v := f.wait(t, f.submit(t, literalRule("vanishing"), nil))
	assert.Equal(t, dom.StatusError, v.Job.Status)
	assert.Contains(t, v.Job.Error, "failed evaluation")
	assert.Equal(t, 1, v.Job.FilesErrored)
}

func TestSomeCandidatesFailing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{Workers: 1}, true)
	dir := testkit.WriteCorpus(t, map[string]string{"gone": "shared words", "kept": "shared words"})
	f.ingest(t, dir)
	require.NoError(t, os.Remove(filepath.Join(dir, "gone")))

	v := f.wait(t, f.submit(t, literalRule("shared words"), nil))
	assert.Equal(t, dom.StatusDone, v.Job.Status)
	assert.Equal(t, []string{"kept"}, files(v))
	assert.Equal(t, 1, v.Job.FilesErrored)
	assert.Equal(t, 2, v.Job.FilesProcessed)
}

func TestDatasetDeletedAfterSubmit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{Workers: 1}, false)
	ds := f.ingest(t, testkit.WriteCorpus(t, map[string]string{"a": "soon deleted"}))
	id := f.submit(t, literalRule("soon"), nil)
	require.NoError(t, f.ds.Delete(context.Background(), ds.ID))
	require.NoError(t, f.eng.Start(context.Background()))

	v := f.wait(t, id)
	assert.Equal(t, dom.StatusError, v.Job.Status)
	assert.Equal(t, "all 1 eligible datasets vanished", v.Job.Error)
	assert.Empty(t, v.Matches)
}

func TestSomeDatasetsDeletedAfterSubmit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{Workers: 1}, false)
	gone := f.ingest(t, testkit.WriteCorpus(t, map[string]string{"a": "soon deleted"}))
	f.ingest(t, testkit.WriteCorpus(t, map[string]string{"b": "soon kept"}))
	id := f.submit(t, literalRule("soon"), nil)
	require.NoError(t, f.ds.Delete(context.Background(), gone.ID))
	require.NoError(t, f.eng.Start(context.Background()))

	v := f.wait(t, id)
	assert.Equal(t, dom.StatusDone, v.Job.Status)
	assert.Equal(t, []string{"b"}, files(v))
}

// flakyProgress fails every progress write
type flakyProgress struct {
	*repo.Memory
	mu    sync.Mutex
	calls int
}

func (s *flakyProgress) Progress(context.Context, string, dom.Progress) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return perr.New(perr.ErrorCodeUnavailable, "progress store down")
}

func TestProgressFailuresDoNotFailJob(t *testing.T) {
	t.Parallel()
	db, err := kv.Open(kv.Config{InMemory: true})
	require.NoError(t, err)
	defer db.Close()
	r := dsrepo.NewBadger(db)
	reg := tsvc.New(r, tdom.PolicyAll)
	ds := dssvc.New(r, reg, dssvc.Config{Recursive: true, Workers: 2})
	st := &flakyProgress{Memory: repo.NewMemory()}
	eng := New(st, ds, reg, Config{Workers: 1})
	defer eng.Close()
	ctx := context.Background()

	_, err = ds.Ingest(ctx, dsdom.IngestInput{
		Path:    testkit.WriteCorpus(t, map[string]string{"a": "needle here"}),
		Schemes: []string{"gram3"},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(ctx))
	id, err := eng.Submit(ctx, dom.SubmitInput{RuleText: literalRule("needle")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := st.Get(ctx, id)
		return err == nil && j.Status.Terminal()
	}, 10*time.Second, 5*time.Millisecond)
	v, err := st.View(ctx, id, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, dom.StatusDone, v.Job.Status)
	assert.Len(t, v.Matches, 1)
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Positive(t, st.calls)
}

func TestConcurrentJobIsolation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{Workers: 4, ConfirmParallelism: 2}, true)
	var dsA, dsB dsdom.Dataset
	corpus := func(prefix string) map[string]string {
		m := map[string]string{}
		for i := 0; i < 40; i++ {
			m[fmt.Sprintf("%s%02d", prefix, i)] = "tenant payload signature"
		}
		return m
	}
	dsA = f.ingest(t, testkit.WriteCorpus(t, corpus("a")), "A")
	dsB = f.ingest(t, testkit.WriteCorpus(t, corpus("b")), "B")

	rule := literalRule("payload signature")
	var wg sync.WaitGroup
	ids := make([]string, 2)
	for i, taint := range []string{"A", "B"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := f.eng.Submit(context.Background(), dom.SubmitInput{RuleText: rule, Taint: pstrings.Ptr(taint)})
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	for i, want := range []string{dsA.ID, dsB.ID} {
		v := f.wait(t, ids[i])
		require.Len(t, v.Matches, 40)
		for _, m := range v.Matches {
			assert.Equal(t, want, m.Dataset)
		}
	}
}

func TestRecoverOnStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{Workers: 1}, false)
	ctx := context.Background()
	f.ingest(t, testkit.WriteCorpus(t, map[string]string{"a": "survivor text"}))
	snap := f.reg.Snapshot(nil)

	require.NoError(t, f.store.Create(ctx, dom.Job{ID: "was-running", Status: dom.StatusQueued, RuleText: literalRule("survivor"), Datasets: snap}))
	_, err := f.store.Start(ctx, "was-running", time.Now())
	require.NoError(t, err)
	require.NoError(t, f.store.Create(ctx, dom.Job{ID: "was-queued", Status: dom.StatusQueued, Priority: dom.PriorityLow, RuleText: literalRule("survivor"), Datasets: snap}))

	require.NoError(t, f.eng.Start(ctx))
	v := f.wait(t, "was-queued")
	assert.Equal(t, dom.StatusDone, v.Job.Status)
	assert.Len(t, v.Matches, 1)

	r, err := f.eng.Get(ctx, "was-running")
	require.NoError(t, err)
	assert.Equal(t, dom.StatusError, r.Status)
	assert.Contains(t, r.Error, "restart")
}

func TestParse(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tdom.PolicyAll, Config{}, false)
	sum, err := f.eng.Parse(literalRule("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "find", sum.Rule)
	assert.NotEmpty(t, sum.Probes)

	_, err = f.eng.Parse("rule broken {")
	assert.True(t, perr.IsCode(err, perr.ErrorCodeParse))
}

// blockingDatasets parks every Open until the job context ends
type blockingDatasets struct{ opened chan struct{} }

func (b blockingDatasets) Open(ctx context.Context, _ string) (dsdom.Reader, error) {
	b.opened <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func blockedEngine(t *testing.T) (*Engine, *repo.Memory, chan struct{}) {
	t.Helper()
	st := repo.NewMemory()
	reg := tsvc.New(memPersister{}, tdom.PolicyAll)
	reg.Track(dsdom.Dataset{ID: "ds"})
	b := blockingDatasets{opened: make(chan struct{}, 1)}
	eng := New(st, b, reg, Config{Workers: 1})
	require.NoError(t, eng.Start(context.Background()))
	return eng, st, b.opened
}

type memPersister struct{}

func (memPersister) List(context.Context) ([]dsdom.Dataset, error)    { return nil, nil }
func (memPersister) SetTaints(context.Context, string, []string) error { return nil }

func TestCancelRunningJob(t *testing.T) {
	t.Parallel()
	eng, _, opened := blockedEngine(t)
	defer eng.Close()
	ctx := context.Background()

	id, err := eng.Submit(ctx, dom.SubmitInput{RuleText: literalRule("x")})
	require.NoError(t, err)
	<-opened

	j, err := eng.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, dom.StatusCancelled, j.Status)

	// the worker notices and leaves the terminal state alone
	assert.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.cancels) == 0
	}, 5*time.Second, 5*time.Millisecond)
	j, err = eng.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, dom.StatusCancelled, j.Status)
}

func TestCloseInterruptsRunningJob(t *testing.T) {
	t.Parallel()
	eng, st, opened := blockedEngine(t)
	ctx := context.Background()

	id, err := eng.Submit(ctx, dom.SubmitInput{RuleText: literalRule("x")})
	require.NoError(t, err)
	<-opened
	eng.Close()

	j, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, dom.StatusError, j.Status)
	assert.Equal(t, "interrupted by shutdown", j.Error)
}
