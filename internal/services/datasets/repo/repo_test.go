package repo

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"mquery/internal/core/index"
	perr "mquery/internal/platform/errors"
	"mquery/internal/platform/store/kv"
	dom "mquery/internal/services/datasets/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := kv.Open(kv.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func segment(t *testing.T, files map[string]string, order ...string) *index.Segment {
	t.Helper()
	schemes := []index.Scheme{index.Gram3, index.Text4}
	b := index.NewBuilder(schemes)
	for _, name := range order {
		b.Add(name, index.FileKeys(schemes, []byte(files[name])))
	}
	return b.Seal()
}

func dataset(id string, seg *index.Segment, taints ...string) dom.Dataset {
	return dom.Dataset{
		ID:        id,
		Root:      "/corpus",
		Schemes:   seg.Schemes(),
		Taints:    append([]string{}, taints...),
		FileCount: seg.FileCount(),
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestCommitThenOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewBadger(openDB(t))

	files := map[string]string{"/corpus/a": "hello world", "/corpus/b": "goodbye moon"}
	seg := segment(t, files, "/corpus/a", "/corpus/b")
	require.NoError(t, r.Commit(ctx, dataset("d1", seg, "prod"), seg))

	got, err := r.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.FileCount)
	assert.Equal(t, []string{"prod"}, got.Taints)

	rd, err := r.Open(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, rd.FileCount())
	assert.True(t, rd.HasScheme(index.Text4))
	assert.False(t, rd.HasScheme(index.Wide8))

	probes := index.PlanPattern(seg.Schemes(), []byte("hello"), false)
	cands, err := index.Candidates(rd, probes)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, cands.ToArray())

	p, err := rd.Path(0)
	require.NoError(t, err)
	assert.Equal(t, "/corpus/a", p)
	_, err = rd.Path(9)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeEvaluation))
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	r := NewBadger(openDB(t))
	_, err := r.Get(context.Background(), "nope")
	assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
	_, err = r.Open(context.Background(), "nope")
	assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
}

func TestFailedCommitLeavesNothing(t *testing.T) {
	t.Parallel()
	db := openDB(t)
	r := NewBadger(db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the context is checked every few thousand keys, so the segment needs
	// more distinct trigrams than that
	rng := rand.New(rand.NewSource(7))
	big := map[string]string{}
	var order []string
	for i := 0; i < 8; i++ {
		name := "/corpus/" + string(rune('a'+i))
		body := make([]byte, 4096)
		rng.Read(body)
		big[name] = string(body)
		order = append(order, name)
	}
	seg := segment(t, big, order...)
	err := r.Commit(ctx, dataset("d1", seg), seg)
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeIngestion))
	assert.True(t, errors.Is(err, context.Canceled))

	_, err = r.Get(context.Background(), "d1")
	assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
	all, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		it.Seek([]byte("ix/d1/"))
		assert.False(t, it.ValidForPrefix([]byte("ix/d1/")))
		return nil
	})
	require.NoError(t, err)
}

func TestListDeleteAndTaints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewBadger(openDB(t))

	seg := segment(t, map[string]string{"/x": "abcdef"}, "/x")
	require.NoError(t, r.Commit(ctx, dataset("b", seg), seg))
	require.NoError(t, r.Commit(ctx, dataset("a", seg), seg))

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	require.NoError(t, r.SetTaints(ctx, "a", []string{"x", "y"}))
	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, got.Taints)
	assert.True(t, perr.IsCode(r.SetTaints(ctx, "zzz", nil), perr.ErrorCodeNotFound))

	require.NoError(t, r.Delete(ctx, "a"))
	assert.True(t, perr.IsCode(r.Delete(ctx, "a"), perr.ErrorCodeNotFound))
	all, err = r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)
}

func TestPingClosed(t *testing.T) {
	t.Parallel()
	db, err := kv.Open(kv.Config{InMemory: true})
	require.NoError(t, err)
	r := NewBadger(db)
	require.NoError(t, r.Ping(context.Background()))
	require.NoError(t, db.Close())
	assert.True(t, perr.IsCode(r.Ping(context.Background()), perr.ErrorCodeUnavailable))
}
