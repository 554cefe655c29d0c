// Package repo persists datasets and their postings in badger
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"mquery/internal/core/index"
	perr "mquery/internal/platform/errors"
	dom "mquery/internal/services/datasets/domain"

	"github.com/RoaringBitmap/roaring"
	"github.com/dgraph-io/badger/v4"
)

// key layout:
//
//	ds/<id>                  dataset record, written last to publish
//	df/<id>                  file table, JSON array indexed by ordinal
//	ix/<id>/<scheme>/<key>   roaring posting list, key is 4 bytes big endian
func recordKey(id string) []byte { return []byte("ds/" + id) }
func filesKey(id string) []byte  { return []byte("df/" + id) }
func postPrefix(id string) []byte {
	return []byte("ix/" + id + "/")
}
func postKey(id string, s index.Scheme, key uint32) []byte {
	k := append(postPrefix(id), string(s)...)
	k = append(k, '/')
	return append(k, index.KeyBytes(key)...)
}

// Badger implements domain.Repo
type Badger struct {
	db *badger.DB
}

// NewBadger binds the repo to db
func NewBadger(db *badger.DB) *Badger { return &Badger{db: db} }

// Commit stages the file table and postings then writes the record. Any
// failure drops what was staged
func (r *Badger) Commit(ctx context.Context, ds dom.Dataset, seg *index.Segment) (err error) {
	wb := r.db.NewWriteBatch()
	defer func() {
		if err != nil {
			wb.Cancel()
			if dropErr := r.drop(ds.ID); dropErr != nil {
				err = errors.Join(err, dropErr)
			}
			err = perr.Wrapf(err, perr.ErrorCodeIngestion, "commit dataset %s", ds.ID)
		}
	}()

	files, err := json.Marshal(seg.Files())
	if err != nil {
		return err
	}
	if err = wb.Set(filesKey(ds.ID), files); err != nil {
		return err
	}

	n := 0
	err = seg.Each(func(s index.Scheme, key uint32, bm *roaring.Bitmap) error {
		if n++; n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		raw, err := index.EncodePostings(bm)
		if err != nil {
			return err
		}
		return wb.Set(postKey(ds.ID, s, key), raw)
	})
	if err != nil {
		return err
	}
	if err = wb.Flush(); err != nil {
		return err
	}

	rec, err := json.Marshal(ds)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(ds.ID), rec)
	})
}

func (r *Badger) drop(id string) error {
	return r.db.DropPrefix(filesKey(id), postPrefix(id))
}

// Get loads one dataset record
func (r *Badger) Get(_ context.Context, id string) (dom.Dataset, error) {
	var ds dom.Dataset
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		ds, err = getRecord(txn, id)
		return err
	})
	return ds, err
}

func getRecord(txn *badger.Txn, id string) (dom.Dataset, error) {
	var ds dom.Dataset
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ds, perr.NotFoundf("dataset %s not found", id)
	}
	if err != nil {
		return ds, perr.Wrap(err, perr.ErrorCodeDB, "read dataset")
	}
	err = item.Value(func(v []byte) error { return json.Unmarshal(v, &ds) })
	if err != nil {
		return ds, perr.Wrap(err, perr.ErrorCodeDB, "decode dataset")
	}
	return ds, nil
}

// List returns every published dataset ordered by id
func (r *Badger) List(_ context.Context) ([]dom.Dataset, error) {
	var out []dom.Dataset
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("ds/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ds dom.Dataset
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &ds) }); err != nil {
				return perr.Wrap(err, perr.ErrorCodeDB, "decode dataset")
			}
			out = append(out, ds)
		}
		return nil
	})
	return out, err
}

// Delete unpublishes the record first so new probes stop seeing it, then
// drops the postings
func (r *Badger) Delete(_ context.Context, id string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := getRecord(txn, id); err != nil {
			return err
		}
		return txn.Delete(recordKey(id))
	})
	if err != nil {
		return err
	}
	if err := r.drop(id); err != nil {
		return perr.Wrap(err, perr.ErrorCodeDB, "drop dataset postings")
	}
	return nil
}

// SetTaints replaces the taint set of id
func (r *Badger) SetTaints(_ context.Context, id string, taints []string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		ds, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		ds.Taints = taints
		rec, err := json.Marshal(ds)
		if err != nil {
			return err
		}
		return txn.Set(recordKey(id), rec)
	})
}

// Ping reports whether the store is open
func (r *Badger) Ping(context.Context) error {
	if r.db == nil || r.db.IsClosed() {
		return perr.Unavailablef("index store closed")
	}
	return nil
}

// Open returns a Reader over a published dataset
func (r *Badger) Open(_ context.Context, id string) (dom.Reader, error) {
	rd := &reader{db: r.db, id: id}
	err := r.db.View(func(txn *badger.Txn) error {
		ds, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		rd.ds = ds
		item, err := txn.Get(filesKey(id))
		if err != nil {
			return perr.Wrap(err, perr.ErrorCodeDB, "read file table")
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &rd.files) })
	})
	if err != nil {
		return nil, err
	}
	return rd, nil
}

// reader memoizes decoded postings for the lifetime of one job
type reader struct {
	db    *badger.DB
	id    string
	ds    dom.Dataset
	files []string
	cache sync.Map
}

type cacheKey struct {
	s   index.Scheme
	key uint32
}

func (rd *reader) FileCount() int { return len(rd.files) }

func (rd *reader) HasScheme(s index.Scheme) bool {
	for _, have := range rd.ds.Schemes {
		if have == s {
			return true
		}
	}
	return false
}

func (rd *reader) Path(ord uint32) (string, error) {
	if int(ord) >= len(rd.files) {
		return "", perr.Evaluationf("dataset %s has no file %d", rd.id, ord)
	}
	return rd.files[ord], nil
}

func (rd *reader) Postings(s index.Scheme, key uint32) (*roaring.Bitmap, error) {
	ck := cacheKey{s, key}
	if v, ok := rd.cache.Load(ck); ok {
		return v.(*roaring.Bitmap), nil
	}
	var bm *roaring.Bitmap
	err := rd.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(postKey(rd.id, s, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			var err error
			bm, err = index.DecodePostings(v)
			return err
		})
	})
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDB, "read postings")
	}
	rd.cache.Store(ck, bm)
	return bm, nil
}
