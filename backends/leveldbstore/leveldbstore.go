// Package leveldbstore implements reqcache.Storage on
// github.com/syndtr/goleveldb/leveldb, a supplementary embedded-database
// backend alongside sqlite.
package leveldbstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"

	"github.com/halvorsen/reqcache"
)

// Store is a reqcache.Storage backed by a LevelDB database directory.
type Store struct {
	db *leveldb.DB
}

// New opens (creating if necessary) a LevelDB database at path.
func New(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldbstore: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open *leveldb.DB.
func NewWithDB(db *leveldb.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Read(_ context.Context, key string) ([]byte, bool, error) {
	val, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("leveldbstore read %s: %w", key, err)
	}
	return val, true, nil
}

func (s *Store) Write(_ context.Context, key string, value []byte) error {
	if err := s.db.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("leveldbstore write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("leveldbstore delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) BulkDelete(_ context.Context, keys []string) (int, error) {
	batch := new(leveldb.Batch)
	removed := 0
	for _, key := range keys {
		if ok, err := s.db.Has([]byte(key), nil); err == nil && ok {
			removed++
		}
		batch.Delete([]byte(key))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("leveldbstore bulk delete: %w", err)
	}
	return removed, nil
}

func (s *Store) Contains(_ context.Context, key string) (bool, error) {
	ok, err := s.db.Has([]byte(key), nil)
	if err != nil {
		return false, fmt.Errorf("leveldbstore contains %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) Keys(_ context.Context, fn func(string) error) error {
	return iterateSnapshot(s.db, func(iter iterator.Iterator) error {
			return fn(string(iter.Key()))
	})
}

func (s *Store) Values(_ context.Context, fn func([]byte) error) error {
	return iterateSnapshot(s.db, func(iter iterator.Iterator) error {
			val := make([]byte, len(iter.Value()))
			copy(val, iter.Value())
			return fn(val)
	})
}

// iterateSnapshot takes a point-in-time snapshot before iterating, giving
// the "snapshot-consistent best-effort" guarantee asks of keys()/
// values() without holding a lock for the whole scan.
func iterateSnapshot(db *leveldb.DB, fn func(iterator.Iterator) error) error {
	snap, err := db.GetSnapshot()
	if err != nil {
		return fmt.Errorf("leveldbstore snapshot: %w", err)
	}
	defer snap.Release()

	iter := snap.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		if err := fn(iter); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *Store) Size(ctx context.Context) (int, error) {
	n := 0
	err := s.Keys(ctx, func(string) error { n++; return nil })
	return n, err
}

func (s *Store) Clear(ctx context.Context) error {
	var keys [][]byte
	err := s.Keys(ctx, func(key string) error {
			keys = append(keys, []byte(key))
			return nil
	})
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, k := range keys {
		batch.Delete(k)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldbstore clear: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ reqcache.Storage = (*Store)(nil)
