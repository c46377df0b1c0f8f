// Package freecachestore implements reqcache.Storage on
// github.com/coocood/freecache, a zero-GC-overhead in-process cache with
// automatic LRU eviction.
package freecachestore

import (
	"context"
	"fmt"

	"github.com/coocood/freecache"

	"github.com/halvorsen/reqcache"
)

// Store implements reqcache.Storage using freecache for storage.
type Store struct {
	cache *freecache.Cache
}

// New creates a new Store with the specified size in bytes. freecache
// enforces a 512KB minimum.
func New(size int) *Store {
	return &Store{cache: freecache.NewCache(size)}
}

func (s *Store) Read(_ context.Context, key string) ([]byte, bool, error) {
	value, err := s.cache.Get([]byte(key))
	if err != nil {
		if err == freecache.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("freecachestore read %q: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Write(_ context.Context, key string, value []byte) error {
	if err := s.cache.Set([]byte(key), value, 0); err != nil {
		return fmt.Errorf("freecachestore write %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.cache.Del([]byte(key))
	return nil
}

func (s *Store) BulkDelete(_ context.Context, keys []string) (int, error) {
	n := 0
	for _, key := range keys {
		if s.cache.Del([]byte(key)) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Contains(_ context.Context, key string) (bool, error) {
	_, err := s.cache.Get([]byte(key))
	if err != nil {
		if err == freecache.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("freecachestore contains %q: %w", key, err)
	}
	return true, nil
}

// Keys walks freecache's own iterator. The iterator walks the live cache
// rather than a copy, so entries deleted or evicted mid-walk may or may
// not be reported.
func (s *Store) Keys(_ context.Context, fn func(string) error) error {
	it := s.cache.NewIterator()
	for {
		entry := it.Next()
		if entry == nil {
			return nil
		}
		if err := fn(string(entry.Key)); err != nil {
			return err
		}
	}
}

func (s *Store) Values(_ context.Context, fn func([]byte) error) error {
	it := s.cache.NewIterator()
	for {
		entry := it.Next()
		if entry == nil {
			return nil
		}
		if err := fn(entry.Value); err != nil {
			return err
		}
	}
}

func (s *Store) Size(_ context.Context) (int, error) {
	return int(s.cache.EntryCount()), nil
}

func (s *Store) Clear(_ context.Context) error {
	s.cache.Clear()
	return nil
}

func (s *Store) Close() error {
	return nil
}

var _ reqcache.Storage = (*Store)(nil)
