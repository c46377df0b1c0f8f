// Package memory implements reqcache.Storage as a process-local map. It is
// the simplest backend and the one used by reqcache's own tests where no
// persistence is needed.
package memory

import (
	"context"
	"sync"

	"github.com/halvorsen/reqcache"
)

// Store is a reqcache.Storage guarded by a single RWMutex.
type Store struct {
	mu sync.RWMutex
	data map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Read(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	// Return a copy: callers must not be able to mutate stored bytes
	// through the returned slice.
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

func (s *Store) Write(_ context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = cp
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) BulkDelete(_ context.Context, keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, key := range keys {
		if _, ok := s.data[key]; ok {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Contains(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *Store) Keys(_ context.Context, fn func(string) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Values(_ context.Context, fn func([]byte) error) error {
	s.mu.RLock()
	values := make([][]byte, 0, len(s.data))
	for _, v := range s.data {
		values = append(values, v)
	}
	s.mu.RUnlock()

	for _, v := range values {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Size(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
	return nil
}

func (s *Store) Close() error { return nil }

var _ reqcache.Storage = (*Store)(nil)
