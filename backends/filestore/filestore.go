// Package filestore implements reqcache.Storage on top of diskv, one file
// per key, supplementing diskv's own in-memory LRU with the directory tree
// on disk.
package filestore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/peterbourgon/diskv"

	"github.com/halvorsen/reqcache"
)

// Store is a reqcache.Storage backed by a diskv directory tree.
type Store struct {
	d *diskv.Diskv
}

// Config configures a Store. CacheName is the base directory; it is
// created if missing. CacheSizeMax bounds diskv's in-memory read cache,
// not the on-disk size.
type Config struct {
	CacheName string
	CacheSizeMax uint64
}

// DefaultConfig returns a Config with a 100MB in-memory read cache.
func DefaultConfig(cacheName string) Config {
	return Config{CacheName: cacheName, CacheSizeMax: 100 * 1024 * 1024}
}

// New builds a Store rooted at cfg.CacheName.
func New(cfg Config) *Store {
	return &Store{d: diskv.New(diskv.Options{
				BasePath: cfg.CacheName,
				CacheSizeMax: cfg.CacheSizeMax,
	})}
}

// NewWithDiskv wraps an already-configured *diskv.Diskv.
func NewWithDiskv(d *diskv.Diskv) *Store {
	return &Store{d: d}
}

// Keys are used directly as diskv filenames: reqcache only ever calls
// Write with the hex fingerprint CreateKey produces (or, in redirect
// storage, another such fingerprint), which is already filesystem-safe.
// This keeps Keys() able to yield back the exact logical key, unlike a
// content-hashed filename scheme.

func (s *Store) Read(_ context.Context, key string) ([]byte, bool, error) {
	val, err := s.d.Read(key)
	if err != nil {
		return nil, false, nil
	}
	return val, true, nil
}

func (s *Store) Write(_ context.Context, key string, value []byte) error {
	if err := s.d.WriteStream(key, bytes.NewReader(value), true); err != nil {
		return fmt.Errorf("filestore write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.d.Erase(key); err != nil {
		return nil //nolint:nilerr // missing file is a no-op, per
	}
	return nil
}

func (s *Store) BulkDelete(ctx context.Context, keys []string) (int, error) {
	removed := 0
	for _, key := range keys {
		if ok, _ := s.Contains(ctx, key); ok {
			removed++
		}
		if err := s.Delete(ctx, key); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *Store) Contains(_ context.Context, key string) (bool, error) {
	return s.d.Has(key), nil
}

func (s *Store) Keys(_ context.Context, fn func(string) error) error {
	cancel := make(chan struct{})
	defer close(cancel)
	for key := range s.d.Keys(cancel) {
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Values(_ context.Context, fn func([]byte) error) error {
	cancel := make(chan struct{})
	defer close(cancel)
	for key := range s.d.Keys(cancel) {
		val, err := s.d.Read(key)
		if err != nil {
			continue
		}
		if err := fn(val); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Size(ctx context.Context) (int, error) {
	n := 0
	err := s.Keys(ctx, func(string) error { n++; return nil })
	return n, err
}

func (s *Store) Clear(ctx context.Context) error {
	var keys []string
	cancel := make(chan struct{})
	for key := range s.d.Keys(cancel) {
		keys = append(keys, key)
	}
	close(cancel)
	for _, key := range keys {
		_ = s.d.Erase(key) //nolint:errcheck
	}
	return nil
}

func (s *Store) Close() error { return nil }

var _ reqcache.Storage = (*Store)(nil)
