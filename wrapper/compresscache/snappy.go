package compresscache

import (
	"context"
	"fmt"

	"github.com/golang/snappy"

	"github.com/halvorsen/reqcache"
)

// SnappyStore wraps a reqcache.Storage with snappy compression.
type SnappyStore struct {
	*baseStore
}

// SnappyConfig holds the configuration for a SnappyStore.
type SnappyConfig struct {
	// Store is the underlying backend (required).
	Store reqcache.Storage
}

// NewSnappy wraps store with snappy compression.
func NewSnappy(config SnappyConfig) (*SnappyStore, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("compresscache: store cannot be nil")
	}
	return &SnappyStore{baseStore: newBaseStore(config.Store, Snappy)}, nil
}

func (s *SnappyStore) compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func snappyDecompress(data []byte) ([]byte, error) {
	decompressed, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return decompressed, nil
}

func (s *SnappyStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	return s.read(ctx, key, snappyDecompress)
}

func (s *SnappyStore) Write(ctx context.Context, key string, value []byte) error {
	return s.write(ctx, key, value, s.compress)
}

func (s *SnappyStore) Delete(ctx context.Context, key string) error { return s.delete(ctx, key) }

func (s *SnappyStore) BulkDelete(ctx context.Context, keys []string) (int, error) {
	return s.bulkDelete(ctx, keys)
}

func (s *SnappyStore) Contains(ctx context.Context, key string) (bool, error) {
	return s.contains(ctx, key)
}

func (s *SnappyStore) Keys(ctx context.Context, fn func(string) error) error {
	return s.keys(ctx, fn)
}

func (s *SnappyStore) Values(ctx context.Context, fn func([]byte) error) error {
	return s.values(ctx, fn, snappyDecompress)
}

func (s *SnappyStore) Size(ctx context.Context) (int, error) { return s.size(ctx) }
func (s *SnappyStore) Clear(ctx context.Context) error       { return s.clear(ctx) }
func (s *SnappyStore) Close() error                          { return s.close() }
func (s *SnappyStore) Stats() Stats                          { return s.stats() }

var _ reqcache.Storage = (*SnappyStore)(nil)
