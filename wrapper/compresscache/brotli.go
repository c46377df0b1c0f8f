package compresscache

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/halvorsen/reqcache"
)

// BrotliStore wraps a reqcache.Storage with brotli compression.
type BrotliStore struct {
	*baseStore
	level int
}

// BrotliConfig holds the configuration for a BrotliStore.
type BrotliConfig struct {
	// Store is the underlying backend (required).
	Store reqcache.Storage

	// Level is the compression level (1-11; zero selects the default).
	// Default: 6.
	Level int
}

// NewBrotli wraps store with brotli compression.
func NewBrotli(config BrotliConfig) (*BrotliStore, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("compresscache: store cannot be nil")
	}
	if config.Level == 0 {
		config.Level = 6
	}
	if config.Level < 0 || config.Level > 11 {
		return nil, fmt.Errorf("compresscache: invalid brotli level: %d", config.Level)
	}

	return &BrotliStore{baseStore: newBaseStore(config.Store, Brotli), level: config.Level}, nil
}

func (s *BrotliStore) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, s.level)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("brotli write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli close: %w", err)
	}
	return buf.Bytes(), nil
}

func brotliDecompress(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

func (s *BrotliStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	return s.read(ctx, key, brotliDecompress)
}

func (s *BrotliStore) Write(ctx context.Context, key string, value []byte) error {
	return s.write(ctx, key, value, s.compress)
}

func (s *BrotliStore) Delete(ctx context.Context, key string) error { return s.delete(ctx, key) }

func (s *BrotliStore) BulkDelete(ctx context.Context, keys []string) (int, error) {
	return s.bulkDelete(ctx, keys)
}

func (s *BrotliStore) Contains(ctx context.Context, key string) (bool, error) {
	return s.contains(ctx, key)
}

func (s *BrotliStore) Keys(ctx context.Context, fn func(string) error) error {
	return s.keys(ctx, fn)
}

func (s *BrotliStore) Values(ctx context.Context, fn func([]byte) error) error {
	return s.values(ctx, fn, brotliDecompress)
}

func (s *BrotliStore) Size(ctx context.Context) (int, error) { return s.size(ctx) }
func (s *BrotliStore) Clear(ctx context.Context) error       { return s.clear(ctx) }
func (s *BrotliStore) Close() error                          { return s.close() }
func (s *BrotliStore) Stats() Stats                          { return s.stats() }

var _ reqcache.Storage = (*BrotliStore)(nil)
