package compresscache

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/halvorsen/reqcache"
)

// GzipStore wraps a reqcache.Storage with gzip compression.
type GzipStore struct {
	*baseStore
	level int
}

// GzipConfig holds the configuration for a GzipStore.
type GzipConfig struct {
	// Store is the underlying backend (required).
	Store reqcache.Storage

	// Level is the compression level (gzip.HuffmanOnly..gzip.BestCompression).
	// Zero selects the default, so gzip.NoCompression cannot be chosen.
	// Default: gzip.DefaultCompression.
	Level int
}

// NewGzip wraps store with gzip compression.
func NewGzip(config GzipConfig) (*GzipStore, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("compresscache: store cannot be nil")
	}
	if config.Level == 0 {
		config.Level = gzip.DefaultCompression
	}
	if config.Level < gzip.HuffmanOnly || config.Level > gzip.BestCompression {
		return nil, fmt.Errorf("compresscache: invalid gzip level: %d", config.Level)
	}

	return &GzipStore{baseStore: newBaseStore(config.Store, Gzip), level: config.Level}, nil
}

func (s *GzipStore) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, s.level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GzipStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	return s.read(ctx, key, gzipDecompress)
}

func (s *GzipStore) Write(ctx context.Context, key string, value []byte) error {
	return s.write(ctx, key, value, s.compress)
}

func (s *GzipStore) Delete(ctx context.Context, key string) error { return s.delete(ctx, key) }

func (s *GzipStore) BulkDelete(ctx context.Context, keys []string) (int, error) {
	return s.bulkDelete(ctx, keys)
}

func (s *GzipStore) Contains(ctx context.Context, key string) (bool, error) {
	return s.contains(ctx, key)
}

func (s *GzipStore) Keys(ctx context.Context, fn func(string) error) error { return s.keys(ctx, fn) }

func (s *GzipStore) Values(ctx context.Context, fn func([]byte) error) error {
	return s.values(ctx, fn, gzipDecompress)
}

func (s *GzipStore) Size(ctx context.Context) (int, error) { return s.size(ctx) }
func (s *GzipStore) Clear(ctx context.Context) error       { return s.clear(ctx) }
func (s *GzipStore) Close() error                          { return s.close() }
func (s *GzipStore) Stats() Stats                          { return s.stats() }

var _ reqcache.Storage = (*GzipStore)(nil)
