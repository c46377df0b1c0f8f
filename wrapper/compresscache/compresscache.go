// Package compresscache wraps a reqcache.Storage with automatic
// compression of stored values, to reduce storage footprint for
// backends billed or capped by size. Supports gzip, brotli and snappy.
package compresscache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/halvorsen/reqcache"
)

// Algorithm identifies a compression algorithm.
type Algorithm int

const (
	Gzip Algorithm = iota
	Brotli
	Snappy
)

func (a Algorithm) String() string {
	switch a {
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Snappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// Stats holds compression statistics for a store.
type Stats struct {
	CompressedBytes   int64
	UncompressedBytes int64
	CompressedCount   int64
	UncompressedCount int64
	CompressionRatio  float64
	SavingsPercent    float64
}

type compressFunc func([]byte) ([]byte, error)
type decompressFunc func([]byte) ([]byte, error)

// baseStore implements the compress/decompress envelope shared by every
// algorithm-specific wrapper. Entries are tagged with a one-byte marker
// (0 = stored uncompressed, algorithm+1 otherwise) so a value written by
// one algorithm can still be decompressed by a store configured with a
// different one.
type baseStore struct {
	store     reqcache.Storage
	algorithm Algorithm

	compressedBytes   atomic.Int64
	uncompressedBytes atomic.Int64
	compressedCount   atomic.Int64
	uncompressedCount atomic.Int64
}

func newBaseStore(store reqcache.Storage, algorithm Algorithm) *baseStore {
	return &baseStore{store: store, algorithm: algorithm}
}

func decompressAny(algorithm Algorithm, data []byte) ([]byte, error) {
	switch algorithm {
	case Gzip:
		return gzipDecompress(data)
	case Brotli:
		return brotliDecompress(data)
	case Snappy:
		return snappyDecompress(data)
	default:
		return nil, fmt.Errorf("compresscache: unsupported algorithm marker %d", algorithm)
	}
}

func (b *baseStore) read(ctx context.Context, key string, decompress decompressFunc) ([]byte, bool, error) {
	data, ok, err := b.store.Read(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(data) < 1 {
		return data, true, nil
	}

	marker := data[0]
	if marker == 0 {
		return data[1:], true, nil
	}

	stored := Algorithm(marker - 1)
	var decompressed []byte
	if stored == b.algorithm {
		decompressed, err = decompress(data[1:])
	} else {
		decompressed, err = decompressAny(stored, data[1:])
	}
	if err != nil {
		reqcache.GetLogger().Warn("compresscache: decompression failed",
			"key", key, "algorithm", stored.String(), "error", err)
		return nil, false, fmt.Errorf("compresscache decompress %q: %w", key, err)
	}
	return decompressed, true, nil
}

func (b *baseStore) write(ctx context.Context, key string, value []byte, compress compressFunc) error {
	compressed, err := compress(value)
	if err != nil {
		reqcache.GetLogger().Warn("compresscache: compression failed, storing uncompressed",
			"key", key, "algorithm", b.algorithm.String(), "error", err)
		data := make([]byte, len(value)+1)
		copy(data[1:], value)
		b.uncompressedCount.Add(1)
		b.uncompressedBytes.Add(int64(len(value)))
		return b.store.Write(ctx, key, data)
	}

	data := make([]byte, len(compressed)+1)
	data[0] = byte(b.algorithm + 1)
	copy(data[1:], compressed)

	b.compressedCount.Add(1)
	b.compressedBytes.Add(int64(len(compressed)))
	b.uncompressedBytes.Add(int64(len(value)))
	return b.store.Write(ctx, key, data)
}

func (b *baseStore) delete(ctx context.Context, key string) error {
	return b.store.Delete(ctx, key)
}

func (b *baseStore) bulkDelete(ctx context.Context, keys []string) (int, error) {
	return b.store.BulkDelete(ctx, keys)
}

func (b *baseStore) contains(ctx context.Context, key string) (bool, error) {
	return b.store.Contains(ctx, key)
}

func (b *baseStore) keys(ctx context.Context, fn func(string) error) error {
	return b.store.Keys(ctx, fn)
}

func (b *baseStore) values(ctx context.Context, fn func([]byte) error, decompress decompressFunc) error {
	return b.store.Keys(ctx, func(key string) error {
		val, ok, err := b.read(ctx, key, decompress)
		if err != nil || !ok {
			return err
		}
		return fn(val)
	})
}

func (b *baseStore) size(ctx context.Context) (int, error) {
	return b.store.Size(ctx)
}

func (b *baseStore) clear(ctx context.Context) error {
	return b.store.Clear(ctx)
}

func (b *baseStore) close() error {
	return b.store.Close()
}

func (b *baseStore) stats() Stats {
	compressed := b.compressedBytes.Load()
	uncompressed := b.uncompressedBytes.Load()

	var ratio, savings float64
	if uncompressed > 0 {
		ratio = float64(compressed) / float64(uncompressed)
		savings = (1.0 - ratio) * 100
	}

	return Stats{
		CompressedBytes:   compressed,
		UncompressedBytes: uncompressed,
		CompressedCount:   b.compressedCount.Load(),
		UncompressedCount: b.uncompressedCount.Load(),
		CompressionRatio:  ratio,
		SavingsPercent:    savings,
	}
}
