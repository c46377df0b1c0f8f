// Package prometheus adapts reqcache.Storage and CachedSession round trips
// to record Prometheus metrics via the metrics.Collector interface.
package prometheus

import (
	"context"
	"time"

	"github.com/halvorsen/reqcache"
	"github.com/halvorsen/reqcache/metrics"
)

// Metric result constants.
const (
	resultHit     = "hit"
	resultMiss    = "miss"
	resultSuccess = "success"
	resultError   = "error"
)

// InstrumentedStore wraps a reqcache.Storage with Prometheus metrics.
type InstrumentedStore struct {
	underlying reqcache.Storage
	collector  metrics.Collector
	backend    string // backend name: "memory", "redis", "leveldb", etc.
}

// NewInstrumentedStore creates a Storage wrapper that records metrics for
// every operation. If collector is nil, metrics.DefaultCollector is used.
func NewInstrumentedStore(store reqcache.Storage, backend string, collector metrics.Collector) *InstrumentedStore {
	if collector == nil {
		collector = metrics.DefaultCollector
	}
	return &InstrumentedStore{underlying: store, collector: collector, backend: backend}
}

func (s *InstrumentedStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := s.underlying.Read(ctx, key)
	duration := time.Since(start)

	result := resultMiss
	if err != nil {
		result = resultError
	} else if ok {
		result = resultHit
	}
	s.collector.RecordCacheOperation("read", s.backend, result, duration)

	return value, ok, err
}

func (s *InstrumentedStore) Write(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := s.underlying.Write(ctx, key, value)
	duration := time.Since(start)

	result := resultSuccess
	if err != nil {
		result = resultError
	}
	s.collector.RecordCacheOperation("write", s.backend, result, duration)

	return err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.underlying.Delete(ctx, key)
	duration := time.Since(start)

	result := resultSuccess
	if err != nil {
		result = resultError
	}
	s.collector.RecordCacheOperation("delete", s.backend, result, duration)

	return err
}

func (s *InstrumentedStore) BulkDelete(ctx context.Context, keys []string) (int, error) {
	start := time.Now()
	n, err := s.underlying.BulkDelete(ctx, keys)
	duration := time.Since(start)

	result := resultSuccess
	if err != nil {
		result = resultError
	}
	s.collector.RecordCacheOperation("bulk_delete", s.backend, result, duration)

	return n, err
}

func (s *InstrumentedStore) Contains(ctx context.Context, key string) (bool, error) {
	return s.underlying.Contains(ctx, key)
}

func (s *InstrumentedStore) Keys(ctx context.Context, fn func(string) error) error {
	return s.underlying.Keys(ctx, fn)
}

func (s *InstrumentedStore) Values(ctx context.Context, fn func([]byte) error) error {
	return s.underlying.Values(ctx, fn)
}

// Size reports the underlying store's entry count and records it as a
// cache_entries_total gauge reading.
func (s *InstrumentedStore) Size(ctx context.Context) (int, error) {
	n, err := s.underlying.Size(ctx)
	if err == nil {
		s.collector.RecordCacheEntries(s.backend, int64(n))
	}
	return n, err
}

func (s *InstrumentedStore) Clear(ctx context.Context) error {
	return s.underlying.Clear(ctx)
}

func (s *InstrumentedStore) Close() error {
	return s.underlying.Close()
}

var _ reqcache.Storage = (*InstrumentedStore)(nil)
