// Package metrics defines a backend-agnostic metrics surface for reqcache's
// wrappers, so Prometheus/OpenTelemetry/Datadog implementations can be
// swapped in without the core package depending on any of them.
package metrics

import (
	"time"
)

// Collector receives cache and HTTP transport events. Implementations must
// be safe for concurrent use.
type Collector interface {
	// RecordCacheOperation records one Storage call: operation is
	// "read"/"write"/"delete"/"bulk_delete", result is "hit"/"miss"/
	// "success"/"error".
	RecordCacheOperation(operation, backend, result string, duration time.Duration)

	// RecordCacheEntries records the current entry count for backend.
	RecordCacheEntries(backend string, count int64)

	// RecordHTTPRequest records one round trip through a CachedSession.
	// cacheStatus is "hit", "miss", "revalidated", or "bypass".
	RecordHTTPRequest(method, cacheStatus string, statusCode int, duration time.Duration)

	// RecordHTTPResponseSize records a response body size in bytes,
	// bucketed by cacheStatus ("hit" or "miss").
	RecordHTTPResponseSize(cacheStatus string, sizeBytes int64)
}

// NoOpCollector discards every event. It is DefaultCollector, giving callers
// zero overhead when metrics aren't wired up.
type NoOpCollector struct{}

func (n *NoOpCollector) RecordCacheOperation(operation, backend, result string, duration time.Duration) {
}

func (n *NoOpCollector) RecordCacheEntries(backend string, count int64) {}

func (n *NoOpCollector) RecordHTTPRequest(method, cacheStatus string, statusCode int, duration time.Duration) {
}

func (n *NoOpCollector) RecordHTTPResponseSize(cacheStatus string, sizeBytes int64) {}

// DefaultCollector is used wherever a wrapper's constructor receives nil.
var DefaultCollector Collector = &NoOpCollector{}

var _ Collector = (*NoOpCollector)(nil)
