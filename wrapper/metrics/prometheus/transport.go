package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/halvorsen/reqcache"
	"github.com/halvorsen/reqcache/metrics"
)

// InstrumentedTransport wraps an http.RoundTripper (typically a
// *reqcache.CachedSession) with Prometheus metrics.
type InstrumentedTransport struct {
	underlying http.RoundTripper
	collector  metrics.Collector
}

// NewInstrumentedTransport creates a RoundTripper that records metrics for
// every HTTP request. If collector is nil, metrics.DefaultCollector is used.
func NewInstrumentedTransport(transport http.RoundTripper, collector metrics.Collector) *InstrumentedTransport {
	if collector == nil {
		collector = metrics.DefaultCollector
	}
	return &InstrumentedTransport{underlying: transport, collector: collector}
}

// RoundTrip executes an HTTP request with metrics recording.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.underlying.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		return resp, err
	}

	cacheStatus := "miss"
	if resp.Header.Get(reqcache.XFromCache) == "1" {
		cacheStatus = "hit"
	} else if resp.StatusCode == http.StatusNotModified {
		cacheStatus = "revalidated"
	}

	t.collector.RecordHTTPRequest(req.Method, cacheStatus, resp.StatusCode, duration)

	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
			t.collector.RecordHTTPResponseSize(cacheStatus, size)
		}
	}

	return resp, nil
}

// Client returns an *http.Client using this instrumented transport.
func (t *InstrumentedTransport) Client() *http.Client {
	return &http.Client{Transport: t}
}

var _ http.RoundTripper = (*InstrumentedTransport)(nil)
