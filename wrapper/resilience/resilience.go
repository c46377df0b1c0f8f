// Package resilience wraps an http.RoundTripper with retry and circuit
// breaker policies from failsafe-go, for use as a CachedSession's
// Transport around the network fetch step.
package resilience

import (
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Config holds the configuration for resilience policies. Both are
// disabled by default and must be explicitly set.
type Config struct {
	// RetryPolicy configures retry behavior. If nil, retry is disabled.
	RetryPolicy retrypolicy.RetryPolicy[*http.Response]

	// CircuitBreaker configures circuit breaker behavior. If nil, the
	// circuit breaker is disabled.
	CircuitBreaker circuitbreaker.CircuitBreaker[*http.Response]
}

// RetryPolicyBuilder returns a pre-configured retry policy builder:
// retries on network errors and 5xx responses, up to 3 times, with
// exponential backoff from 100ms to 10s.
func RetryPolicyBuilder() retrypolicy.Builder[*http.Response] {
	return retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(r *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && r.StatusCode >= 500
		}).
		WithMaxRetries(3).
		WithBackoff(100*time.Millisecond, 10*time.Second)
}

// CircuitBreakerBuilder returns a pre-configured circuit breaker builder:
// opens on network errors and 5xx responses after 5 consecutive
// failures, closes again after 2 consecutive successes in the half-open
// state, with a 60s open delay.
func CircuitBreakerBuilder() circuitbreaker.Builder[*http.Response] {
	return circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(r *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && r.StatusCode >= 500
		}).
		WithFailureThreshold(5).
		WithSuccessThreshold(2).
		WithDelay(60 * time.Second)
}

// roundTripper applies Config's policies around an inner RoundTripper.
type roundTripper struct {
	next   http.RoundTripper
	config Config
}

// NewRoundTripper wraps next with the policies in config. A nil next
// defaults to http.DefaultTransport. With no policies configured, the
// returned RoundTripper just calls through to next.
func NewRoundTripper(next http.RoundTripper, config Config) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{next: next, config: config}
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var policies []failsafe.Policy[*http.Response]
	if rt.config.RetryPolicy != nil {
		policies = append(policies, rt.config.RetryPolicy)
	}
	if rt.config.CircuitBreaker != nil {
		policies = append(policies, rt.config.CircuitBreaker)
	}

	fn := func() (*http.Response, error) {
		return rt.next.RoundTrip(req)
	}

	if len(policies) == 0 {
		return fn()
	}
	return failsafe.With(policies...).Get(fn)
}
