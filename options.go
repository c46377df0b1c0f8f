package reqcache

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CacheOption configures a BackendCache at construction time, mirroring the
// TransportOption pattern: a function over the struct that can fail
// (e.g. an invalid URL pattern), applied in order.
type CacheOption func(*BackendCache) error

// WithExpireAfter sets the session default expiration, used when no
// Cache-Control, per-request, or urls_expire_after rule applies.
func WithExpireAfter(e ExpireAfter) CacheOption {
	return func(c *BackendCache) error {
		c.expireAfter = e
		return nil
	}
}

// WithURLExpireAfter appends one urls_expire_after entry. Entries are
// matched in the order they are added; the first option registered wins
// ties, per first-match-wins contract.
func WithURLExpireAfter(pattern string, e ExpireAfter) CacheOption {
	return func(c *BackendCache) error {
		p, err := NewURLPattern(pattern, e)
		if err != nil {
			return err
		}
		c.urlsExpireAfter = append(c.urlsExpireAfter, p)
		return nil
	}
}

// WithAllowedCodes restricts which status codes are cacheable. Default:
// {200}.
func WithAllowedCodes(codes ...int) CacheOption {
	return func(c *BackendCache) error {
		m := make(map[int]bool, len(codes))
		for _, code := range codes {
			m[code] = true
		}
		c.allowedCodes = m
		return nil
	}
}

// WithAllowedMethods restricts which HTTP methods are cacheable. Methods
// are matched case-insensitively. Default: {GET, HEAD}.
func WithAllowedMethods(methods ...string) CacheOption {
	return func(c *BackendCache) error {
		m := make(map[string]bool, len(methods))
		for _, method := range methods {
			m[strings.ToUpper(method)] = true
		}
		c.allowedMethods = m
		return nil
	}
}

// WithIgnoredParams sets the query-param / JSON-field / form-field names
// (and, with WithIncludeHeaders, header names) dropped before key
// derivation.
func WithIgnoredParams(params ...string) CacheOption {
	return func(c *BackendCache) error {
		c.ignoredParams = params
		return nil
	}
}

// WithIncludeHeaders enables folding request headers into the cache key.
func WithIncludeHeaders(include bool) CacheOption {
	return func(c *BackendCache) error {
		c.includeHeaders = include
		return nil
	}
}

// WithFilterFunc sets a predicate evaluated during is_cacheable: returning
// false vetoes caching regardless of method/status/Cache-Control.
func WithFilterFunc(fn func(*CachedResponse) bool) CacheOption {
	return func(c *BackendCache) error {
		c.filterFn = fn
		return nil
	}
}

// WithCacheControl enables Cache-Control request/response interpretation.
// Disabled by default, matching a cache that only knows about
// expire_after/urls_expire_after.
func WithCacheControl(enabled bool) CacheOption {
	return func(c *BackendCache) error {
		c.cacheControl = enabled
		return nil
	}
}

// WithSecretKey enables signed serialization: all writes use
// SerializeSigned, all reads use DeserializeSigned, and a signature
// mismatch on read surfaces as a miss rather than garbage data.
func WithSecretKey(secret string) CacheOption {
	return func(c *BackendCache) error {
		if secret == "" {
			return fmt.Errorf("reqcache: secret key cannot be empty")
		}
		c.secretKey = secret
		return nil
	}
}

// WithAutoclose controls whether Close() releases the underlying Storage
// connections. Default: true.
func WithAutoclose(autoclose bool) CacheOption {
	return func(c *BackendCache) error {
		c.autoclose = autoclose
		return nil
	}
}

// Apply runs opts against c in order, stopping at the first error.
func (c *BackendCache) Apply(opts ...CacheOption) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

// SessionOption configures a CachedSession at construction time.
type SessionOption func(*CachedSession) error

// WithSessionTransport sets the inner http.RoundTripper used to actually
// perform uncached/revalidation requests. Default: http.DefaultTransport.
func WithSessionTransport(rt http.RoundTripper) SessionOption {
	return func(s *CachedSession) error {
		s.Transport = rt
		return nil
	}
}

// WithMarkCachedResponses controls whether responses served from cache
// carry the X-From-Cache header. Default: true.
func WithMarkCachedResponses(mark bool) SessionOption {
	return func(s *CachedSession) error {
		s.markCachedResponses = mark
		return nil
	}
}

// WithRevalidateOn304 controls whether a 304 Not Modified response during
// ConditionalOrFetch refreshes and returns the stored entry. If
// false, a 304 is passed through to the caller unmodified. Default: true.
func WithRevalidateOn304(enabled bool) SessionOption {
	return func(s *CachedSession) error {
		s.revalidateOn304 = enabled
		return nil
	}
}

// WithReturnStaleOnError controls whether a network failure during
// ConditionalOrFetch falls back to returning the stale cached entry
// instead of propagating the error.
// Default: false.
func WithReturnStaleOnError(enabled bool) SessionOption {
	return func(s *CachedSession) error {
		s.returnStaleOnError = enabled
		return nil
	}
}

// WithPerformRequestHook overrides the function CachedSession calls to
// actually issue a request, implementing the mixin/composition
// contract: other wrappers (auth, retries, rate-limiting) can stack by
// supplying their own hook that eventually calls through to the session's
// default.
func WithPerformRequestHook(fn func(*http.Request) (*http.Response, error)) SessionOption {
	return func(s *CachedSession) error {
		s.performRequest = fn
		return nil
	}
}

// expireAfterFromSeconds is a convenience used by backend Config types
// that accept a plain integer "expire after" value matching the -1/0/N
// convention.
func expireAfterFromSeconds(seconds int) ExpireAfter {
	switch {
	case seconds < 0:
		return ExpireAfterNever
	case seconds == 0:
		return ExpireAfterImmediate
	default:
		return ExpireAfterDuration(time.Duration(seconds) * time.Second)
	}
}
