package reqcache

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BackendCache is a two-namespace wrapper (responses, redirects) over a
// pair of Storage instances, plus the policy configuration that decides
// what gets read, written, and how long it lives.
type BackendCache struct {
	name string
	responses Storage
	redirects Storage

	expireAfter ExpireAfter
	urlsExpireAfter URLPatternTable
	allowedCodes map[int]bool
	allowedMethods map[string]bool
	ignoredParams []string
	includeHeaders bool
	filterFn func(*CachedResponse) bool
	cacheControl bool
	secretKey string
	autoclose bool
}

var defaultAllowedCodes = map[int]bool{http.StatusOK: true}
var defaultAllowedMethods = map[string]bool{http.MethodGet: true, http.MethodHead: true}

// NewBackendCache builds a facade over responses/redirects with the given
// name and defaults: allowed_codes={200}, allowed_methods={GET,HEAD},
// expire_after=Never, autoclose=true.
func NewBackendCache(name string, responses, redirects Storage) *BackendCache {
	return &BackendCache{
		name: name,
		responses: responses,
		redirects: redirects,
		expireAfter: ExpireAfterNever,
		allowedCodes: cloneIntSet(defaultAllowedCodes),
		allowedMethods: cloneStringSet(defaultAllowedMethods),
		autoclose: true,
	}
}

func cloneIntSet(m map[int]bool) map[int]bool {
	out := make(map[int]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStringSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CreateKey derives the fingerprint for a request under this cache's
// ignored_params/include_headers policy.
func (c *BackendCache) CreateKey(method, rawURL string, body []byte, headers http.Header) (string, error) {
	return CreateKey(method, rawURL, body, headers, KeyOptions{
			IgnoredParams: c.ignoredParams,
			IncludeHeaders: c.includeHeaders,
	})
}

// GetResponse resolves a redirect entry if present, then reads and
// deserializes the target. It returns (nil, false, nil) on a miss,
// including an integrity or deserialization failure: those are logged, not
// propagated.
func (c *BackendCache) GetResponse(ctx context.Context, key string) (*CachedResponse, bool, error) {
	targetKey := key
	if redirTarget, ok, err := c.redirects.Read(ctx, key); err == nil && ok {
		targetKey = string(redirTarget)
	} else if err != nil {
		GetLogger().Warn("redirect lookup failed", "key", key, "error", err)
	}

	raw, ok, err := c.responses.Read(ctx, targetKey)
	if err != nil {
		GetLogger().Warn("response read failed", "key", targetKey, "error", err)
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}

	resp, derr := c.deserialize(raw)
	if derr != nil {
		GetLogger().Warn("response deserialize failed", "key", targetKey, "error", derr)
		return nil, false, nil
	}
	return resp, true, nil
}

func (c *BackendCache) deserialize(raw []byte) (*CachedResponse, error) {
	if c.secretKey != "" {
		return DeserializeSigned(raw, c.secretKey)
	}
	return Deserialize(raw)
}

func (c *BackendCache) serialize(r *CachedResponse) ([]byte, error) {
	if c.secretKey != "" {
		return SerializeSigned(r, c.secretKey)
	}
	return Serialize(r)
}

// SaveResponse serializes and writes response under key, plus one redirect
// entry per element of response.History mapping that element's own key to
// key (the final target).
func (c *BackendCache) SaveResponse(ctx context.Context, key string, response *CachedResponse) error {
	raw, err := c.serialize(response)
	if err != nil {
		return fmt.Errorf("save response %s: %w", key, err)
	}
	if err := c.responses.Write(ctx, key, raw); err != nil {
		return wrapBackendErr("write response", key, err)
	}

	for _, redirected := range response.History {
		redirKey, err := c.CreateKey(redirected.Method, redirected.URL, nil, redirected.Request.Headers)
		if err != nil {
			GetLogger().Warn("redirect key derivation failed", "url", redirected.URL, "error", err)
			continue
		}
		if err := c.redirects.Write(ctx, redirKey, []byte(key)); err != nil {
			GetLogger().Warn("redirect write failed", "key", redirKey, "error", err)
		}
	}
	return nil
}

// Delete removes response key and any redirect entries pointing to it.
func (c *BackendCache) Delete(ctx context.Context, key string) error {
	if err := c.responses.Delete(ctx, key); err != nil {
		return wrapBackendErr("delete response", key, err)
	}
	var staleRedirects []string
	err := c.redirects.Keys(ctx, func(redirKey string) error {
			val, ok, err := c.redirects.Read(ctx, redirKey)
			if err == nil && ok && string(val) == key {
				staleRedirects = append(staleRedirects, redirKey)
			}
			return nil
	})
	if err != nil {
		GetLogger().Warn("redirect scan failed during delete", "key", key, "error", err)
	}
	if len(staleRedirects) > 0 {
		if _, err := c.redirects.BulkDelete(ctx, staleRedirects); err != nil {
			GetLogger().Warn("redirect cleanup failed", "key", key, "error", err)
		}
	}
	return nil
}

// BulkDelete removes every response key in keys.
func (c *BackendCache) BulkDelete(ctx context.Context, keys []string) (int, error) {
	n, err := c.responses.BulkDelete(ctx, keys)
	if err != nil {
		return n, wrapBackendErr("bulk delete", "", err)
	}
	return n, nil
}

// DeleteURL derives a key for (method, rawURL) under this cache's policy
// and deletes it.
func (c *BackendCache) DeleteURL(ctx context.Context, method, rawURL string) error {
	key, err := c.CreateKey(method, rawURL, nil, nil)
	if err != nil {
		return err
	}
	return c.Delete(ctx, key)
}

// HasURL reports whether (method, rawURL) is currently cached.
func (c *BackendCache) HasURL(ctx context.Context, method, rawURL string) (bool, error) {
	key, err := c.CreateKey(method, rawURL, nil, nil)
	if err != nil {
		return false, err
	}
	_, ok, err := c.GetResponse(ctx, key)
	return ok, err
}

// DeleteExpiredResponses iterates every response, dropping expired ones
// together with the redirect entries that point at them (see Delete).
// If newExpireAfter is non-nil, surviving entries are rewritten with that
// expiration instead of their original one.
func (c *BackendCache) DeleteExpiredResponses(ctx context.Context, newExpireAfter *ExpireAfter) (int, error) {
	now := time.Now().UTC()
	var expiredKeys []string
	var toRewrite []string

	err := c.responses.Keys(ctx, func(key string) error {
			resp, ok, err := c.GetResponse(ctx, key)
			if err != nil || !ok {
				return nil
			}
			if resp.IsExpired(now) {
				expiredKeys = append(expiredKeys, key)
				return nil
			}
			if newExpireAfter != nil {
				toRewrite = append(toRewrite, key)
			}
			return nil
	})
	if err != nil {
		return 0, wrapBackendErr("delete expired responses", "", err)
	}

	for _, key := range toRewrite {
		resp, ok, err := c.GetResponse(ctx, key)
		if err != nil || !ok {
			continue
		}
		expires, writable := newExpireAfter.resolve(resp.CreatedAt)
		if !writable {
			expiredKeys = append(expiredKeys, key)
			continue
		}
		if newExpireAfter.Kind != ExpireNever {
			resp.Expires = &expires
		} else {
			resp.Expires = nil
		}
		if err := c.SaveResponse(ctx, key, resp); err != nil {
			GetLogger().Warn("rewrite during delete_expired_responses failed", "key", key, "error", err)
		}
	}

	n := 0
	for _, key := range expiredKeys {
		if err := c.Delete(ctx, key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// GetURLs streams every URL currently cached.
func (c *BackendCache) GetURLs(ctx context.Context, fn func(url string) error) error {
	return c.responses.Values(ctx, func(raw []byte) error {
			resp, err := c.deserialize(raw)
			if err != nil {
				return nil
			}
			return fn(resp.URL)
	})
}

// Clear removes every entry in both namespaces.
func (c *BackendCache) Clear(ctx context.Context) error {
	if err := c.responses.Clear(ctx); err != nil {
		return wrapBackendErr("clear responses", "", err)
	}
	if err := c.redirects.Clear(ctx); err != nil {
		return wrapBackendErr("clear redirects", "", err)
	}
	return nil
}

// Close releases both underlying Storage connections, if autoclose is set.
func (c *BackendCache) Close() error {
	if !c.autoclose {
		return nil
	}
	err1 := c.responses.Close()
	err2 := c.redirects.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// IsCacheable implements is_cacheable predicate.
func (c *BackendCache) IsCacheable(resp *CachedResponse, reqCC cacheControl) bool {
	if !c.allowedMethods[strings.ToUpper(resp.Method)] {
		return false
	}
	if !c.allowedCodes[resp.StatusCode] {
		return false
	}
	if c.filterFn != nil && !c.filterFn(resp) {
		return false
	}
	if c.cacheControl {
		if _, ok := parseCacheControl(resp.Header)[ccNoStore]; ok {
			return false
		}
	}
	policy := expirationPolicy{
		CacheControl: c.cacheControl,
		DefaultExpire: c.expireAfter,
		URLPatterns: c.urlsExpireAfter,
	}
	exp, writable := resolveExpiration(policy, evaluateRequestCacheControl(c.cacheControl, reqCC), resp.Header, parseCacheControl(resp.Header), resp.URL)
	if !writable {
		return false
	}
	_, stillWritable := exp.resolve(resp.CreatedAt)
	return stillWritable
}
