package reqcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync/atomic"
	"time"
)

// XFromCache is set on responses served from the cache.
const XFromCache = "X-From-Cache"

// maxRedirects bounds the hops fetchChain will follow before giving up and
// returning the last response as-is, matching net/http's own default client
// redirect cap.
const maxRedirects = 10

// CachedSession is an http.RoundTripper implementing the request
// state machine: Start, CheckDisabled, DeriveKey, PolicyReadCheck, Lookup,
// ConditionalOrFetch, Fetch, PostFetch, Return. It wraps an inner
// http.RoundTripper (the "external HTTP client") and a *BackendCache.
type CachedSession struct {
	Cache *BackendCache
	Transport http.RoundTripper
	Jar *cookiejar.Jar

	markCachedResponses bool
	revalidateOn304 bool
	returnStaleOnError bool
	performRequest func(*http.Request) (*http.Response, error)

	disabled atomic.Bool
}

// NewCachedSession builds a CachedSession over cache, applying opts. The
// underlying transport defaults to http.DefaultTransport.
func NewCachedSession(cache *BackendCache, opts ...SessionOption) (*CachedSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("new cached session: %w", err)
	}
	s := &CachedSession{
		Cache: cache,
		Transport: http.DefaultTransport,
		Jar: jar,
		markCachedResponses: true,
		revalidateOn304: true,
		returnStaleOnError: false,
	}
	s.performRequest = s.defaultPerformRequest
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Disabled runs fn with this session's cache bypassed: every request within
// fn goes straight to the network and nothing is read from or written to
// the cache. It is safe to nest and restores the prior state on return,
// even if fn panics.
func (s *CachedSession) Disabled(fn func() error) error {
	prev := s.disabled.Swap(true)
	defer s.disabled.Store(prev)
	return fn()
}

// DeleteExpiredResponses proxies to the underlying BackendCache.
func (s *CachedSession) DeleteExpiredResponses(ctx context.Context, newExpireAfter *ExpireAfter) (int, error) {
	return s.Cache.DeleteExpiredResponses(ctx, newExpireAfter)
}

// RoundTrip implements http.RoundTripper, running the full state
// machine. Every cache-side error is absorbed here: the network call is
// the only thing that can make RoundTrip itself return an error.
func (s *CachedSession) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	// CheckDisabled
	if s.disabled.Load() {
		return s.fetch(req, nil)
	}

	// DeriveKey
	body, err := readAndRestoreBody(req)
	if err != nil {
		return nil, fmt.Errorf("reqcache: read request body: %w", err)
	}
	key, err := s.Cache.CreateKey(req.Method, req.URL.String(), body, req.Header)
	if err != nil {
		GetLogger().Warn("key derivation failed, bypassing cache", "url", req.URL.String(), "error", err)
		return s.fetch(req, nil)
	}

	// PolicyReadCheck
	reqCC := parseCacheControl(req.Header)
	decision := evaluateRequestCacheControl(s.Cache.cacheControl, reqCC)
	if decision.SkipRead {
		prev, _, _ := s.lookupAllowingExpired(ctx, key)
		return s.conditionalOrFetch(req, prev, key, decision.SkipWrite)
	}

	// Lookup
	cached, hit, _ := s.Cache.GetResponse(ctx, key)
	if hit && !cached.IsExpired(time.Now().UTC()) {
		return s.returnCached(req, cached), nil
	}

	// ConditionalOrFetch (hit&expired, or miss with cached==nil)
	return s.conditionalOrFetch(req, cached, key, decision.SkipWrite)
}

func (s *CachedSession) lookupAllowingExpired(ctx context.Context, key string) (*CachedResponse, bool, error) {
	return s.Cache.GetResponse(ctx, key)
}

func (s *CachedSession) conditionalOrFetch(req *http.Request, prev *CachedResponse, key string, skipWrite bool) (*http.Response, error) {
	condReq := req
	if prev != nil {
		condReq = addConditionalHeaders(req, prev)
	}

	resp, finalReq, history, err := s.fetchChain(condReq, prev)
	if err != nil {
		if prev != nil && s.returnStaleOnError {
			GetLogger().Warn("network error, returning stale cached response", "key", key, "error", err)
			return s.returnCached(req, prev), nil
		}
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified && prev != nil && s.revalidateOn304 {
		return s.handleNotModified(req, resp, prev, key)
	}

	return s.postFetch(req, finalReq, resp, key, skipWrite, history)
}

// fetchChain performs req, following any redirect chain returned by the
// server itself (CachedSession is a RoundTripper, below the http.Client that
// would otherwise do this), so that the final cached response carries a
// populated History and the facade's redirect-entry bookkeeping in
// SaveResponse is exercised by real traffic. Each intermediate hop's body is
// read and closed to build its CachedResponse snapshot; the terminal
// response's Body is left open for the caller.
func (s *CachedSession) fetchChain(req *http.Request, prev *CachedResponse) (*http.Response, *http.Request, []*CachedResponse, error) {
	current := req
	var history []*CachedResponse

	for {
		resp, err := s.fetch(current, prev)
		if err != nil {
			return nil, current, history, err
		}

		if !isRedirectStatus(resp.StatusCode) || len(history) >= maxRedirects {
			return resp, current, history, nil
		}

		next, ok := nextRedirectRequest(current, resp)
		if !ok {
			return resp, current, history, nil
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, current, history, fmt.Errorf("reqcache: read redirect hop body: %w", readErr)
		}
		history = append(history, responseToCached(current, resp, body))

		current = next
		prev = nil // conditional headers target the original resource, not the redirect target
	}
}

// isRedirectStatus reports whether code is one net/http's client follows.
func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// nextRedirectRequest builds the request for the next hop of a redirect,
// mirroring net/http's own redirect-following method/body rules: 301/302/303
// preserve GET/HEAD and otherwise convert to a bodyless GET; 307/308 preserve
// method and body, refusing the redirect if the original body can't be
// replayed. Conditional headers are stripped since they target the original
// resource, not the redirect target.
func nextRedirectRequest(current *http.Request, resp *http.Response) (*http.Request, bool) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, false
	}
	target, err := current.URL.Parse(loc)
	if err != nil {
		return nil, false
	}

	method := current.Method
	var getBody func() (io.ReadCloser, error)
	var body io.ReadCloser

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		if method != http.MethodGet && method != http.MethodHead {
			method = http.MethodGet
		}
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		if current.Body != nil && current.GetBody == nil {
			return nil, false
		}
		if current.GetBody != nil {
			b, err := current.GetBody()
			if err != nil {
				return nil, false
			}
			body = b
			getBody = current.GetBody
		}
	default:
		return nil, false
	}

	next, err := http.NewRequestWithContext(current.Context(), method, target.String(), body)
	if err != nil {
		return nil, false
	}
	next.Header = current.Header.Clone()
	next.GetBody = getBody
	for _, h := range []string{"If-None-Match", "If-Modified-Since", "If-Match", "If-Unmodified-Since"} {
		next.Header.Del(h)
	}
	if body == nil {
		next.Header.Del("Content-Length")
		next.Header.Del("Content-Type")
	}
	return next, true
}

func (s *CachedSession) handleNotModified(req *http.Request, resp *http.Response, prev *CachedResponse, key string) (*http.Response, error) {
	for name, values := range resp.Header {
		prev.Header[name] = values
	}
	policy := expirationPolicy{
		CacheControl: s.Cache.cacheControl,
		DefaultExpire: s.Cache.expireAfter,
		URLPatterns: s.Cache.urlsExpireAfter,
	}
	exp, writable := resolveExpiration(policy, readDecision{}, prev.Header, parseCacheControl(prev.Header), prev.URL)
	if writable {
		if at, ok := exp.resolve(time.Now().UTC()); ok {
			prev.Expires = &at
		}
	}
	if err := s.Cache.SaveResponse(req.Context(), key, prev); err != nil {
		GetLogger().Warn("304 write-back failed", "key", key, "error", err)
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()
	return s.returnCached(req, prev), nil
}

// postFetch finalizes resp, which was fetched for req but may have arrived
// via finalReq after following the redirect chain recorded in history. When
// history is non-empty, the entry is saved under the final hop's own key (so
// a later lookup of req's key resolves through the redirects namespace to
// it), exercising the same path SaveResponse already offers for History.
func (s *CachedSession) postFetch(req, finalReq *http.Request, resp *http.Response, key string, skipWrite bool, history []*CachedResponse) (*http.Response, error) {
	bodyBytes, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reqcache: read response body: %w", err)
	}

	cr := responseToCached(finalReq, resp, bodyBytes)
	cr.History = history

	saveKey := key
	if len(history) > 0 {
		if k, kerr := s.Cache.CreateKey(finalReq.Method, finalReq.URL.String(), nil, finalReq.Header); kerr == nil {
			saveKey = k
		} else {
			GetLogger().Warn("final redirect hop key derivation failed, saving under original key", "url", finalReq.URL.String(), "error", kerr)
		}
	}

	if !skipWrite {
		reqCC := parseCacheControl(req.Header)
		if s.Cache.IsCacheable(cr, reqCC) {
			policy := expirationPolicy{
				CacheControl: s.Cache.cacheControl,
				DefaultExpire: s.Cache.expireAfter,
				URLPatterns: s.Cache.urlsExpireAfter,
			}
			exp, _ := resolveExpiration(policy, evaluateRequestCacheControl(s.Cache.cacheControl, reqCC), resp.Header, parseCacheControl(resp.Header), finalReq.URL.String())
			if at, ok := exp.resolve(cr.CreatedAt); ok {
				cr.Expires = &at
			}
			if err := s.Cache.SaveResponse(req.Context(), saveKey, cr); err != nil {
				GetLogger().Warn("save response failed", "key", saveKey, "error", err)
			}
		}
	}

	if s.Jar != nil {
		s.Jar.SetCookies(req.URL, resp.Cookies())
	}

	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	return resp, nil
}

func (s *CachedSession) returnCached(req *http.Request, cached *CachedResponse) *http.Response {
	resp := cached.ToHTTPResponse(req)
	if s.markCachedResponses {
		resp.Header.Set(XFromCache, "1")
	}
	return resp
}

func (s *CachedSession) fetch(req *http.Request, prev *CachedResponse) (*http.Response, error) {
	return s.performRequest(req)
}

func (s *CachedSession) defaultPerformRequest(req *http.Request) (*http.Response, error) {
	rt := s.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return rt.RoundTrip(req)
}

func addConditionalHeaders(req *http.Request, prev *CachedResponse) *http.Request {
	if etag := prev.Header.Get("ETag"); etag != "" && req.Header.Get("If-None-Match") == "" {
		req = cloneRequest(req)
		req.Header.Set("If-None-Match", etag)
	}
	if lm := prev.Header.Get("Last-Modified"); lm != "" && req.Header.Get("If-Modified-Since") == "" {
		req = cloneRequest(req)
		req.Header.Set("If-Modified-Since", lm)
	}
	return req
}

func cloneRequest(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	return clone
}

func readAndRestoreBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return body, nil
}

func responseToCached(req *http.Request, resp *http.Response, body []byte) *CachedResponse {
	reqBody, _ := readAndRestoreBody(req)
	now := time.Now().UTC()
	return &CachedResponse{
		Method: req.Method,
		URL: req.URL.String(),
		StatusCode: resp.StatusCode,
		Reason: http.StatusText(resp.StatusCode),
		Header: canonicalHeaders(resp.Header),
		Body: body,
		Cookies: resp.Cookies(),
		Request: RequestInfo{
			Method: req.Method,
			URL: req.URL.String(),
			Headers: req.Header,
			Body: reqBody,
		},
		CreatedAt: now,
		Links: parseLinkHeader(resp.Header.Get("Link")),
	}
}
