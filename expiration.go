package reqcache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ExpireAfterKind distinguishes the four ExpireAfter variants.
type ExpireAfterKind int

const (
	// ExpireNever means the entry never expires.
	ExpireNever ExpireAfterKind = iota
	// ExpireImmediate means the entry must not be written at all.
	ExpireImmediate
	// ExpireDuration means the entry expires CreatedAt+Duration.
	ExpireDuration
	// ExpireInstant means the entry expires at an absolute UTC instant.
	ExpireInstant
)

// ExpireAfter is a sum type: Never | Immediate(0) | Duration(seconds) |
// Instant(utc). Use the constructors below rather than building one by hand.
type ExpireAfter struct {
	Kind ExpireAfterKind
	Duration time.Duration
	At time.Time
}

// ExpireAfterNever never expires.
var ExpireAfterNever = ExpireAfter{Kind: ExpireNever}

// ExpireAfterImmediate marks an entry as not writable (interval 0).
var ExpireAfterImmediate = ExpireAfter{Kind: ExpireImmediate}

// ExpireAfterDuration expires d after the entry is created. A negative d is
// normalized to Never, matching the "-1 denotes Never" convention.
func ExpireAfterDuration(d time.Duration) ExpireAfter {
	if d < 0 {
		return ExpireAfterNever
	}
	if d == 0 {
		return ExpireAfterImmediate
	}
	return ExpireAfter{Kind: ExpireDuration, Duration: d}
}

// ExpireAfterInstant expires at an absolute UTC instant.
func ExpireAfterInstant(at time.Time) ExpireAfter {
	return ExpireAfter{Kind: ExpireInstant, At: at.UTC()}
}

// resolve projects an ExpireAfter onto an absolute expiration, relative to
// createdAt. The second return is false only for ExpireImmediate (caller
// must skip the write entirely); ExpireNever returns the zero time and true.
func (e ExpireAfter) resolve(createdAt time.Time) (expires time.Time, writable bool) {
	switch e.Kind {
	case ExpireNever:
		return time.Time{}, true
	case ExpireImmediate:
		return time.Time{}, false
	case ExpireDuration:
		return createdAt.Add(e.Duration), true
	case ExpireInstant:
		return e.At, true
	default:
		return time.Time{}, true
	}
}

// URLPattern is one entry of urls_expire_after: a glob matched against a
// request's scheme-stripped base URL, evaluated in insertion order with
// first-match-wins semantics.
type URLPattern struct {
	Pattern string
	Expire ExpireAfter

	segments []string // host/path segments, lowercase, for matching
}

// URLPatternTable is an ordered list of URLPattern entries.
type URLPatternTable []URLPattern

// NewURLPattern compiles a glob pattern. "*" matches exactly one host-label
// or path segment; "**" matches any number of remaining path segments.
// Patterns must not contain a scheme.
func NewURLPattern(pattern string, expire ExpireAfter) (URLPattern, error) {
	if strings.Contains(pattern, "://") {
		return URLPattern{}, fmt.Errorf("%w: %q must not include a scheme", ErrInvalidPattern, pattern)
	}
	trimmed := strings.TrimSuffix(pattern, "/")
	if trimmed == "" {
		return URLPattern{}, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	return URLPattern{
		Pattern: pattern,
		Expire: expire,
		segments: strings.Split(strings.ToLower(trimmed), "/"),
	}, nil
}

// Match reports whether baseURL (scheme stripped, e.g. "api.example.com/x")
// satisfies this pattern.
func (p URLPattern) Match(baseURL string) bool {
	target := strings.Split(strings.ToLower(strings.TrimSuffix(baseURL, "/")), "/")
	return matchSegments(p.segments, target)
}

func matchSegments(pattern, target []string) bool {
	if len(pattern) == 0 {
		return len(target) == 0
	}
	head := pattern[0]
	if head == "**" {
		if len(pattern) == 1 {
			return true
		}
		for i := 0; i <= len(target); i++ {
			if matchSegments(pattern[1:], target[i:]) {
				return true
			}
		}
		return false
	}
	if len(target) == 0 {
		return false
	}
	if head != "*" && !matchHostLabel(head, target[0]) {
		return false
	}
	return matchSegments(pattern[1:], target[1:])
}

// matchHostLabel allows "*" within a single segment (e.g. "*.example.com")
// by falling back to a simple glob-to-suffix check.
func matchHostLabel(pattern, segment string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == segment
	}
	parts := strings.Split(pattern, "*")
	if len(parts) != 2 {
		return pattern == segment
	}
	return strings.HasPrefix(segment, parts[0]) && strings.HasSuffix(segment, parts[1]) &&
	len(segment) >= len(parts[0])+len(parts[1])
}

// FirstMatch returns the ExpireAfter of the first matching pattern, in
// table order.
func (t URLPatternTable) FirstMatch(baseURL string) (ExpireAfter, bool) {
	for _, p := range t {
		if p.Match(baseURL) {
			return p.Expire, true
		}
	}
	return ExpireAfter{}, false
}

// baseURL strips the scheme from rawURL, leaving "host/path" for matching
// against a URLPatternTable.
func baseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.TrimPrefix(u.Host+u.Path, "/")
}

// httpDateLayouts are the RFC 5322 / RFC 7231 date forms a Date, Expires,
// or Last-Modified header may use, tried in order. time.RFC1123 and
// time.RFC1123Z cover the modern preferred form; the remaining two are the
// obsolete forms RFC 7231 still requires recipients to accept.
var httpDateLayouts = []string{
	time.RFC1123,
	time.RFC1123Z,
	time.RFC850,
	time.ANSIC,
}

// parseHTTPDate parses an HTTP-date header value into UTC, trying every
// form RFC 7231 requires a recipient to accept.
func parseHTTPDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	var lastErr error
	for _, layout := range httpDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("parse http-date %q: %w", value, lastErr)
}

// expirationPolicy bundles everything resolveExpiration needs beyond the
// request/response pair themselves: the session-level defaults.
type expirationPolicy struct {
	CacheControl bool
	DefaultExpire ExpireAfter
	URLPatterns URLPatternTable
	PerRequestSet bool
	PerRequest ExpireAfter
}

// readDecision is the outcome of evaluating request-side Cache-Control
// against rules 1-3, before any network activity.
type readDecision struct {
	SkipRead bool
	SkipWrite bool
	RequestMaxAge ExpireAfter
	RequestMaxAgeOK bool
}

// evaluateRequestCacheControl implements rules 1-3.
func evaluateRequestCacheControl(cacheControlEnabled bool, reqHeaders cacheControl) readDecision {
	var d readDecision
	if !cacheControlEnabled {
		return d
	}
	if _, ok := reqHeaders[ccNoStore]; ok {
		d.SkipRead = true
		d.SkipWrite = true
		return d
	}
	if _, ok := reqHeaders[ccNoCache]; ok {
		d.SkipRead = true
	}
	if v, ok := reqHeaders[ccMaxAge]; ok {
		if secs, err := parseNonNegativeSeconds(v); err == nil {
			d.RequestMaxAge = ExpireAfterDuration(time.Duration(secs) * time.Second)
			d.RequestMaxAgeOK = true
		}
	}
	return d
}

// resolveExpiration implements the full precedence chain (rules 3-7),
// returning the ExpireAfter to apply to a response about to be cached and
// whether response headers forbid storage outright.
func resolveExpiration(policy expirationPolicy, reqCC readDecision, respHeaders http.Header, respCacheControl cacheControl, rawURL string) (ExpireAfter, bool) {
	if policy.CacheControl {
		if _, ok := respCacheControl[ccNoStore]; ok {
			return ExpireAfter{}, false
		}
		if reqCC.RequestMaxAgeOK {
			return reqCC.RequestMaxAge, true
		}
		if v, ok := respCacheControl[ccMaxAge]; ok {
			if secs, err := parseNonNegativeSeconds(v); err == nil {
				return ExpireAfterDuration(time.Duration(secs) * time.Second), true
			}
		}
		if expiresHeader := respHeaders.Get("Expires"); expiresHeader != "" {
			if at, err := parseHTTPDate(expiresHeader); err == nil {
				return ExpireAfterInstant(at), true
			}
		}
	}

	if policy.PerRequestSet {
		return policy.PerRequest, true
	}
	if exp, ok := policy.URLPatterns.FirstMatch(baseURL(rawURL)); ok {
		return exp, true
	}
	return policy.DefaultExpire, true
}

func parseNonNegativeSeconds(v string) (int64, error) {
	var secs int64
	_, err := fmt.Sscanf(v, "%d", &secs)
	if err != nil {
		return 0, err
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative max-age")
	}
	return secs, nil
}
