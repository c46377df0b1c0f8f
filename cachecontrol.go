package reqcache

import (
	"net/http"
	"strings"
)

// Cache-Control directive names used by the expiry resolution chain.
// Directives outside this set (s-maxage, must-revalidate, private/public,
// stale-while-revalidate, ...) are parsed but otherwise ignored.
const (
	ccNoStore = "no-store"
	ccNoCache = "no-cache"
	ccMaxAge = "max-age"
)

// cacheControl is a parsed Cache-Control header: directive name to value,
// empty string for valueless directives.
type cacheControl map[string]string

// parseCacheControl parses a Cache-Control header. Per RFC 9111, a
// repeated directive keeps its first value; resolveExpiration's precedence
// chain already encodes which directive wins.
func parseCacheControl(headers http.Header) cacheControl {
	cc := cacheControl{}
	raw := headers.Get("Cache-Control")
	if raw == "" {
		return cc
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if _, exists := cc[name]; exists {
			continue
		}
		cc[name] = value
	}
	return cc
}
