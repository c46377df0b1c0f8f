package reqcache

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// RequestInfo is the minimal snapshot of the request that produced a
// CachedResponse, kept alongside the response for revalidation and for
// rebuilding an *http.Request when a cached entry is replayed.
type RequestInfo struct {
	Method string
	URL string
	Headers http.Header
	Body []byte
}

// Link is one parsed element of an RFC 8288 Link header.
type Link struct {
	Target string
	Rel string
	Params map[string]string
}

// CachedResponse is the persistable snapshot of one HTTP exchange. It is the
// unit stored by a Storage backend (after serialization, see serialize.go)
// and the unit handed back to application code by CachedSession.
//
// created_at <= expires is an invariant of any CachedResponse written by
// this package; history entries obey the same invariant recursively.
type CachedResponse struct {
	Method string
	URL string
	StatusCode int
	Reason string
	Header http.Header
	Body []byte
	Cookies []*http.Cookie
	Request RequestInfo

	CreatedAt time.Time
	Expires *time.Time

	History []*CachedResponse
	Links []Link

	// fromCache is true only for responses reconstituted from storage.
	// A freshly fetched response being considered for caching is false.
	fromCache bool
	// readErr records a deserialization/integrity failure that forced this
	// response to behave as unconditionally expired. It is never itself stored.
	readErr error
}

// FromCache reports whether this CachedResponse was reconstituted from a
// Storage backend rather than freshly fetched from the network.
func (r *CachedResponse) FromCache() bool {
	return r != nil && r.fromCache
}

// IsExpired implements the is_expired contract: expired if Expires is
// set and now >= Expires, or if reading/deserializing the entry failed.
func (r *CachedResponse) IsExpired(now time.Time) bool {
	if r == nil {
		return true
	}
	if r.readErr != nil {
		return true
	}
	if r.Expires == nil {
		return false
	}
	return !now.Before(*r.Expires)
}

// ContentLength returns the length of Body in bytes.
func (r *CachedResponse) ContentLength() int64 {
	return int64(len(r.Body))
}

// ContentType returns the media type portion of the Content-Type header,
// without parameters (e.g. "application/json").
func (r *CachedResponse) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		// Fall back to the portion before the first ';'.
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			return strings.TrimSpace(ct[:i])
		}
		return strings.TrimSpace(ct)
	}
	return mediaType
}

// Charset returns the "charset" parameter of the Content-Type header, if any.
func (r *CachedResponse) Charset() string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// ToHTTPResponse builds a *http.Response view over this CachedResponse,
// suitable for returning to application code from CachedSession.RoundTrip.
func (r *CachedResponse) ToHTTPResponse(req *http.Request) *http.Response {
	header := make(http.Header, len(r.Header))
	for k, v := range r.Header {
		header[k] = append([]string(nil), v...)
	}

	resp := &http.Response{
		Status: strconv.Itoa(r.StatusCode) + " " + r.Reason,
		StatusCode: r.StatusCode,
		Proto: "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header: header,
		Body: io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: r.ContentLength(),
		Request: req,
	}
	return resp
}

// parseLinkHeader parses an RFC 8288 Link header value into Link entries.
// Malformed segments are skipped rather than aborting the whole parse.
func parseLinkHeader(value string) []Link {
	if value == "" {
		return nil
	}
	var links []Link
	for _, part := range splitTopLevel(value, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segs := splitTopLevel(part, ';')
		if len(segs) == 0 {
			continue
		}
		target := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		target = target[1 : len(target)-1]

		link := Link{Target: target, Params: map[string]string{}}
		for _, seg := range segs[1:] {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			kv := strings.SplitN(seg, "=", 2)
			key := strings.ToLower(strings.TrimSpace(kv[0]))
			val := ""
			if len(kv) == 2 {
				val = strings.Trim(strings.TrimSpace(kv[1]), `"`)
			}
			if key == "rel" {
				link.Rel = val
			} else {
				link.Params[key] = val
			}
		}
		links = append(links, link)
	}
	return links
}

// splitTopLevel splits s on sep, ignoring occurrences inside a quoted
// string, which is all Link-header parsing needs (no nested quoting).
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case sep:
			if !inQuotes {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// canonicalHeaders returns a copy of h with all keys canonicalized, merging
// values for keys that only differ by case (defensive against backends that
// don't canonicalize on write).
func canonicalHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		ck := textproto.CanonicalMIMEHeaderKey(k)
		out[ck] = append(out[ck], vs...)
	}
	return out
}
