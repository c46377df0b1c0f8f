package reqcache

import (
	"crypto/sha1" //nolint:gosec // used as a stable fingerprint, not for security
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// KeyOptions controls how CreateKey normalizes a request before hashing it.
type KeyOptions struct {
	// IgnoredParams lists query-parameter names, JSON/form body field names,
	// and (when IncludeHeaders is true) header names to drop before hashing.
	IgnoredParams []string
	// IncludeHeaders, when true, folds the request headers (minus
	// IgnoredParams) into the key.
	IncludeHeaders bool
}

// CreateKey derives the deterministic fingerprint for a request.
// It is a pure function of its inputs: no clock, no randomness, no I/O.
func CreateKey(method, rawURL string, body []byte, headers http.Header, opts KeyOptions) (string, error) {
	ignored := make(map[string]bool, len(opts.IgnoredParams))
	for _, p := range opts.IgnoredParams {
		ignored[strings.ToLower(p)] = true
	}

	normURL, err := normalizeURL(rawURL, ignored)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(normURL)
	b.WriteByte('\n')
	b.Write(normalizeBody(body, ignored))

	if opts.IncludeHeaders {
		b.WriteByte('\n')
		b.WriteString(normalizeHeadersForKey(headers, ignored))
	}

	sum := sha1.Sum([]byte(b.String())) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}

// normalizeURL lowercases scheme/host, strips default ports and the
// fragment, drops ignored query parameters, and sorts the remaining ones
// lexicographically while preserving repeated occurrences of the same name.
func normalizeURL(rawURL string, ignored map[string]bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = stripDefaultPort(host, u.Scheme)
	u.Host = host
	u.Fragment = ""

	if u.RawQuery != "" {
		values := u.Query()
		for name := range ignored {
			values.Del(name)
		}
		u.RawQuery = encodeSortedQuery(values)
	}

	return u.String(), nil
}

func stripDefaultPort(host, scheme string) string {
	defaultPort := map[string]string{"http": ":80", "https": ":443"}[scheme]
	if defaultPort != "" && strings.HasSuffix(host, defaultPort) {
		return strings.TrimSuffix(host, defaultPort)
	}
	return host
}

// encodeSortedQuery re-encodes query values sorted by parameter name; values
// for the same name keep their relative order so "?a=1&a=2" != "?a=2&a=1"
// but both differ from "?a=1".
func encodeSortedQuery(values url.Values) string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		for _, v := range values[name] {
			parts = append(parts, url.QueryEscape(name)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

// normalizeBody canonicalizes the request body for inclusion in the key:
// JSON objects are re-serialized with sorted keys (minus ignored fields),
// form-urlencoded bodies have ignored fields dropped and are sorted, and
// anything else passes through unchanged.
func normalizeBody(body []byte, ignored map[string]bool) []byte {
	if len(body) == 0 {
		return nil
	}

	var asMap map[string]any
	if json.Unmarshal(body, &asMap) == nil {
		for name := range ignored {
			delete(asMap, name)
		}
		// encoding/json sorts map keys (recursively) when marshaling,
		// giving a canonical form for free.
		out, err := json.Marshal(asMap)
		if err == nil {
			return out
		}
	}

	if values, err := url.ParseQuery(string(body)); err == nil && looksLikeForm(string(body)) {
		for name := range ignored {
			values.Del(name)
		}
		return []byte(encodeSortedQuery(values))
	}

	return body
}

// looksLikeForm is a conservative heuristic to avoid treating arbitrary
// binary or plain-text bodies as form-urlencoded just because
// url.ParseQuery happens not to error on them.
func looksLikeForm(body string) bool {
	if body == "" {
		return false
	}
	for _, r := range body {
		if r == '=' || r == '&' {
			return true
		}
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == '%' || r == '.' || r == '-' || r == '_' || r == '+') {
			return false
		}
	}
	return false
}

// normalizeHeadersForKey lowercases header names, drops ignored ones, sorts
// them, and folds the canonical "name:value" pairs together.
func normalizeHeadersForKey(headers http.Header, ignored map[string]bool) string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		lower := strings.ToLower(name)
		if ignored[lower] {
			continue
		}
		names = append(names, lower)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+":"+strings.Join(headers[http.CanonicalHeaderKey(name)], ","))
	}
	return strings.Join(parts, "|")
}
