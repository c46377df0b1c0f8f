package reqcache

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/gob"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/scrypt"
)

// gobRecord mirrors CachedResponse's exported fields. gob only encodes
// exported fields, so unexported bookkeeping (fromCache, readErr) is never
// persisted, and a record missing an optional field decodes with that
// field's zero value.
type gobRecord struct {
	Method string
	URL string
	StatusCode int
	Reason string
	Header map[string][]string
	Body []byte
	Cookies []*cookieRecord
	Request RequestInfo
	CreatedAt int64 // unix nanoseconds
	HasExpires bool
	Expires int64
	History []*gobRecord
	Links []Link
}

// cookieRecord avoids gob-encoding http.Cookie directly: its field set
// differs by Go version, and its Raw/RawExpires fields are
// reconstructible from the canonical fields anyway.
type cookieRecord struct {
	Name, Value string
	Path string
	Domain string
	Expires int64
	MaxAge int
	Secure bool
	HTTPOnly bool
	SameSite int
}

func toGobRecord(r *CachedResponse) *gobRecord {
	if r == nil {
		return nil
	}
	g := &gobRecord{
		Method: r.Method,
		URL: r.URL,
		StatusCode: r.StatusCode,
		Reason: r.Reason,
		Header: map[string][]string(r.Header),
		Body: r.Body,
		Request: r.Request,
		CreatedAt: r.CreatedAt.UnixNano(),
		Links: r.Links,
	}
	if r.Expires != nil {
		g.HasExpires = true
		g.Expires = r.Expires.UnixNano()
	}
	for _, c := range r.Cookies {
		g.Cookies = append(g.Cookies, &cookieRecord{
				Name: c.Name, Value: c.Value, Path: c.Path, Domain: c.Domain,
				Expires: c.Expires.UnixNano(), MaxAge: c.MaxAge,
				Secure: c.Secure, HTTPOnly: c.HttpOnly, SameSite: int(c.SameSite),
		})
	}
	for _, h := range r.History {
		g.History = append(g.History, toGobRecord(h))
	}
	return g
}

func fromGobRecord(g *gobRecord) *CachedResponse {
	if g == nil {
		return nil
	}
	r := &CachedResponse{
		Method: g.Method,
		URL: g.URL,
		StatusCode: g.StatusCode,
		Reason: g.Reason,
		Header: canonicalHeaders(g.Header),
		Body: g.Body,
		Request: g.Request,
		Links: g.Links,
		fromCache: true,
	}
	r.CreatedAt = unixNano(g.CreatedAt)
	if g.HasExpires {
		t := unixNano(g.Expires)
		r.Expires = &t
	}
	for _, c := range g.Cookies {
		r.Cookies = append(r.Cookies, cookieToHTTP(c))
	}
	for _, h := range g.History {
		r.History = append(r.History, fromGobRecord(h))
	}
	return r
}

func init() {
	gob.Register(&gobRecord{})
}

// unixNano rebuilds a time.Time from the unix-nanoseconds representation
// used on the wire; a zero input round-trips to the zero time's epoch
// rather than time.Time{}, which is fine since CreatedAt/Expires are never
// meaningfully zero for a real CachedResponse.
func unixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func cookieToHTTP(c *cookieRecord) *http.Cookie {
	return &http.Cookie{
		Name: c.Name,
		Value: c.Value,
		Path: c.Path,
		Domain: c.Domain,
		Expires: unixNano(c.Expires),
		MaxAge: c.MaxAge,
		Secure: c.Secure,
		HttpOnly: c.HTTPOnly,
		SameSite: http.SameSite(c.SameSite),
	}
}

// Serialize encodes a CachedResponse to its plain (unsigned) wire form.
func Serialize(r *CachedResponse) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toGobRecord(r)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

// Deserialize decodes the plain wire form produced by Serialize. A decode
// failure is reported as ErrSerialization so callers treat it as a miss.
func Deserialize(data []byte) (*CachedResponse, error) {
	var g gobRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return fromGobRecord(&g), nil
}

const (
	signatureSize = sha256.Size
	scryptN = 32768
	scryptR = 8
	scryptP = 1
	signKeyLength = 32
)

var (
	signingKeyCache = map[string][]byte{}
	signingKeyCacheMu sync.Mutex
)

// deriveSigningKey stretches the caller-supplied secret into a 32-byte HMAC
// key via scrypt. Derived keys are cached per secret since scrypt is
// deliberately slow.
func deriveSigningKey(secret string) ([]byte, error) {
	signingKeyCacheMu.Lock()
	if key, ok := signingKeyCache[secret]; ok {
		signingKeyCacheMu.Unlock()
		return key, nil
	}
	signingKeyCacheMu.Unlock()

	salt := sha256.Sum256([]byte("reqcache-signed-envelope-v1"))
	key, err := scrypt.Key([]byte(secret), salt[:], scryptN, scryptR, scryptP, signKeyLength)
	if err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}

	signingKeyCacheMu.Lock()
	signingKeyCache[secret] = key
	signingKeyCacheMu.Unlock()
	return key, nil
}

// SerializeSigned wraps the plain encoding of r in an HMAC-SHA256 envelope
// keyed by secret. The envelope is
// [32-byte MAC][plain bytes].
func SerializeSigned(r *CachedResponse, secret string) ([]byte, error) {
	plain, err := Serialize(r)
	if err != nil {
		return nil, err
	}
	key, err := deriveSigningKey(secret)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(plain)
	sig := mac.Sum(nil)

	out := make([]byte, 0, len(sig)+len(plain))
	out = append(out, sig...)
	out = append(out, plain...)
	return out, nil
}

// DeserializeSigned verifies the HMAC envelope produced by SerializeSigned
// before decoding. On signature mismatch it returns ErrIntegrity and the
// caller MUST treat this as a miss, never returning the tampered bytes.
func DeserializeSigned(data []byte, secret string) (*CachedResponse, error) {
	if len(data) < signatureSize {
		return nil, fmt.Errorf("%w: envelope too short", ErrIntegrity)
	}
	sig, plain := data[:signatureSize], data[signatureSize:]

	key, err := deriveSigningKey(secret)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(plain)
	expected := mac.Sum(nil)

	if !hmac.Equal(sig, expected) {
		return nil, ErrIntegrity
	}
	return Deserialize(plain)
}
