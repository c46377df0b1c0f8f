package memcachedstore

import "testing"

func TestCacheKeyPrefix(t *testing.T) {
	s := NewWithClient(nil)
	if got, want := s.cacheKey("abc"), "reqcache:abc"; got != want {
		t.Errorf("cacheKey() = %q, want %q", got, want)
	}
}
