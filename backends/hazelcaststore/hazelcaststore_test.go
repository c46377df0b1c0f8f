package hazelcaststore

import "testing"

func TestCacheKeyPrefix(t *testing.T) {
	s := NewWithMap(nil)
	if got, want := s.cacheKey("abc"), "reqcache:abc"; got != want {
		t.Errorf("cacheKey() = %q, want %q", got, want)
	}
}
