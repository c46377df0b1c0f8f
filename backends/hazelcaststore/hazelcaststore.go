// Package hazelcaststore implements reqcache.Storage on a Hazelcast
// distributed map via github.com/hazelcast/hazelcast-go-client. Unlike memcached, Hazelcast's IMap natively supports key
// and value enumeration, so Keys/Values/Size/Clear map directly onto the
// client's own methods rather than needing a side index.
package hazelcaststore

import (
	"context"
	"fmt"

	"github.com/hazelcast/hazelcast-go-client"

	"github.com/halvorsen/reqcache"
)

const defaultKeyPrefix = "reqcache:"

// Store is a reqcache.Storage backed by a Hazelcast IMap.
type Store struct {
	m *hazelcast.Map
	keyPrefix string
}

// NewWithMap returns a Store backed by the given Hazelcast map.
func NewWithMap(m *hazelcast.Map) *Store {
	return &Store{m: m, keyPrefix: defaultKeyPrefix}
}

func (s *Store) cacheKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.m.Get(ctx, s.cacheKey(key))
	if err != nil {
		return nil, false, fmt.Errorf("hazelcaststore read %s: %w", key, err)
	}
	if val == nil {
		return nil, false, nil
	}
	data, ok := val.([]byte)
	if !ok {
		return nil, false, nil
	}
	return data, true, nil
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	if err := s.m.Set(ctx, s.cacheKey(key), value); err != nil {
		return fmt.Errorf("hazelcaststore write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.m.Remove(ctx, s.cacheKey(key)); err != nil {
		return fmt.Errorf("hazelcaststore delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) BulkDelete(ctx context.Context, keys []string) (int, error) {
	n := 0
	for _, k := range keys {
		prev, err := s.m.Remove(ctx, s.cacheKey(k))
		if err != nil {
			return n, fmt.Errorf("hazelcaststore bulk delete %s: %w", k, err)
		}
		if prev != nil {
			n++
		}
	}
	return n, nil
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	ok, err := s.m.ContainsKey(ctx, s.cacheKey(key))
	if err != nil {
		return false, fmt.Errorf("hazelcaststore contains %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) Keys(ctx context.Context, fn func(string) error) error {
	keys, err := s.m.GetKeySet(ctx)
	if err != nil {
		return fmt.Errorf("hazelcaststore keys: %w", err)
	}
	prefixLen := len(s.keyPrefix)
	for _, k := range keys {
		str, ok := k.(string)
		if !ok || len(str) < prefixLen {
			continue
		}
		if err := fn(str[prefixLen:]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Values(ctx context.Context, fn func([]byte) error) error {
	values, err := s.m.GetValues(ctx)
	if err != nil {
		return fmt.Errorf("hazelcaststore values: %w", err)
	}
	for _, v := range values {
		data, ok := v.([]byte)
		if !ok {
			continue
		}
		if err := fn(data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Size(ctx context.Context) (int, error) {
	n, err := s.m.Size(ctx)
	if err != nil {
		return 0, fmt.Errorf("hazelcaststore size: %w", err)
	}
	return n, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.m.Clear(ctx); err != nil {
		return fmt.Errorf("hazelcaststore clear: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

var _ reqcache.Storage = (*Store)(nil)
