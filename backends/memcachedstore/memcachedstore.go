// Package memcachedstore implements reqcache.Storage on
// github.com/bradfitz/gomemcache.
//
// Memcached's wire protocol has no key-enumeration command, so Keys,
// Values, Size and Clear are served from a small side index: a single
// memcache item holding the set of live keys, kept in sync with Write and
// Delete via compare-and-swap so concurrent writers don't clobber each
// other's index updates.
package memcachedstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/halvorsen/reqcache"
)

const (
	defaultKeyPrefix = "reqcache:"
	indexSuffix = "__index__"
	casRetries = 10
)

// Store is a reqcache.Storage backed by one or more memcached servers.
type Store struct {
	client *memcache.Client
	keyPrefix string
	indexKey string
}

// New returns a Store using the provided memcached server(s) with equal
// weight. If a server is listed multiple times, it gets a proportional
// amount of weight.
func New(servers ...string) *Store {
	return NewWithClient(memcache.New(servers...))
}

// NewWithClient returns a Store using the given memcache client.
func NewWithClient(client *memcache.Client) *Store {
	return &Store{client: client, keyPrefix: defaultKeyPrefix, indexKey: defaultKeyPrefix + indexSuffix}
}

func (s *Store) cacheKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) Read(_ context.Context, key string) ([]byte, bool, error) {
	item, err := s.client.Get(s.cacheKey(key))
	if err == memcache.ErrCacheMiss {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memcachedstore read %s: %w", key, err)
	}
	return item.Value, true, nil
}

func (s *Store) Write(_ context.Context, key string, value []byte) error {
	if err := s.client.Set(&memcache.Item{Key: s.cacheKey(key), Value: value}); err != nil {
		return fmt.Errorf("memcachedstore write %s: %w", key, err)
	}
	if err := s.indexAdd(key); err != nil {
		return fmt.Errorf("memcachedstore write %s: index: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	err := s.client.Delete(s.cacheKey(key))
	if err != nil && err != memcache.ErrCacheMiss {
		return fmt.Errorf("memcachedstore delete %s: %w", key, err)
	}
	if err := s.indexRemove(key); err != nil {
		return fmt.Errorf("memcachedstore delete %s: index: %w", key, err)
	}
	return nil
}

func (s *Store) BulkDelete(ctx context.Context, keys []string) (int, error) {
	n := 0
	for _, k := range keys {
		if _, err := s.client.Get(s.cacheKey(k)); err == nil {
			n++
		}
		if err := s.Delete(ctx, k); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *Store) Contains(_ context.Context, key string) (bool, error) {
	_, err := s.client.Get(s.cacheKey(key))
	if err == memcache.ErrCacheMiss {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("memcachedstore contains %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) Keys(_ context.Context, fn func(string) error) error {
	keys, _, err := s.readIndex()
	if err != nil {
		return fmt.Errorf("memcachedstore keys: %w", err)
	}
	for k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Values(ctx context.Context, fn func([]byte) error) error {
	keys, _, err := s.readIndex()
	if err != nil {
		return fmt.Errorf("memcachedstore values: %w", err)
	}
	for k := range keys {
		val, ok, err := s.Read(ctx, k)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := fn(val); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Size(_ context.Context) (int, error) {
	keys, _, err := s.readIndex()
	if err != nil {
		return 0, fmt.Errorf("memcachedstore size: %w", err)
	}
	return len(keys), nil
}

func (s *Store) Clear(ctx context.Context) error {
	keys, _, err := s.readIndex()
	if err != nil {
		return fmt.Errorf("memcachedstore clear: %w", err)
	}
	for k := range keys {
		if err := s.client.Delete(s.cacheKey(k)); err != nil && err != memcache.ErrCacheMiss {
			return fmt.Errorf("memcachedstore clear %s: %w", k, err)
		}
	}
	return s.client.Delete(s.indexKey)
}

func (s *Store) Close() error {
	return nil
}

// readIndex returns the current key set and the memcache item it came
// from (nil if the index doesn't exist yet), for use as a CAS base.
func (s *Store) readIndex() (map[string]struct{}, *memcache.Item, error) {
	item, err := s.client.Get(s.indexKey)
	if err == memcache.ErrCacheMiss {
		return map[string]struct{}{}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var keys []string
	if err := json.Unmarshal(item.Value, &keys); err != nil {
		return nil, nil, err
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set, item, nil
}

func (s *Store) writeIndex(keys map[string]struct{}, base *memcache.Item) error {
	list := make([]string, 0, len(keys))
	for k := range keys {
		list = append(list, k)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if base == nil {
		return s.client.Add(&memcache.Item{Key: s.indexKey, Value: data})
	}
	item := &memcache.Item{Key: s.indexKey, Value: data, Flags: base.Flags, CompareAndSwap: base.CompareAndSwap}
	return s.client.CompareAndSwap(item)
}

// indexAdd and indexRemove retry on CAS conflicts, since concurrent
// writers race to update the shared index item.
func (s *Store) indexAdd(key string) error {
	for i := 0; i < casRetries; i++ {
		keys, base, err := s.readIndex()
		if err != nil {
			return err
		}
		if _, ok := keys[key]; ok {
			return nil
		}
		keys[key] = struct{}{}
		err = s.writeIndex(keys, base)
		if err == nil {
			return nil
		}
		if err != memcache.ErrCASConflict && err != memcache.ErrNotStored {
			return err
		}
	}
	return fmt.Errorf("memcachedstore: index update did not converge after %d retries", casRetries)
}

func (s *Store) indexRemove(key string) error {
	for i := 0; i < casRetries; i++ {
		keys, base, err := s.readIndex()
		if err != nil {
			return err
		}
		if _, ok := keys[key]; !ok {
			return nil
		}
		delete(keys, key)
		err = s.writeIndex(keys, base)
		if err == nil {
			return nil
		}
		if err != memcache.ErrCASConflict && err != memcache.ErrNotStored {
			return err
		}
	}
	return fmt.Errorf("memcachedstore: index update did not converge after %d retries", casRetries)
}

var _ reqcache.Storage = (*Store)(nil)
