// Package natsstore implements reqcache.Storage on a NATS JetStream
// Key/Value bucket via github.com/nats-io/nats.go. cache_name becomes the bucket name.
package natsstore

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/halvorsen/reqcache"
)

// Config holds the configuration for creating a Store.
type Config struct {
	// NATSUrl is the URL of the NATS server. Defaults to nats.DefaultURL.
	NATSUrl string

	// Bucket is the name of the K/V bucket to use for caching. Required.
	Bucket string

	// Description is an optional description for the K/V bucket.
	Description string

	// TTL is the time-to-live for cache entries. Zero means no expiry
	// beyond whatever the bucket's own retention policy applies.
	TTL time.Duration

	// NATSOptions are additional options passed to nats.Connect.
	NATSOptions []nats.Option
}

// keyPrefix namespaces reqcache entries within a bucket that may be
// shared with other NATS K/V consumers.
const keyPrefix = "reqcache."

// Store is a reqcache.Storage backed by a NATS JetStream K/V bucket.
type Store struct {
	kv jetstream.KeyValue
	nc *nats.Conn
}

func cacheKey(key string) string {
	return keyPrefix + key
}

// New connects to NATS and creates or updates the configured K/V bucket.
// The caller should call Close() to release the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("natsstore: bucket name is required")
	}

	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, cfg.NATSOptions...)
	if err != nil {
		return nil, fmt.Errorf("natsstore: connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsstore: jetstream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket: cfg.Bucket,
			Description: cfg.Description,
			TTL: cfg.TTL,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsstore: create bucket: %w", err)
	}

	return &Store{kv: kv, nc: nc}, nil
}

// NewWithKeyValue wraps an already-configured jetstream.KeyValue. The
// returned Store does not own the NATS connection and will not close it.
func NewWithKeyValue(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, cacheKey(key))
	if err == jetstream.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("natsstore read %s: %w", key, err)
	}
	return entry.Value(), true, nil
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	if _, err := s.kv.Put(ctx, cacheKey(key), value); err != nil {
		return fmt.Errorf("natsstore write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, cacheKey(key)); err != nil && err != jetstream.ErrKeyNotFound {
		return fmt.Errorf("natsstore delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) BulkDelete(ctx context.Context, keys []string) (int, error) {
	n := 0
	for _, k := range keys {
		_, err := s.kv.Get(ctx, cacheKey(k))
		existed := err == nil
		if err := s.Delete(ctx, k); err != nil {
			return n, err
		}
		if existed {
			n++
		}
	}
	return n, nil
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	_, err := s.kv.Get(ctx, cacheKey(key))
	if err == jetstream.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("natsstore contains %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) Keys(ctx context.Context, fn func(string) error) error {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil
		}
		return fmt.Errorf("natsstore keys: %w", err)
	}
	for _, k := range keys {
		if len(k) < len(keyPrefix) {
			continue
		}
		if err := fn(k[len(keyPrefix):]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Values(ctx context.Context, fn func([]byte) error) error {
	return s.Keys(ctx, func(k string) error {
			val, ok, err := s.Read(ctx, k)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			return fn(val)
	})
}

func (s *Store) Size(ctx context.Context) (int, error) {
	n := 0
	err := s.Keys(ctx, func(string) error { n++; return nil })
	return n, err
}

func (s *Store) Clear(ctx context.Context) error {
	var keys []string
	if err := s.Keys(ctx, func(k string) error { keys = append(keys, k); return nil }); err != nil {
		return err
	}
	_, err := s.BulkDelete(ctx, keys)
	return err
}

// Close closes the underlying NATS connection if this Store owns it (i.e.
// it was created via New rather than NewWithKeyValue).
func (s *Store) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

var _ reqcache.Storage = (*Store)(nil)
