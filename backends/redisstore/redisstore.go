// Package redisstore implements reqcache.Storage on
// github.com/redis/go-redis/v9. cache_name becomes a key-prefix namespace:
// entries live under "<cache_name>:<namespace>:<key>".
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/halvorsen/reqcache"
)

// Config configures a Store's connection pool.
type Config struct {
	Address string
	Password string
	DB int
	PoolSize int
	MaxRetries int
	DialTimeout time.Duration
	ReadTimeout time.Duration
	WriteTimeout time.Duration

	// CacheName and Namespace together form the key prefix
	// "<CacheName>:<Namespace>:". Namespace is typically "responses" or
	// "redirects".
	CacheName string
	Namespace string
}

// DefaultConfig returns a Config with sensible pool defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize: 10,
		MaxRetries: 3,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 5 * time.Second,
		WriteTimeout: 5 * time.Second,
		CacheName: "reqcache",
	}
}

// Store is a reqcache.Storage backed by a single Redis logical database.
type Store struct {
	client *redis.Client
	prefix string
}

func (s *Store) key(key string) string {
	return s.prefix + key
}

// New creates a Store, dialing Redis per cfg and verifying connectivity
// with a PING.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redisstore: address is required")
	}
	def := DefaultConfig()
	if cfg.PoolSize == 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.CacheName == "" {
		cfg.CacheName = def.CacheName
	}

	client := redis.NewClient(&redis.Options{
			Addr: cfg.Address,
			Password: cfg.Password,
			DB: cfg.DB,
			PoolSize: cfg.PoolSize,
			MaxRetries: cfg.MaxRetries,
			DialTimeout: cfg.DialTimeout,
			ReadTimeout: cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, fmt.Errorf("redisstore: connect: %w", err)
	}

	return NewWithClient(client, cfg.CacheName, cfg.Namespace), nil
}

// NewWithClient wraps an already-configured *redis.Client.
func NewWithClient(client *redis.Client, cacheName, namespace string) *Store {
	prefix := cacheName
	if namespace != "" {
		prefix += ":" + namespace
	}
	return &Store{client: client, prefix: prefix + ":"}
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redisstore read %s: %w", key, err)
	}
	return val, true, nil
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redisstore write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redisstore delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) BulkDelete(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	n, err := s.client.Del(ctx, prefixed...).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore bulk delete: %w", err)
	}
	return int(n), nil
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore contains %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *Store) scan(ctx context.Context, fn func(redisKey string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("redisstore scan: %w", err)
		}
		for _, k := range keys {
			if err := fn(k); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *Store) Keys(ctx context.Context, fn func(string) error) error {
	return s.scan(ctx, func(redisKey string) error {
			return fn(redisKey[len(s.prefix):])
	})
}

func (s *Store) Values(ctx context.Context, fn func([]byte) error) error {
	return s.scan(ctx, func(redisKey string) error {
			val, err := s.client.Get(ctx, redisKey).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			return fn(val)
	})
}

func (s *Store) Size(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, func(string) error { n++; return nil })
	return n, err
}

func (s *Store) Clear(ctx context.Context) error {
	var keys []string
	if err := s.scan(ctx, func(k string) error { keys = append(keys, k); return nil }); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redisstore clear: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

var _ reqcache.Storage = (*Store)(nil)
