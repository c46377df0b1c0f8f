// Package blobstore implements reqcache.Storage on Go Cloud Development
// Kit blob storage, giving cloud-agnostic
// access to S3, GCS, Azure Blob Storage and others through the same
// gocloud.dev/blob.Bucket URL scheme.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/halvorsen/reqcache"
)

// Config holds the configuration for the blob store.
type Config struct {
	// BucketURL is the Go Cloud blob URL (e.g. "s3://bucket?region=us-west-2").
	BucketURL string

	// KeyPrefix is prepended to all cache keys (default: "cache/").
	KeyPrefix string

	// Timeout for blob operations (default: 30s).
	Timeout time.Duration

	// Bucket is an optional pre-opened bucket (if nil, BucketURL is used).
	Bucket *blob.Bucket
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "cache/",
		Timeout: 30 * time.Second,
	}
}

// Store implements reqcache.Storage using Go Cloud blob storage.
type Store struct {
	bucket *blob.Bucket
	keyPrefix string
	timeout time.Duration
	ownsBucket bool
}

// New creates a new blob store with the given configuration. The bucket is
// opened using BucketURL. Call Close() to clean up resources when done.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.BucketURL == "" && config.Bucket == nil {
		return nil, fmt.Errorf("blobstore: either BucketURL or Bucket must be provided")
	}

	def := DefaultConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = def.KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}

	var bucket *blob.Bucket
	var ownsBucket bool
	var err error

	if config.Bucket != nil {
		bucket = config.Bucket
	} else {
		bucket, err = blob.OpenBucket(ctx, config.BucketURL)
		if err != nil {
			return nil, fmt.Errorf("blobstore: open bucket: %w", err)
		}
		ownsBucket = true
	}

	return &Store{bucket: bucket, keyPrefix: config.KeyPrefix, timeout: config.Timeout, ownsBucket: ownsBucket}, nil
}

// NewWithBucket creates a store using an already-opened bucket. The caller
// is responsible for closing the bucket.
func NewWithBucket(bucket *blob.Bucket, keyPrefix string, timeout time.Duration) *Store {
	def := DefaultConfig()
	if keyPrefix == "" {
		keyPrefix = def.KeyPrefix
	}
	if timeout == 0 {
		timeout = def.Timeout
	}
	return &Store{bucket: bucket, keyPrefix: keyPrefix, timeout: timeout}
}

// blobKey derives the object key from a cache key. reqcache only ever
// calls Write with an already object-key-safe hex fingerprint (see
// reqcache.CreateKey), so the prefix alone is enough to namespace it and
// Keys() can recover the original key by stripping the prefix back off.
func (s *Store) blobKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	reader, err := s.bucket.NewReader(ctx, s.blobKey(key), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("blobstore read %q: %w", key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("blobstore read %q: %w", key, err)
	}
	return data, true, nil
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	writer, err := s.bucket.NewWriter(ctx, s.blobKey(key), nil)
	if err != nil {
		return fmt.Errorf("blobstore write %q: %w", key, err)
	}

	_, writeErr := writer.Write(value)
	closeErr := writer.Close()
	if writeErr != nil {
		return fmt.Errorf("blobstore write %q: %w", key, writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("blobstore write %q: %w", key, closeErr)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.bucket.Delete(ctx, s.blobKey(key)); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("blobstore delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) BulkDelete(ctx context.Context, keys []string) (int, error) {
	n := 0
	for _, key := range keys {
		existed, err := s.Contains(ctx, key)
		if err != nil {
			return n, err
		}
		if err := s.Delete(ctx, key); err != nil {
			return n, err
		}
		if existed {
			n++
		}
	}
	return n, nil
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	exists, err := s.bucket.Exists(ctx, s.blobKey(key))
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return false, fmt.Errorf("blobstore contains %q: %w", key, err)
	}
	return exists, nil
}

// listBlobKeys iterates every object under keyPrefix and reports the
// logical cache key (the prefix stripped back off).
func (s *Store) listBlobKeys(ctx context.Context, fn func(string) error) error {
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.keyPrefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("blobstore list: %w", err)
		}
		if err := fn(obj.Key[len(s.keyPrefix):]); err != nil {
			return err
		}
	}
}

func (s *Store) Keys(ctx context.Context, fn func(string) error) error {
	return s.listBlobKeys(ctx, fn)
}

func (s *Store) Values(ctx context.Context, fn func([]byte) error) error {
	return s.listBlobKeys(ctx, func(key string) error {
			reader, err := s.bucket.NewReader(ctx, s.blobKey(key), nil)
			if err != nil {
				if gcerrors.Code(err) == gcerrors.NotFound {
					return nil
				}
				return fmt.Errorf("blobstore values: %w", err)
			}
			defer reader.Close()

			data, err := io.ReadAll(reader)
			if err != nil {
				return fmt.Errorf("blobstore values: %w", err)
			}
			return fn(data)
	})
}

func (s *Store) Size(ctx context.Context) (int, error) {
	n := 0
	err := s.listBlobKeys(ctx, func(string) error { n++; return nil })
	return n, err
}

func (s *Store) Clear(ctx context.Context) error {
	var keys []string
	if err := s.listBlobKeys(ctx, func(k string) error { keys = append(keys, k); return nil }); err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.bucket.Delete(ctx, s.blobKey(k)); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("blobstore clear: %w", err)
		}
	}
	return nil
}

// Close closes the bucket if it was opened by New(). If the bucket was
// provided via NewWithBucket(), it's left open for the caller to manage.
func (s *Store) Close() error {
	if s.ownsBucket {
		if err := s.bucket.Close(); err != nil {
			return fmt.Errorf("blobstore: close bucket: %w", err)
		}
	}
	return nil
}

var _ reqcache.Storage = (*Store)(nil)
