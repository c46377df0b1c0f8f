package reqcache

import "context"

// Storage is the async key→bytes CRUD + iteration contract every backend
// implements. A BackendCache wraps two Storage instances, one per
// namespace ("responses", "redirects").
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Storage interface {
	// Read returns the bytes stored under key. ok is false on a miss; it is
	// never true alongside a non-nil error.
	Read(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Write stores value under key, overwriting any existing entry.
	Write(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is a no-op, not an error.
	Delete(ctx context.Context, key string) error

	// BulkDelete removes every key in keys, returning how many entries
	// actually existed and were removed. Backends should make this
	// atomic-best-effort; it is never required to be all-or-nothing.
	BulkDelete(ctx context.Context, keys []string) (removed int, err error)

	// Contains reports whether key is present, without reading its value.
	Contains(ctx context.Context, key string) (bool, error)

	// Keys streams every key currently stored. The snapshot is
	// best-effort: backends need not guarantee isolation from concurrent
	// writes during iteration. The callback returning an error stops
	// iteration and that error is returned from Keys.
	Keys(ctx context.Context, fn func(key string) error) error

	// Values streams every stored value, paired logically with Keys (not
	// necessarily in the same order across two separate calls).
	Values(ctx context.Context, fn func(value []byte) error) error

	// Size returns the number of entries. Eventually-consistent backends
	// may return an approximation.
	Size(ctx context.Context) (int, error)

	// Clear removes every entry in this namespace.
	Clear(ctx context.Context) error

	// Close releases any underlying connection(s). Safe to call more than
	// once.
	Close() error
}
