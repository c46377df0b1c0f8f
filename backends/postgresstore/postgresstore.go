// Package postgresstore implements reqcache.Storage on jackc/pgx, against
// either a pgxpool.Pool or a single *pgx.Conn.
package postgresstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halvorsen/reqcache"
)

var (
	// ErrNilPool is returned when a nil pool is provided.
	ErrNilPool = errors.New("postgresstore: pool cannot be nil")
	// ErrNilConn is returned when a nil connection is provided.
	ErrNilConn = errors.New("postgresstore: connection cannot be nil")
)

const (
	// DefaultTableName is the default table name for cache storage.
	DefaultTableName = "reqcache"
	// DefaultKeyPrefix is the default prefix for cache keys.
	DefaultKeyPrefix = "cache:"
)

// Config holds the configuration for a Store.
type Config struct {
	// TableName is the name of the table to store cache entries.
	TableName string
	// KeyPrefix is the prefix added to all cache keys.
	KeyPrefix string
	// Timeout is the maximum time to wait for database operations.
	Timeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		TableName: DefaultTableName,
		KeyPrefix: DefaultKeyPrefix,
		Timeout: 5 * time.Second,
	}
}

// pgconnResult narrows pgconn.CommandTag to the one method Store needs,
// avoiding a direct pgconn import just for a type name.
type pgconnResult interface {
	RowsAffected() int64
}

// Store is a reqcache.Storage backed by a PostgreSQL table.
type Store struct {
	pool *pgxpool.Pool
	conn *pgx.Conn
	tableName string
	keyPrefix string
	timeout time.Duration
}

func (s *Store) cacheKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	var err error
	if s.pool != nil {
		_, err = s.pool.Exec(ctx, sql, args...)
	} else {
		_, err = s.conn.Exec(ctx, sql, args...)
	}
	return err
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if s.pool != nil {
		return s.pool.QueryRow(ctx, sql, args...)
	}
	return s.conn.QueryRow(ctx, sql, args...)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if s.pool != nil {
		return s.pool.Query(ctx, sql, args...)
	}
	return s.conn.Query(ctx, sql, args...)
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var data []byte
	err := s.queryRow(ctx, `SELECT data FROM `+s.tableName+` WHERE key = $1`, s.cacheKey(key)).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgresstore read %s: %w", key, err)
	}
	return data, true, nil
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
	INSERT INTO ` + s.tableName + ` (key, data, created_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (key) DO UPDATE SET data = $2, created_at = $3
	`
	if err := s.exec(ctx, query, s.cacheKey(key), value, time.Now()); err != nil {
		return fmt.Errorf("postgresstore write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.exec(ctx, `DELETE FROM `+s.tableName+` WHERE key = $1`, s.cacheKey(key)); err != nil {
		return fmt.Errorf("postgresstore delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) BulkDelete(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.cacheKey(k)
	}

	var err error
	var tag pgconnResult
	if s.pool != nil {
		tag, err = s.pool.Exec(ctx, `DELETE FROM `+s.tableName+` WHERE key = ANY($1)`, prefixed)
	} else {
		tag, err = s.conn.Exec(ctx, `DELETE FROM `+s.tableName+` WHERE key = ANY($1)`, prefixed)
	}
	if err != nil {
		return 0, fmt.Errorf("postgresstore bulk delete: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var exists bool
	err := s.queryRow(ctx, `SELECT EXISTS(SELECT 1 FROM `+s.tableName+` WHERE key = $1)`, s.cacheKey(key)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgresstore contains %s: %w", key, err)
	}
	return exists, nil
}

func (s *Store) Keys(ctx context.Context, fn func(string) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.query(ctx, `SELECT key FROM `+s.tableName)
	if err != nil {
		return fmt.Errorf("postgresstore keys: %w", err)
	}
	defer rows.Close()

	prefixLen := len(s.keyPrefix)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return fmt.Errorf("postgresstore keys: scan: %w", err)
		}
		if err := fn(key[prefixLen:]); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Values(ctx context.Context, fn func([]byte) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.query(ctx, `SELECT data FROM `+s.tableName)
	if err != nil {
		return fmt.Errorf("postgresstore values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("postgresstore values: scan: %w", err)
		}
		if err := fn(data); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Size(ctx context.Context) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM `+s.tableName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgresstore size: %w", err)
	}
	return n, nil
}

func (s *Store) Clear(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.exec(ctx, `DELETE FROM `+s.tableName); err != nil {
		return fmt.Errorf("postgresstore clear: %w", err)
	}
	return nil
}

// CreateTable creates the cache table if it doesn't exist.
func (s *Store) CreateTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
		key TEXT PRIMARY KEY,
		data BYTEA NOT NULL,
		created_at TIMESTAMP NOT NULL
	)
	`
	return s.exec(ctx, query)
}

// Close closes the connection pool or connection.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	} else if s.conn != nil {
		return s.conn.Close(context.Background())
	}
	return nil
}

// NewWithPool returns a new Store using the provided connection pool.
func NewWithPool(pool *pgxpool.Pool, config *Config) (*Store, error) {
	if pool == nil {
		return nil, ErrNilPool
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Store{pool: pool, tableName: config.TableName, keyPrefix: config.KeyPrefix, timeout: config.Timeout}, nil
}

// NewWithConn returns a new Store using the provided connection.
func NewWithConn(conn *pgx.Conn, config *Config) (*Store, error) {
	if conn == nil {
		return nil, ErrNilConn
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Store{conn: conn, tableName: config.TableName, keyPrefix: config.KeyPrefix, timeout: config.Timeout}, nil
}

// New creates a Store with a connection pool from the given connection
// string, creating the cache table if it doesn't already exist.
func New(ctx context.Context, connString string, config *Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultConfig()
	}

	store := &Store{pool: pool, tableName: config.TableName, keyPrefix: config.KeyPrefix, timeout: config.Timeout}
	if err := store.CreateTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

var _ reqcache.Storage = (*Store)(nil)
