// Package sqlite implements reqcache.Storage on a single SQLite file
//.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/halvorsen/reqcache"
)

// DefaultTableName is the table used to hold cache entries.
const DefaultTableName = "reqcache"

// Config configures a Store.
type Config struct {
	// CacheName is the path to the database file. A leading "~/" is
	// expanded to the user's home directory, matching "user-home
	// expansion" requirement. ":memory:" opens an in-process database.
	CacheName string
	// TableName is the table holding cache entries.
	TableName string
	// FastSave relaxes SQLite's durability guarantees (WAL journal mode,
	// synchronous=NORMAL) in exchange for throughput.
	FastSave bool
}

// DefaultConfig returns a Config for path with FastSave disabled.
func DefaultConfig(path string) Config {
	return Config{CacheName: path, TableName: DefaultTableName}
}

// Store is a reqcache.Storage backed by SQLite. It holds exactly one
// connection, guarded by an in-process mutex: SQLite serializes writers
// internally, but a shared mutex avoids "database is locked" errors under
// concurrent use from this process.
type Store struct {
	mu sync.Mutex
	db *sql.DB
	tableName string
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") && path != "~" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("sqlite: expand home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// New opens (creating if necessary) the database described by cfg and
// ensures its schema exists.
func New(cfg Config) (*Store, error) {
	if cfg.TableName == "" {
		cfg.TableName = DefaultTableName
	}
	path := cfg.CacheName
	if path != ":memory:" {
		expanded, err := expandHome(path)
		if err != nil {
			return nil, err
		}
		path = expanded
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: create cache dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One logical connection: database/sql pools by default, but SQLite
	// only tolerates one writer at a time anyway, so a single connection
	// removes the need to serialize at the driver level ourselves.
	db.SetMaxOpenConns(1)

	if cfg.FastSave {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
			db.Close() //nolint:errcheck
			return nil, fmt.Errorf("sqlite: set fast_save pragmas: %w", err)
		}
	}

	s := &Store{db: db, tableName: cfg.TableName}
	if err := s.createTable(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *Store) createTable() error {
	_, err := s.db.Exec(fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value BLOB NOT NULL)`,
			s.tableName,
	))
	return err
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var value []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, s.tableName), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, s.tableName),
		key, value,
	)
	if err != nil {
		return fmt.Errorf("sqlite write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, s.tableName), key)
	if err != nil {
		return fmt.Errorf("sqlite delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) BulkDelete(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = k
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE key IN (%s)`, s.tableName, strings.Join(placeholders, ","))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite bulk delete: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exists int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE key = ?`, s.tableName), key,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite contains %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) Keys(ctx context.Context, fn func(string) error) error {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT key FROM %s`, s.tableName))
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("sqlite keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Values(ctx context.Context, fn func([]byte) error) error {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT value FROM %s`, s.tableName))
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("sqlite values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return err
		}
		if err := fn(value); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Size(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.tableName)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite size: %w", err)
	}
	return n, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.tableName)); err != nil {
		return fmt.Errorf("sqlite clear: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ reqcache.Storage = (*Store)(nil)
