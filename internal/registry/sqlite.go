package registry

import (
	"context"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	sqlStore
	config Config
}

// NewSQLiteStore opens (or creates) the registry database at config.Path.
// An empty path yields an in-memory database, used by tests.
func NewSQLiteStore(config Config) (*SQLiteStore, error) {
	path := config.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := openSQL("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite works best with a single writer connection.
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(1)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxAge > 0 {
		db.SetConnMaxLifetime(config.ConnMaxAge)
	}

	store := &SQLiteStore{sqlStore: sqlStore{db: db}, config: config}
	if err := store.Ping(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return store, nil
}

var sqliteSchemas = []string{
	`CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		entry_point TEXT NOT NULL,
		working_dir TEXT NOT NULL,
		args TEXT NOT NULL DEFAULT '[]',
		env TEXT NOT NULL DEFAULT '{}',
		proxy_path TEXT NOT NULL UNIQUE,
		rate_limit INTEGER NOT NULL DEFAULT 100,
		cache_ttl INTEGER NOT NULL DEFAULT 0,
		cache_disabled INTEGER NOT NULL DEFAULT 0,
		timeout_ms INTEGER NOT NULL,
		auto_restart INTEGER NOT NULL DEFAULT 0,
		max_restarts INTEGER NOT NULL DEFAULT 0,
		health_check_interval INTEGER NOT NULL DEFAULT 30,
		desired_status TEXT NOT NULL DEFAULT 'stopped',
		last_status TEXT,
		last_error TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		hash TEXT NOT NULL UNIQUE,
		active INTEGER NOT NULL DEFAULT 1,
		last_used TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		encrypted INTEGER NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT ''
	)`,
}

// EnsureSchema creates the registry tables if missing.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	for _, schema := range sqliteSchemas {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}
