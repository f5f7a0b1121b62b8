package registry

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store on PostgreSQL via the pgx stdlib driver.
type PostgresStore struct {
	sqlStore
	config Config
}

// NewPostgresStore opens a connection pool against the configured server.
func NewPostgresStore(config Config) (*PostgresStore, error) {
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database, config.SSLMode)

	db, err := openSQL("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgresql database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if config.ConnMaxAge > 0 {
		db.SetConnMaxLifetime(config.ConnMaxAge)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	store := &PostgresStore{sqlStore: sqlStore{db: db, postgres: true}, config: config}
	if err := store.Ping(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgresql database: %w", err)
	}
	return store, nil
}

var postgresSchemas = []string{
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
		cache_disabled BOOLEAN NOT NULL DEFAULT FALSE,
		timeout_ms BIGINT NOT NULL,
		auto_restart BOOLEAN NOT NULL DEFAULT FALSE,
		max_restarts INTEGER NOT NULL DEFAULT 0,
		health_check_interval INTEGER NOT NULL DEFAULT 30,
		desired_status TEXT NOT NULL DEFAULT 'stopped',
		last_status TEXT,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		hash TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_used TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		encrypted BOOLEAN NOT NULL DEFAULT FALSE,
		category TEXT NOT NULL DEFAULT ''
	)`,
}

// EnsureSchema creates the registry tables if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, schema := range postgresSchemas {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}
