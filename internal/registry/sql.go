package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// sqlStore carries the behaviour shared by the SQLite and PostgreSQL
// backends. Queries are written with '?' placeholders and rebound for
// PostgreSQL.
type sqlStore struct {
	db       *sql.DB
	postgres bool
}

func (s *sqlStore) Close() error                   { return s.db.Close() }
func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// rebind rewrites '?' placeholders to '$n' for PostgreSQL.
func (s *sqlStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// --- Services ---

const serviceColumns = `id, name, entry_point, working_dir, args, env, proxy_path,
rate_limit, cache_ttl, cache_disabled, timeout_ms, auto_restart, max_restarts,
health_check_interval, desired_status, last_status, last_error, created_at, updated_at`

func (s *sqlStore) CreateService(ctx context.Context, svc *Service) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	row := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM services WHERE proxy_path = ?`), svc.ProxyPath)
	if err := row.Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateProxyPath
	}

	args, env, err := encodeArgsEnv(svc)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO services (`+serviceColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		svc.ID, svc.Name, svc.EntryPoint, svc.WorkingDir, args, env, svc.ProxyPath,
		svc.RateLimit, svc.CacheTTL, svc.CacheDisabled, svc.Timeout, svc.AutoRestart, svc.MaxRestarts,
		svc.HealthCheckInterval, svc.DesiredStatus, svc.LastStatus, svc.LastError, svc.CreatedAt, svc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	return tx.Commit()
}

func (s *sqlStore) GetService(ctx context.Context, id string) (*Service, error) {
	row := s.queryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id)
	return scanService(row)
}

func (s *sqlStore) UpdateService(ctx context.Context, svc *Service) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	row := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM services WHERE proxy_path = ? AND id <> ?`), svc.ProxyPath, svc.ID)
	if err := row.Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateProxyPath
	}

	args, env, err := encodeArgsEnv(svc)
	if err != nil {
		return err
	}
	svc.UpdatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE services SET name = ?, entry_point = ?, working_dir = ?,
args = ?, env = ?, proxy_path = ?, rate_limit = ?, cache_ttl = ?, cache_disabled = ?, timeout_ms = ?,
auto_restart = ?, max_restarts = ?, health_check_interval = ?, desired_status = ?, updated_at = ?
WHERE id = ?`),
		svc.Name, svc.EntryPoint, svc.WorkingDir, args, env, svc.ProxyPath,
		svc.RateLimit, svc.CacheTTL, svc.CacheDisabled, svc.Timeout,
		svc.AutoRestart, svc.MaxRestarts, svc.HealthCheckInterval, svc.DesiredStatus, svc.UpdatedAt, svc.ID)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrServiceNotFound
	}
	return tx.Commit()
}

func (s *sqlStore) DeleteService(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrServiceNotFound
	}
	return nil
}

func (s *sqlStore) ListServices(ctx context.Context) ([]*Service, error) {
	rows, err := s.query(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (s *sqlStore) SetDesiredStatus(ctx context.Context, id, status string) error {
	res, err := s.exec(ctx, `UPDATE services SET desired_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrServiceNotFound
	}
	return nil
}

func (s *sqlStore) RecordRuntimeStatus(ctx context.Context, id, status, lastError string) error {
	res, err := s.exec(ctx, `UPDATE services SET last_status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, lastError, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrServiceNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanService(row rowScanner) (*Service, error) {
	var svc Service
	var args, env string
	var lastStatus, lastError sql.NullString
	err := row.Scan(&svc.ID, &svc.Name, &svc.EntryPoint, &svc.WorkingDir, &args, &env, &svc.ProxyPath,
		&svc.RateLimit, &svc.CacheTTL, &svc.CacheDisabled, &svc.Timeout, &svc.AutoRestart, &svc.MaxRestarts,
		&svc.HealthCheckInterval, &svc.DesiredStatus, &lastStatus, &lastError, &svc.CreatedAt, &svc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, err
	}
	svc.LastStatus = lastStatus.String
	svc.LastError = lastError.String
	if args != "" {
		if err := json.Unmarshal([]byte(args), &svc.Args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
	}
	if env != "" {
		if err := json.Unmarshal([]byte(env), &svc.Env); err != nil {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}
	return &svc, nil
}

func encodeArgsEnv(svc *Service) (string, string, error) {
	args, err := json.Marshal(svc.Args)
	if err != nil {
		return "", "", fmt.Errorf("encode args: %w", err)
	}
	env, err := json.Marshal(svc.Env)
	if err != nil {
		return "", "", fmt.Errorf("encode env: %w", err)
	}
	return string(args), string(env), nil
}

// --- API keys ---

func (s *sqlStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	key.CreatedAt = time.Now().UTC()
	_, err := s.exec(ctx, `INSERT INTO api_keys (id, name, hash, active, last_used, created_at)
VALUES (?, ?, ?, ?, ?, ?)`, key.ID, key.Name, key.Hash, key.Active, key.LastUsed, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (s *sqlStore) GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	row := s.queryRow(ctx, `SELECT id, name, hash, active, last_used, created_at FROM api_keys WHERE hash = ?`, hash)
	return scanAPIKey(row)
}

func (s *sqlStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE api_keys SET last_used = ? WHERE id = ?`, at.UTC(), id)
	return err
}

func (s *sqlStore) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.query(ctx, `SELECT id, name, hash, active, last_used, created_at FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *sqlStore) SetAPIKeyActive(ctx context.Context, id string, active bool) error {
	res, err := s.exec(ctx, `UPDATE api_keys SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var k APIKey
	var lastUsed sql.NullTime
	err := row.Scan(&k.ID, &k.Name, &k.Hash, &k.Active, &lastUsed, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		k.LastUsed = &t
	}
	return &k, nil
}

// --- Settings ---

func (s *sqlStore) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var st Setting
	row := s.queryRow(ctx, `SELECT key, value, encrypted, category FROM settings WHERE key = ?`, key)
	err := row.Scan(&st.Key, &st.Value, &st.Encrypted, &st.Category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *sqlStore) SetSetting(ctx context.Context, st *Setting) error {
	if s.postgres {
		_, err := s.exec(ctx, `INSERT INTO settings (key, value, encrypted, category) VALUES (?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, encrypted = EXCLUDED.encrypted, category = EXCLUDED.category`,
			st.Key, st.Value, st.Encrypted, st.Category)
		return err
	}
	_, err := s.exec(ctx, `INSERT INTO settings (key, value, encrypted, category) VALUES (?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, encrypted = excluded.encrypted, category = excluded.category`,
		st.Key, st.Value, st.Encrypted, st.Category)
	return err
}

func (s *sqlStore) ListSettings(ctx context.Context, category string) ([]*Setting, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if category == "" {
		rows, err = s.query(ctx, `SELECT key, value, encrypted, category FROM settings ORDER BY key`)
	} else {
		rows, err = s.query(ctx, `SELECT key, value, encrypted, category FROM settings WHERE category = ? ORDER BY key`, category)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.Encrypted, &st.Category); err != nil {
			return nil, err
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
