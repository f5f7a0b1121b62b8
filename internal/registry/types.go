package registry

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrServiceNotFound    = errors.New("service not found")
	ErrDuplicateProxyPath = errors.New("proxy path already in use")
	ErrKeyNotFound        = errors.New("api key not found")
	ErrSettingNotFound    = errors.New("setting not found")
)

// Desired statuses persisted for a service and recovered at boot.
const (
	DesiredRunning = "running"
	DesiredStopped = "stopped"
)

// Service is the durable definition of one MCP child process.
// Timeout is milliseconds; CacheTTL and HealthCheckInterval are seconds.
type Service struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	EntryPoint          string            `json:"entryPoint"`
	WorkingDir          string            `json:"workingDir"`
	Args                []string          `json:"args,omitempty"`
	Env                 map[string]string `json:"env,omitempty"`
	ProxyPath           string            `json:"proxyPath"`
	RateLimit           int               `json:"rateLimit"`
	CacheTTL            int               `json:"cacheTTL"`
	CacheDisabled       bool              `json:"cacheDisabled,omitempty"`
	Timeout             int64             `json:"timeout"`
	AutoRestart         bool              `json:"autoRestart"`
	MaxRestarts         int               `json:"maxRestarts"`
	HealthCheckInterval int               `json:"healthCheckInterval"`
	DesiredStatus       string            `json:"desiredStatus"`
	LastStatus          string            `json:"lastStatus,omitempty"`
	LastError           string            `json:"lastError,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// Defaults applied when a field is zero at creation.
const (
	DefaultRateLimit           = 100
	DefaultTimeoutMs           = 30000
	DefaultHealthCheckInterval = 30
)

// TimeoutDuration returns the per-request deadline.
func (s *Service) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Millisecond
}

// CacheTTLDuration returns the cache expiry; zero disables caching.
func (s *Service) CacheTTLDuration() time.Duration {
	return time.Duration(s.CacheTTL) * time.Second
}

// ApplyDefaults fills zero-valued tunables.
func (s *Service) ApplyDefaults() {
	if s.RateLimit == 0 {
		s.RateLimit = DefaultRateLimit
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeoutMs
	}
	if s.HealthCheckInterval == 0 {
		s.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if s.DesiredStatus == "" {
		s.DesiredStatus = DesiredStopped
	}
}

// Validate enforces the definition invariants.
func (s *Service) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.EntryPoint == "" {
		return errors.New("entryPoint is required")
	}
	if !filepath.IsAbs(s.WorkingDir) {
		return errors.New("workingDir must be an absolute path")
	}
	if s.ProxyPath == "" || !strings.HasPrefix(s.ProxyPath, "/") {
		return errors.New("proxyPath must start with '/'")
	}
	if s.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if s.RateLimit < 0 {
		return errors.New("rateLimit must be >= 0")
	}
	if s.MaxRestarts < 0 {
		return errors.New("maxRestarts must be >= 0")
	}
	if s.CacheTTL < 0 {
		return errors.New("cacheTTL must be >= 0")
	}
	return nil
}

// APIKey is the durable record of an issued management key. Only the SHA-256
// of the secret is stored.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Hash      string     `json:"-"`
	Active    bool       `json:"active"`
	LastUsed  *time.Time `json:"lastUsed,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Setting is a row in the key-value settings facade. Encrypted values are
// opaque to the core; decryption belongs to the collaborator-owned store.
type Setting struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted"`
	Category  string `json:"category"`
}

// HashKey produces the irreversible hex digest stored for an API key.
func HashKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// NewSecret generates a fresh API key secret.
func NewSecret() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate key secret: %w", err)
	}
	return "mgk_" + hex.EncodeToString(buf[:]), nil
}

// Config selects and parameterises a registry backend.
type Config struct {
	Type string `toml:"type" mapstructure:"type"` // "sqlite" or "postgres"

	// SQLite specific
	Path string `toml:"path,omitempty" mapstructure:"path"`

	// PostgreSQL specific
	Host     string `toml:"host,omitempty" mapstructure:"host"`
	Port     int    `toml:"port,omitempty" mapstructure:"port"`
	Database string `toml:"database,omitempty" mapstructure:"database"`
	Username string `toml:"username,omitempty" mapstructure:"username"`
	Password string `toml:"password,omitempty" mapstructure:"password"`
	SSLMode  string `toml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`

	// Connection pooling
	MaxOpenConns int           `toml:"max_open_conns,omitempty" mapstructure:"max_open_conns"`
	MaxIdleConns int           `toml:"max_idle_conns,omitempty" mapstructure:"max_idle_conns"`
	ConnMaxAge   time.Duration `toml:"conn_max_age,omitempty" mapstructure:"conn_max_age"`
}

// Store is the durable registry behind the manager and the management API.
// Implementations must be safe for concurrent use.
type Store interface {
	Close() error
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error

	CreateService(ctx context.Context, svc *Service) error
	GetService(ctx context.Context, id string) (*Service, error)
	UpdateService(ctx context.Context, svc *Service) error
	DeleteService(ctx context.Context, id string) error
	ListServices(ctx context.Context) ([]*Service, error)

	// SetDesiredStatus records the user's intent for recovery at boot.
	SetDesiredStatus(ctx context.Context, id, status string) error
	// RecordRuntimeStatus persists the supervisor-observed status and last
	// error. The supervisor event path is the only writer.
	RecordRuntimeStatus(ctx context.Context, id, status, lastError string) error

	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
	SetAPIKeyActive(ctx context.Context, id string, active bool) error

	GetSetting(ctx context.Context, key string) (*Setting, error)
	SetSetting(ctx context.Context, st *Setting) error
	ListSettings(ctx context.Context, category string) ([]*Setting, error)
}
