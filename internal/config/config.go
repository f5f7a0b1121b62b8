// Package config loads the bootstrap TOML file. Everything beyond bootstrap
// (service definitions, API keys, settings) lives in the registry store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/loykin/mcpgate/internal/history"
	"github.com/loykin/mcpgate/internal/logger"
	"github.com/loykin/mcpgate/internal/registry"
	"github.com/loykin/mcpgate/internal/tlsutil"
	"github.com/spf13/viper"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Server  ServerConfig    `toml:"server" mapstructure:"server"`
	Store   registry.Config `toml:"store" mapstructure:"store"`
	Log     LogConfig       `toml:"log" mapstructure:"log"`
	TLS     tlsutil.Config  `toml:"tls" mapstructure:"tls"`
	History HistoryConfig   `toml:"history" mapstructure:"history"`
}

// HistoryConfig enables optional lifecycle-event sinks.
type HistoryConfig struct {
	ClickHouse *history.ClickHouseConfig `toml:"clickhouse" mapstructure:"clickhouse"`
}

// Sinks builds the configured sinks; connection failures are returned so the
// caller can decide whether they are fatal.
func (h HistoryConfig) Sinks() ([]history.Sink, error) {
	var sinks []history.Sink
	if h.ClickHouse != nil && h.ClickHouse.Addr != "" {
		s, err := history.NewClickHouseSink(*h.ClickHouse)
		if err != nil {
			return nil, fmt.Errorf("clickhouse sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// ServerConfig holds listener and routing options.
type ServerConfig struct {
	Listen      string `toml:"listen" mapstructure:"listen"`
	TLSListen   string `toml:"tls_listen" mapstructure:"tls_listen"`
	BasePath    string `toml:"base_path" mapstructure:"base_path"`
	UpgradePath string `toml:"upgrade_path" mapstructure:"upgrade_path"`
	ExternalURL string `toml:"external_url" mapstructure:"external_url"`
}

// LogConfig configures server logging and per-child output files.
type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// FileLogging converts the child-output portion into a logger.FileConfig, or
// nil when no directory is configured.
func (l LogConfig) FileLogging() *logger.FileConfig {
	if l.Dir == "" {
		return nil
	}
	return &logger.FileConfig{
		Dir:        l.Dir,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// Load reads the TOML file at path and applies environment overrides.
func Load(path string) (*FileConfig, error) {
	fc := Defaults()

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(fc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(fc)
	return fc, nil
}

// Defaults returns the configuration used when no file is present.
func Defaults() *FileConfig {
	return &FileConfig{
		Server: ServerConfig{
			Listen:      ":8080",
			UpgradePath: "/ws",
		},
		Store: registry.Config{Type: "sqlite", Path: "mcpgate.db"},
		Log:   LogConfig{Level: "info"},
	}
}

// applyEnvOverrides maps bootstrap environment variables onto the config:
// MCPGATE_DATABASE_URL (or bare DATABASE_URL) overrides the store,
// MCPGATE_LISTEN the listener, and MCPGATE_ENV=development enables colored
// debug logging.
func applyEnvOverrides(fc *FileConfig) {
	dbURL := os.Getenv("MCPGATE_DATABASE_URL")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL != "" {
		applyDatabaseURL(fc, dbURL)
	}
	if listen := os.Getenv("MCPGATE_LISTEN"); listen != "" {
		fc.Server.Listen = listen
	}
	if env := os.Getenv("MCPGATE_ENV"); strings.EqualFold(env, "development") {
		fc.Log.Level = "debug"
		fc.Log.Color = true
	}
}

// applyDatabaseURL accepts either a plain SQLite path or a postgres:// URL.
func applyDatabaseURL(fc *FileConfig, raw string) {
	if !strings.HasPrefix(raw, "postgres://") && !strings.HasPrefix(raw, "postgresql://") {
		fc.Store = registry.Config{Type: "sqlite", Path: raw}
		return
	}

	trimmed := strings.TrimPrefix(strings.TrimPrefix(raw, "postgresql://"), "postgres://")
	cfg := registry.Config{Type: "postgres", SSLMode: "disable"}

	if at := strings.LastIndexByte(trimmed, '@'); at >= 0 {
		cred := trimmed[:at]
		trimmed = trimmed[at+1:]
		if colon := strings.IndexByte(cred, ':'); colon >= 0 {
			cfg.Username = cred[:colon]
			cfg.Password = cred[colon+1:]
		} else {
			cfg.Username = cred
		}
	}
	if slash := strings.IndexByte(trimmed, '/'); slash >= 0 {
		db := trimmed[slash+1:]
		if q := strings.IndexByte(db, '?'); q >= 0 {
			db = db[:q]
		}
		cfg.Database = db
		trimmed = trimmed[:slash]
	}
	if colon := strings.IndexByte(trimmed, ':'); colon >= 0 {
		cfg.Host = trimmed[:colon]
		if port, err := strconv.Atoi(trimmed[colon+1:]); err == nil {
			cfg.Port = port
		}
	} else {
		cfg.Host = trimmed
	}
	fc.Store = cfg
}
