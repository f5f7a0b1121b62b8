// Package mcpgate exposes a stable embedding API over the internal packages:
// the supervisor manager, the registry store, and the HTTP surface.
package mcpgate

import (
	"context"
	"net/http"
	"time"

	"github.com/loykin/mcpgate/internal/cache"
	cfg "github.com/loykin/mcpgate/internal/config"
	"github.com/loykin/mcpgate/internal/history"
	"github.com/loykin/mcpgate/internal/manager"
	"github.com/loykin/mcpgate/internal/metrics"
	"github.com/loykin/mcpgate/internal/ratelimit"
	"github.com/loykin/mcpgate/internal/registry"
	"github.com/loykin/mcpgate/internal/server"
	"github.com/loykin/mcpgate/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Service = registry.Service

type Snapshot = supervisor.Snapshot

type LogLine = supervisor.LogLine

type Store = registry.Store

type StoreConfig = registry.Config

type Config = cfg.FileConfig

type HistorySink = history.Sink

type HistoryEvent = history.Event

// LoadConfig reads the bootstrap TOML file and applies environment overrides.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewStore opens a registry backend ("sqlite" or "postgres").
func NewStore(config StoreConfig) (Store, error) { return registry.CreateStore(config) }

// Manager is a thin facade over internal/manager.Manager. It provides a
// stable public API for embedding.
type Manager struct{ inner *manager.Manager }

func New(store Store, sinks ...HistorySink) *Manager {
	return &Manager{inner: manager.New(manager.Config{Store: store, Sinks: sinks})}
}

func (m *Manager) Add(def Service) error {
	_, err := m.inner.Add(def)
	return err
}

func (m *Manager) Remove(id string) error { return m.inner.Remove(id) }

// Boot builds supervisors for all persisted services and starts those whose
// desired status is running.
func (m *Manager) Boot(ctx context.Context) error { return m.inner.Boot(ctx) }

func (m *Manager) Start(id string) error {
	sup, ok := m.inner.Get(id)
	if !ok {
		return registry.ErrServiceNotFound
	}
	return sup.Start()
}

func (m *Manager) Stop(id string) error {
	sup, ok := m.inner.Get(id)
	if !ok {
		return registry.ErrServiceNotFound
	}
	return sup.Stop()
}

func (m *Manager) Restart(id string) error {
	sup, ok := m.inner.Get(id)
	if !ok {
		return registry.ErrServiceNotFound
	}
	return sup.Restart()
}

func (m *Manager) Status(id string) (Snapshot, error) {
	sup, ok := m.inner.Get(id)
	if !ok {
		return Snapshot{}, registry.ErrServiceNotFound
	}
	return sup.Status(), nil
}

// Send forwards one raw JSON-RPC request to the service's child process.
func (m *Manager) Send(ctx context.Context, id string, body []byte) ([]byte, error) {
	sup, ok := m.inner.Get(id)
	if !ok {
		return nil, registry.ErrServiceNotFound
	}
	return sup.Send(ctx, body)
}

func (m *Manager) Logs(id string, limit int) ([]LogLine, error) {
	sup, ok := m.inner.Get(id)
	if !ok {
		return nil, registry.ErrServiceNotFound
	}
	return sup.Logs(limit), nil
}

func (m *Manager) StopAll(wait time.Duration) error { return m.inner.StopAll(wait) }

// ServerOptions configures the embeddable HTTP handler.
type ServerOptions struct {
	BasePath     string
	UpgradePath  string
	AuthDisabled bool
}

// NewHandler builds the full HTTP surface (proxy, WebSocket, management API)
// with a fresh rate limiter and response cache.
func NewHandler(m *Manager, store Store, opts ServerOptions) http.Handler {
	return server.NewRouter(server.Config{
		Manager:      m.inner,
		Store:        store,
		Limiter:      ratelimit.New(ratelimit.DefaultWindow),
		Cache:        cache.New(time.Minute),
		BasePath:     opts.BasePath,
		UpgradePath:  opts.UpgradePath,
		AuthDisabled: opts.AuthDisabled,
	}).Handler()
}

// NewHTTPServer wraps a handler in an http.Server with the gateway's
// timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return server.NewServer(addr, handler)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
