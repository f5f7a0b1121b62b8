// Package manager keeps the registry of live supervisors and translates
// their lifecycle events into durable state, history, and metrics.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/mcpgate/internal/history"
	"github.com/loykin/mcpgate/internal/logger"
	"github.com/loykin/mcpgate/internal/registry"
	"github.com/loykin/mcpgate/internal/supervisor"
)

const defaultStopAllTimeout = 30 * time.Second

// Config wires the manager's collaborators.
type Config struct {
	Store    registry.Store
	Sinks    []history.Sink
	LogFiles *logger.FileConfig
	Logger   *slog.Logger
}

// Manager owns one supervisor per service id.
type Manager struct {
	mu    sync.RWMutex
	byID  map[string]*supervisor.Supervisor
	store registry.Store
	sinks history.Fanout
	files *logger.FileConfig
	log   *slog.Logger
}

func New(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		byID:  make(map[string]*supervisor.Supervisor),
		store: cfg.Store,
		sinks: history.Fanout(cfg.Sinks),
		files: cfg.LogFiles,
		log:   log,
	}
}

// Add constructs a supervisor for the definition. Fails if the id is already
// present.
func (m *Manager) Add(def registry.Service) (*supervisor.Supervisor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[def.ID]; exists {
		return nil, fmt.Errorf("supervisor for service %s already exists", def.ID)
	}
	sup := supervisor.New(supervisor.Config{
		Service:  def,
		LogFiles: m.files,
		OnEvent:  m.handleEvent,
		Logger:   m.log,
	})
	m.byID[def.ID] = sup
	return sup, nil
}

// Get returns the supervisor for id, if any.
func (m *Manager) Get(id string) (*supervisor.Supervisor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sup, ok := m.byID[id]
	return sup, ok
}

// Remove stops the supervisor and forgets it.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	sup, ok := m.byID[id]
	delete(m.byID, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return sup.Shutdown()
}

// List returns all live supervisors.
func (m *Manager) List() []*supervisor.Supervisor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*supervisor.Supervisor, 0, len(m.byID))
	for _, sup := range m.byID {
		out = append(out, sup)
	}
	return out
}

// Resolve finds the supervisor whose proxyPath is the longest prefix of path.
func (m *Manager) Resolve(path string) (*supervisor.Supervisor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best    *supervisor.Supervisor
		bestLen = -1
	)
	for _, sup := range m.byID {
		pp := sup.Definition().ProxyPath
		if !matchesPrefix(path, pp) {
			continue
		}
		if len(pp) > bestLen {
			best = sup
			bestLen = len(pp)
		}
	}
	return best, best != nil
}

func matchesPrefix(path, proxyPath string) bool {
	if proxyPath == "/" {
		return true
	}
	return path == proxyPath || strings.HasPrefix(path, proxyPath+"/")
}

// StopAll stops every supervisor concurrently and waits until all have
// stopped or the deadline elapses.
func (m *Manager) StopAll(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultStopAllTimeout
	}
	sups := m.List()

	var wg sync.WaitGroup
	for _, sup := range sups {
		wg.Add(1)
		go func(sup *supervisor.Supervisor) {
			defer wg.Done()
			if err := sup.Shutdown(); err != nil {
				m.log.Warn("shutdown failed", "service", sup.ID(), "error", err)
			}
		}(sup)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("stop-all deadline (%s) elapsed", timeout)
	}
}

// Boot loads all persisted definitions, builds their supervisors, and starts
// those whose desired status is running. Start failures are logged, not
// fatal.
func (m *Manager) Boot(ctx context.Context) error {
	services, err := m.store.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	for _, svc := range services {
		sup, err := m.Add(*svc)
		if err != nil {
			m.log.Warn("skipping service at boot", "service", svc.ID, "error", err)
			continue
		}
		if svc.DesiredStatus == registry.DesiredRunning {
			if err := sup.Start(); err != nil {
				m.log.Warn("boot start failed", "service", svc.ID, "error", err)
			}
		}
	}
	return nil
}

// handleEvent is the single write path for supervisor-observed status: it
// persists the runtime status, forwards to history sinks, and never blocks
// the state machine on sink errors.
func (m *Manager) handleEvent(e history.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if m.store != nil {
		if err := m.store.RecordRuntimeStatus(ctx, e.ServiceID, e.Status, e.Detail); err != nil {
			m.log.Warn("record runtime status", "service", e.ServiceID, "error", err)
		}
	}
	if len(m.sinks) > 0 {
		if err := m.sinks.Send(ctx, e); err != nil {
			m.log.Warn("history sink", "service", e.ServiceID, "error", err)
		}
	}
}
