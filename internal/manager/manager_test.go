//go:build !windows

package manager

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/mcpgate/internal/registry"
	"github.com/loykin/mcpgate/internal/supervisor"
)

func sleepService(t *testing.T, id, proxyPath string) registry.Service {
	t.Helper()
	svc := registry.Service{
		ID:         id,
		Name:       id,
		EntryPoint: "/bin/sh",
		Args:       []string{"-c", "sleep 60"},
		WorkingDir: t.TempDir(),
		ProxyPath:  proxyPath,
	}
	svc.ApplyDefaults()
	svc.HealthCheckInterval = 3600
	return svc
}

func newTestManager(t *testing.T, store registry.Store) *Manager {
	t.Helper()
	m := New(Config{Store: store})
	t.Cleanup(func() { _ = m.StopAll(10 * time.Second) })
	return m
}

func TestAddGetRemove(t *testing.T) {
	m := newTestManager(t, nil)

	svc := sleepService(t, "a", "/mcp/a")
	if _, err := m.Add(svc); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := m.Add(svc); err == nil {
		t.Fatal("duplicate add should fail")
	}

	sup, ok := m.Get("a")
	if !ok || sup.ID() != "a" {
		t.Fatalf("get: ok=%v", ok)
	}

	if err := m.Remove("a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := m.Get("a"); ok {
		t.Fatal("supervisor still present after remove")
	}
	// Removing a missing id is a no-op.
	if err := m.Remove("a"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestResolveLongestPrefix(t *testing.T) {
	m := newTestManager(t, nil)
	for _, p := range []struct{ id, path string }{
		{"root", "/mcp"},
		{"deep", "/mcp/files"},
	} {
		if _, err := m.Add(sleepService(t, p.id, p.path)); err != nil {
			t.Fatalf("add %s: %v", p.id, err)
		}
	}

	cases := []struct {
		path string
		want string
		ok   bool
	}{
		{"/mcp/files/read", "deep", true},
		{"/mcp/files", "deep", true},
		{"/mcp/other", "root", true},
		{"/mcp", "root", true},
		{"/mcpx", "", false},
		{"/elsewhere", "", false},
	}
	for _, c := range cases {
		sup, ok := m.Resolve(c.path)
		if ok != c.ok {
			t.Errorf("Resolve(%s): ok=%v, want %v", c.path, ok, c.ok)
			continue
		}
		if ok && sup.ID() != c.want {
			t.Errorf("Resolve(%s) = %s, want %s", c.path, sup.ID(), c.want)
		}
	}
}

func TestBootStartsDesiredRunning(t *testing.T) {
	store, err := registry.NewSQLiteStore(registry.Config{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	runSvc := sleepService(t, uuid.NewString(), "/mcp/run")
	runSvc.DesiredStatus = registry.DesiredRunning
	stopSvc := sleepService(t, uuid.NewString(), "/mcp/stop")
	for _, svc := range []registry.Service{runSvc, stopSvc} {
		svc := svc
		if err := store.CreateService(ctx, &svc); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	m := newTestManager(t, store)
	if err := m.Boot(ctx); err != nil {
		t.Fatalf("boot: %v", err)
	}

	running, ok := m.Get(runSvc.ID)
	if !ok || running.Status().State != supervisor.StateRunning {
		t.Fatalf("desired-running service not running: %v", running.Status())
	}
	stopped, ok := m.Get(stopSvc.ID)
	if !ok || stopped.Status().State != supervisor.StateStopped {
		t.Fatalf("desired-stopped service not stopped: %v", stopped.Status())
	}

	// The supervisor event path persisted the observed status.
	got, err := store.GetService(ctx, runSvc.ID)
	if err != nil || got.LastStatus != "running" {
		t.Fatalf("runtime status not recorded: %v %+v", err, got)
	}
}

func TestStopAll(t *testing.T) {
	m := newTestManager(t, nil)
	var sups []*supervisor.Supervisor
	for _, id := range []string{"x", "y"} {
		sup, err := m.Add(sleepService(t, id, "/mcp/"+id))
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := sup.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		sups = append(sups, sup)
	}

	if err := m.StopAll(10 * time.Second); err != nil {
		t.Fatalf("stopAll: %v", err)
	}
	for _, sup := range sups {
		if got := sup.Status().State; got != supervisor.StateStopped {
			t.Fatalf("supervisor %s state=%s", sup.ID(), got)
		}
	}
}
