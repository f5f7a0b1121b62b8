//go:build !windows

package manager

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/mcpgate/internal/registry"
	"github.com/loykin/mcpgate/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The child exits abnormally on its first run and stays up afterwards, so a
// single restart cycle recovers the service.
func TestManagerAutoRestartRecovery(t *testing.T) {
	st, err := registry.NewSQLiteStore(registry.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(context.Background()))

	m := New(Config{Store: st})
	t.Cleanup(func() { _ = m.StopAll(10 * time.Second) })

	script := `if [ -f ./ran ]; then sleep 60; else touch ./ran; exit 1; fi`
	def := registry.Service{
		ID:                  uuid.NewString(),
		Name:                "flaky",
		EntryPoint:          "/bin/sh",
		Args:                []string{"-c", script},
		WorkingDir:          t.TempDir(),
		ProxyPath:           "/mcp/flaky",
		AutoRestart:         true,
		MaxRestarts:         2,
		HealthCheckInterval: 3600,
	}
	def.ApplyDefaults()
	require.NoError(t, st.CreateService(context.Background(), &def))

	sup, err := m.Add(def)
	require.NoError(t, err)
	require.NoError(t, sup.Start())

	var snap supervisor.Snapshot
	require.Eventually(t, func() bool {
		snap = sup.Status()
		return snap.State == supervisor.StateRunning && snap.Restarts == 1
	}, 15*time.Second, 50*time.Millisecond, "service never recovered, state=%s restarts=%d",
		snap.State, snap.Restarts)

	assert.Greater(t, snap.PID, 0)

	// The recovery is also visible in the persisted runtime status.
	require.Eventually(t, func() bool {
		got, err := st.GetService(context.Background(), def.ID)
		return err == nil && got.LastStatus == "running"
	}, 5*time.Second, 50*time.Millisecond)
}
