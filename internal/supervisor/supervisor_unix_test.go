//go:build !windows

package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/mcpgate/internal/history"
	"github.com/loykin/mcpgate/internal/registry"
	"github.com/loykin/mcpgate/internal/rpc"
)

func shService(t *testing.T, script string) registry.Service {
	t.Helper()
	svc := registry.Service{
		ID:         "svc-" + t.Name(),
		Name:       t.Name(),
		EntryPoint: "/bin/sh",
		Args:       []string{"-c", script},
		WorkingDir: t.TempDir(),
		ProxyPath:  "/mcp/test",
	}
	svc.ApplyDefaults()
	svc.HealthCheckInterval = 3600 // keep the probe out of timing-sensitive tests
	return svc
}

func newTestSupervisor(t *testing.T, svc registry.Service, onEvent EventFunc) *Supervisor {
	t.Helper()
	s := New(Config{Service: svc, OnEvent: onEvent})
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func waitForState(t *testing.T, s *Supervisor, want State, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		if s.Status().State == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state=%s, want %s", s.Status().State, want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStartAndStop(t *testing.T) {
	var (
		mu     sync.Mutex
		events []history.EventType
	)
	s := newTestSupervisor(t, shService(t, "sleep 60"), func(e history.Event) {
		mu.Lock()
		events = append(events, e.Type)
		mu.Unlock()
	})

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := s.Status()
	if snap.State != StateRunning || snap.PID == 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if err := s.Start(); !errors.Is(err, rpc.ErrIllegalState) {
		t.Fatalf("second start should be illegal, got %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := s.Status().State; got != StateStopped {
		t.Fatalf("state after stop = %s", got)
	}
	// Stop is idempotent.
	if err := s.Stop(); err != nil {
		t.Fatalf("repeated stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) < 2 || events[0] != history.EventStart || events[len(events)-1] != history.EventStop {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestSendRestoresClientID(t *testing.T) {
	s := newTestSupervisor(t, shService(t,
		`read line; echo '{"jsonrpc":"2.0","id":1,"result":"pong"}'; sleep 30`), nil)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	res, err := s.Send(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":"client-42","method":"ping"}`))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(res, &obj); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if string(obj["id"]) != `"client-42"` {
		t.Fatalf("id not restored: %s", obj["id"])
	}
	if string(obj["result"]) != `"pong"` {
		t.Fatalf("unexpected result: %s", obj["result"])
	}
}

func TestSendTimeout(t *testing.T) {
	svc := shService(t, `read line; sleep 30`)
	svc.Timeout = 100
	s := newTestSupervisor(t, svc, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := s.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"slow"}`))
	if !errors.Is(err, rpc.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestSendWhileStoppedIsIllegal(t *testing.T) {
	s := newTestSupervisor(t, shService(t, "sleep 60"), nil)
	_, err := s.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"x"}`))
	if !errors.Is(err, rpc.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState, got %v", err)
	}
}

func TestCrashTriggersRestartWithBackoff(t *testing.T) {
	svc := shService(t, "exit 1")
	svc.AutoRestart = true
	svc.MaxRestarts = 2
	s := newTestSupervisor(t, svc, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		snap := s.Status()
		if snap.Restarts >= 1 {
			if snap.State != StateRestarting && snap.State != StateCrashed && snap.State != StateStarting {
				t.Fatalf("unexpected state after crash: %s", snap.State)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no restart observed: %+v", snap)
		case <-time.After(20 * time.Millisecond):
		}
	}
	if s.Status().LastError == "" {
		t.Fatal("lastError should be set after crash")
	}
}

func TestRestartCapReachedStaysCrashed(t *testing.T) {
	svc := shService(t, "exit 1")
	svc.AutoRestart = true
	svc.MaxRestarts = 1
	s := newTestSupervisor(t, svc, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		snap := s.Status()
		if snap.State == StateCrashed && snap.Restarts == svc.MaxRestarts {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("cap never reached: %+v", snap)
		case <-time.After(20 * time.Millisecond):
		}
	}

	// Crashed with the counter at the cap is terminal: the next back-off slot
	// would fire at 2s, so watch past it for a stray automatic start.
	time.Sleep(2500 * time.Millisecond)
	snap := s.Status()
	if snap.State != StateCrashed || snap.Restarts != svc.MaxRestarts {
		t.Fatalf("left terminal state: %+v", snap)
	}
}

func TestCrashWithoutAutoRestartStaysCrashed(t *testing.T) {
	s := newTestSupervisor(t, shService(t, "exit 7"), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, s, StateCrashed, 3*time.Second)
	if s.Status().Restarts != 0 {
		t.Fatalf("restarts = %d, want 0", s.Status().Restarts)
	}
}

func TestExplicitStartResetsRestartCounter(t *testing.T) {
	// Crashes on the first spawn only; the flag file survives restarts.
	svc := shService(t, `if [ -f ./flag ]; then sleep 60; else touch ./flag; exit 1; fi`)
	svc.AutoRestart = true
	svc.MaxRestarts = 3
	s := newTestSupervisor(t, svc, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		snap := s.Status()
		if snap.State == StateRunning && snap.Restarts == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("never rebooted into running: %+v", snap)
		case <-time.After(20 * time.Millisecond):
		}
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	snap := s.Status()
	if snap.State != StateRunning || snap.Restarts != 0 {
		t.Fatalf("counter not reset: %+v", snap)
	}
}

func TestNotificationFanOut(t *testing.T) {
	s := newTestSupervisor(t, shService(t,
		`echo '{"jsonrpc":"2.0","method":"ready","params":{"ok":true}}'; sleep 30`), nil)

	chA, cancelA := s.SubscribeNotifications(8)
	defer cancelA()
	chB, cancelB := s.SubscribeNotifications(8)
	defer cancelB()

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i, ch := range []<-chan []byte{chA, chB} {
		select {
		case raw := <-ch:
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(raw, &obj); err != nil {
				t.Fatalf("subscriber %d got invalid frame: %v", i, err)
			}
			if string(obj["method"]) != `"ready"` {
				t.Fatalf("subscriber %d got %s", i, raw)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestStderrCapturedInLogRing(t *testing.T) {
	s := newTestSupervisor(t, shService(t, `echo "boot failure" 1>&2; sleep 30`), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		lines := s.Logs(10)
		if len(lines) > 0 {
			if lines[0].Stream != "stderr" || lines[0].Text != "boot failure" {
				t.Fatalf("unexpected log line: %+v", lines[0])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("stderr line never captured")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
