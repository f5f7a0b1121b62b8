// Package supervisor owns exactly one MCP child process per service: spawn,
// liveness, restart with back-off, graceful shutdown, and request routing
// over the stdio framer.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/mcpgate/internal/history"
	"github.com/loykin/mcpgate/internal/logger"
	"github.com/loykin/mcpgate/internal/metrics"
	"github.com/loykin/mcpgate/internal/registry"
	"github.com/loykin/mcpgate/internal/rpc"
	"github.com/loykin/mcpgate/internal/stdio"
)

const (
	defaultRingSize = 500
	stopGrace       = 5 * time.Second
	killGrace       = 2 * time.Second
	maxBackoff      = 30 * time.Second
)

// EventFunc receives lifecycle events; the process manager wires it to the
// registry, history sinks, and metrics.
type EventFunc func(e history.Event)

// Config parameterises a supervisor.
type Config struct {
	Service  registry.Service
	LogFiles *logger.FileConfig
	RingSize int
	OnEvent  EventFunc
	Logger   *slog.Logger
}

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
	actionRestart
	actionUpdate
	actionShutdown
)

type command struct {
	action commandAction
	def    registry.Service
	reply  chan error
}

type exitEvent struct {
	gen   int
	err   error
	fatal bool // framer-reported failure with the process possibly alive
}

// Supervisor runs a single child process state machine. All transitions
// happen on the run goroutine; reads take a snapshot under mu.
type Supervisor struct {
	id string

	mu        sync.RWMutex
	def       registry.Service
	state     State
	pid       int
	startedAt time.Time
	restarts  int
	lastErr   string

	gen      int
	framer   *stdio.Framer
	waitDone chan struct{}
	nextID   atomic.Uint64

	cmdChan  chan command
	exitChan chan exitEvent
	doneChan chan struct{}

	restartTimer *time.Timer
	lastProbe    time.Time

	logs       *logRing
	logSubs    *broadcast[LogLine]
	notifySubs *broadcast[[]byte]

	stdoutFile io.WriteCloser
	stderrFile io.WriteCloser

	onEvent EventFunc
	log     *slog.Logger
}

// New builds a supervisor in the stopped state and launches its run loop.
func New(cfg Config) *Supervisor {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{
		id:         cfg.Service.ID,
		def:        cfg.Service,
		state:      StateStopped,
		cmdChan:    make(chan command, 16),
		exitChan:   make(chan exitEvent, 4),
		doneChan:   make(chan struct{}),
		logs:       newLogRing(cfg.RingSize),
		logSubs:    newBroadcast[LogLine](),
		notifySubs: newBroadcast[[]byte](),
		onEvent:    cfg.OnEvent,
		log:        log.With("service", cfg.Service.ID),
	}
	if cfg.LogFiles != nil {
		stdout, stderr, err := cfg.LogFiles.Writers(cfg.Service.ID)
		if err != nil {
			s.log.Warn("child log files disabled", "error", err)
		} else {
			s.stdoutFile = stdout
			s.stderrFile = stderr
		}
	}
	go s.run()
	return s
}

// ID returns the service id this supervisor owns.
func (s *Supervisor) ID() string { return s.id }

// Definition returns a copy of the current service definition.
func (s *Supervisor) Definition() registry.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.def
}

// Status returns a point-in-time snapshot of the runtime state.
func (s *Supervisor) Status() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		State:     s.state,
		PID:       s.pid,
		StartedAt: s.startedAt,
		Restarts:  s.restarts,
		LastError: s.lastErr,
	}
	if s.framer != nil {
		snap.DroppedNotifications = s.framer.Dropped()
	}
	return snap
}

// Start launches the child. The restart counter is reset: this is the
// explicit user-initiated path.
func (s *Supervisor) Start() error { return s.send(command{action: actionStart}) }

// Stop terminates the child. Idempotent.
func (s *Supervisor) Stop() error { return s.send(command{action: actionStop}) }

// Restart stops then starts the child, resetting the restart counter.
func (s *Supervisor) Restart() error { return s.send(command{action: actionRestart}) }

// UpdateDefinition swaps the service definition. Process-level fields take
// effect on the next start; request-level fields apply immediately.
func (s *Supervisor) UpdateDefinition(def registry.Service) error {
	return s.send(command{action: actionUpdate, def: def})
}

// Shutdown stops the child and terminates the run loop.
func (s *Supervisor) Shutdown() error {
	err := s.send(command{action: actionShutdown})
	if s.stdoutFile != nil {
		_ = s.stdoutFile.Close()
	}
	if s.stderrFile != nil {
		_ = s.stderrFile.Close()
	}
	return err
}

func (s *Supervisor) send(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case s.cmdChan <- cmd:
		return <-cmd.reply
	case <-s.doneChan:
		return fmt.Errorf("supervisor for %s is shut down", s.id)
	}
}

// Send forwards one JSON-RPC request to the child and returns the raw
// response frame with the caller's original id restored. The request id is
// always rewritten to a fresh monotonic id so outstanding ids never collide.
func (s *Supervisor) Send(ctx context.Context, body []byte) ([]byte, error) {
	s.mu.RLock()
	state := s.state
	framer := s.framer
	timeout := s.def.TimeoutDuration()
	s.mu.RUnlock()

	if state != StateRunning || framer == nil {
		return nil, rpc.ErrIllegalState
	}

	wireID := rpc.NumberID(s.nextID.Add(1))
	wire, origID, err := rpc.RewriteID(body, wireID)
	if err != nil {
		return nil, rpc.ErrInvalidRequest
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := framer.Call(ctx, wireID, wire)
	if err != nil {
		return nil, err
	}
	return rpc.RestoreID(res.Raw, origID), nil
}

// SubscribeNotifications returns a bounded channel of out-of-band frames.
func (s *Supervisor) SubscribeNotifications(buffer int) (<-chan []byte, func()) {
	return s.notifySubs.subscribe(buffer)
}

// SubscribeLogs returns a bounded channel of captured output lines.
func (s *Supervisor) SubscribeLogs(buffer int) (<-chan LogLine, func()) {
	return s.logSubs.subscribe(buffer)
}

// Logs returns up to limit recent output lines, oldest first.
func (s *Supervisor) Logs(limit int) []LogLine {
	return s.logs.tail(limit)
}

// run is the single state machine goroutine.
func (s *Supervisor) run() {
	defer close(s.doneChan)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		var restartC <-chan time.Time
		if s.restartTimer != nil {
			restartC = s.restartTimer.C
		}

		select {
		case cmd := <-s.cmdChan:
			if s.handleCommand(cmd) {
				return
			}
		case ev := <-s.exitChan:
			s.handleExit(ev)
		case <-restartC:
			s.restartTimer = nil
			if s.currentState() == StateRestarting {
				if err := s.doStart(false); err != nil {
					s.log.Warn("automatic restart failed", "error", err)
				}
			}
		case <-ticker.C:
			s.checkHealth()
		}
	}
}

func (s *Supervisor) handleCommand(cmd command) (shutdown bool) {
	var err error
	switch cmd.action {
	case actionStart:
		err = s.handleStart()
	case actionStop:
		err = s.doStop()
	case actionRestart:
		if err = s.doStop(); err == nil {
			err = s.doStart(true)
		}
	case actionUpdate:
		s.mu.Lock()
		s.def = cmd.def
		s.mu.Unlock()
	case actionShutdown:
		err = s.doStop()
		cmd.reply <- err
		return true
	}
	cmd.reply <- err
	return false
}

func (s *Supervisor) handleStart() error {
	switch s.currentState() {
	case StateRunning, StateStarting:
		return fmt.Errorf("%w: service %s is already %s", rpc.ErrIllegalState, s.id, s.currentState())
	case StateRestarting:
		s.cancelRestartTimer()
	}
	return s.doStart(true)
}

func (s *Supervisor) doStart(resetCounter bool) error {
	s.setState(StateStarting)
	if resetCounter {
		s.mu.Lock()
		s.restarts = 0
		s.mu.Unlock()
	}

	if err := s.spawn(); err != nil {
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		s.setState(StateCrashed)
		s.emit(history.EventCrash, err.Error())
		s.maybeScheduleRestart()
		return err
	}

	s.setState(StateRunning)
	s.emit(history.EventStart, "")
	return nil
}

func (s *Supervisor) spawn() error {
	s.mu.RLock()
	def := s.def
	s.mu.RUnlock()

	cmd := exec.Command(def.EntryPoint, def.Args...)
	cmd.Dir = def.WorkingDir
	cmd.Env = mergedEnv(def.Env)
	configureSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", def.EntryPoint, err)
	}

	framer := stdio.New(stdin, stdio.Options{
		OnDrop: func() {
			metrics.IncDroppedNotification(s.id)
		},
		OnLogLine: func(line string) { s.appendLog("stdout", line) },
		Logger:    s.log,
	})
	framer.Start(stdout)

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.pid = cmd.Process.Pid
	s.startedAt = time.Now()
	s.lastErr = ""
	s.framer = framer
	s.waitDone = make(chan struct{})
	waitDone := s.waitDone
	s.mu.Unlock()

	go s.pumpStderr(stderr)
	go s.pumpNotifications(framer)

	go func() {
		werr := cmd.Wait()
		close(waitDone)
		select {
		case s.exitChan <- exitEvent{gen: gen, err: werr}:
		case <-s.doneChan:
		}
	}()

	go func() {
		select {
		case cause := <-framer.Failed():
			select {
			case s.exitChan <- exitEvent{gen: gen, err: cause, fatal: true}:
			case <-s.doneChan:
			}
		case <-waitDone:
		case <-s.doneChan:
		}
	}()

	s.log.Info("child started", "pid", cmd.Process.Pid, "entryPoint", def.EntryPoint)
	return nil
}

func (s *Supervisor) pumpStderr(r io.Reader) {
	scanner := newLineScanner(r)
	for scanner.Scan() {
		s.appendLog("stderr", scanner.Text())
	}
}

func (s *Supervisor) pumpNotifications(f *stdio.Framer) {
	for raw := range f.Notifications() {
		s.notifySubs.publish(raw)
	}
}

func (s *Supervisor) appendLog(stream, text string) {
	line := LogLine{Time: time.Now(), Stream: stream, Text: text}
	s.logs.add(line)
	s.logSubs.publish(line)

	var w io.Writer
	if stream == "stderr" {
		w = s.stderrFile
	} else {
		w = s.stdoutFile
	}
	if w != nil {
		_, _ = w.Write(append([]byte(text), '\n'))
	}
}

// handleExit processes child death reported by the wait monitor or the
// framer. Stale generations are ignored.
func (s *Supervisor) handleExit(ev exitEvent) {
	s.mu.Lock()
	if ev.gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++ // consume this generation so duplicate reports go stale
	state := s.state
	pid := s.pid
	framer := s.framer
	waitDone := s.waitDone
	s.framer = nil
	s.pid = 0
	s.mu.Unlock()

	if framer != nil {
		framer.Close(rpc.ErrTransportClosed)
	}

	// A stop transitioned to stopped before signalling; this exit is expected.
	if state == StateStopped {
		return
	}

	if ev.fatal && pid > 0 && processAlive(pid) {
		_ = killGroup(pid)
		if waitDone != nil {
			select {
			case <-waitDone:
			case <-time.After(killGrace):
			}
		}
	}

	cause := "child exited"
	if ev.err != nil {
		cause = ev.err.Error()
	}
	s.mu.Lock()
	s.lastErr = cause
	s.mu.Unlock()

	s.log.Warn("child failed", "cause", cause)
	s.setState(StateCrashed)
	s.emit(history.EventCrash, cause)
	s.maybeScheduleRestart()
}

// maybeScheduleRestart arms the back-off timer when auto-restart applies.
func (s *Supervisor) maybeScheduleRestart() {
	s.mu.Lock()
	def := s.def
	if !def.AutoRestart || s.restarts >= def.MaxRestarts {
		s.mu.Unlock()
		return
	}
	s.restarts++
	n := s.restarts
	s.mu.Unlock()

	delay := backoffDelay(n - 1)
	metrics.IncRestart(s.id)
	s.setState(StateRestarting)
	s.emit(history.EventRestart, fmt.Sprintf("restart %d/%d in %s", n, def.MaxRestarts, delay))
	s.log.Info("scheduling restart", "attempt", n, "max", def.MaxRestarts, "delay", delay)

	s.cancelRestartTimer()
	s.restartTimer = time.NewTimer(delay)
}

func backoffDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 5 {
		return maxBackoff
	}
	d := time.Second << uint(n)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// doStop transitions to stopped before signalling so the exit handler does
// not treat the termination as a crash.
func (s *Supervisor) doStop() error {
	s.cancelRestartTimer()

	s.mu.Lock()
	state := s.state
	pid := s.pid
	framer := s.framer
	waitDone := s.waitDone
	s.framer = nil
	s.pid = 0
	s.gen++ // devalue pending exit events from this child
	s.mu.Unlock()

	if state == StateStopped {
		return nil
	}
	s.setState(StateStopped)

	if framer != nil {
		framer.Close(rpc.ErrTransportClosed)
	}

	if pid > 0 {
		_ = terminateGroup(pid)
		if waitDone != nil {
			select {
			case <-waitDone:
			case <-time.After(stopGrace):
				_ = killGroup(pid)
				select {
				case <-waitDone:
				case <-time.After(killGrace):
				}
			}
		}
	}

	s.emit(history.EventStop, "")
	s.log.Info("child stopped")
	return nil
}

// checkHealth probes OS-level liveness while running; a dead child is
// handled exactly like an exit event.
func (s *Supervisor) checkHealth() {
	s.mu.RLock()
	state := s.state
	pid := s.pid
	gen := s.gen
	interval := time.Duration(s.def.HealthCheckInterval) * time.Second
	s.mu.RUnlock()

	if state != StateRunning || pid == 0 || interval <= 0 {
		return
	}
	if time.Since(s.lastProbe) < interval {
		return
	}
	s.lastProbe = time.Now()

	if !processAlive(pid) {
		s.handleExit(exitEvent{gen: gen, err: fmt.Errorf("health probe: process %d not alive", pid)})
	}
}

func (s *Supervisor) currentState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(newState State) {
	s.mu.Lock()
	oldState := s.state
	s.state = newState
	s.mu.Unlock()

	if oldState == newState {
		return
	}
	metrics.RecordStateTransition(s.id, oldState.String(), newState.String())
	metrics.SetCurrentState(s.id, oldState.String(), false)
	metrics.SetCurrentState(s.id, newState.String(), true)
}

func (s *Supervisor) emit(t history.EventType, detail string) {
	if s.onEvent == nil {
		return
	}
	s.mu.RLock()
	e := history.Event{
		Type:         t,
		OccurredAt:   time.Now().UTC(),
		ServiceID:    s.id,
		ServiceName:  s.def.Name,
		Status:       s.state.String(),
		PID:          s.pid,
		RestartCount: s.restarts,
		Detail:       detail,
	}
	s.mu.RUnlock()
	s.onEvent(e)
}

func (s *Supervisor) cancelRestartTimer() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
