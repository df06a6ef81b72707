// Package supervisor manages the backend process lifecycle: start, restart
// on relevant file changes, drain of in-flight requests before teardown,
// and a restart budget that surfaces a crashed state instead of restarting
// forever. The supervised process record is exclusively owned here; other
// components only read the published state.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	tavoerrors "github.com/TechWithDunamix/tavo/internal/errors"
	"github.com/TechWithDunamix/tavo/internal/logging"
)

// State enumerates the supervised process lifecycle.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateReady
	StateDraining
	StateRestarting
	StateCrashed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateRestarting:
		return "restarting"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Options configures the supervisor.
type Options struct {
	// Command is the backend process argv.
	Command []string
	// Dir is the working directory.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
	// Addr is the address the backend listens on, polled for readiness.
	Addr string
	// DrainGrace bounds how long in-flight requests may finish before a
	// restart tears the process down.
	DrainGrace time.Duration
	// MaxRestarts is the crash-restart budget before entering crashed.
	MaxRestarts int
	// RestartBackoff is the base delay between crash restarts.
	RestartBackoff time.Duration
	// ReadyTimeout bounds the readiness poll after a start.
	ReadyTimeout time.Duration
	// KillTimeout bounds SIGTERM before escalating to SIGKILL.
	KillTimeout time.Duration
}

// Health is a read-only snapshot of the supervised process.
type Health struct {
	State        State
	PID          int
	StartedAt    time.Time
	RestartCount int
	LastError    string
}

// Supervisor owns the backend process.
type Supervisor struct {
	opts   Options
	logger logging.Logger

	mu           sync.Mutex
	state        State
	proc         *processHandle
	startedAt    time.Time
	restartCount int
	lastErr      error
	inflight     int
	drained      chan struct{} // non-nil while draining with inflight > 0
	generation   int           // increments on every intentional stop
}

// New creates a supervisor. Call Start to launch the process.
func New(opts Options, logger logging.Logger) *Supervisor {
	if opts.ReadyTimeout == 0 {
		opts.ReadyTimeout = 15 * time.Second
	}
	if opts.KillTimeout == 0 {
		opts.KillTimeout = 5 * time.Second
	}
	return &Supervisor{
		opts:   opts,
		logger: logger.WithComponent("supervisor"),
		state:  StateStopped,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Healthz returns a snapshot for the health endpoint.
func (s *Supervisor) Healthz() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := Health{
		State:        s.state,
		StartedAt:    s.startedAt,
		RestartCount: s.restartCount,
	}
	if s.proc != nil {
		h.PID = s.proc.pid()
	}
	if s.lastErr != nil {
		h.LastError = s.lastErr.Error()
	}
	return h
}

// Start launches the backend and waits until it accepts connections.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped && s.state != StateCrashed && s.state != StateRestarting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	return s.launch(ctx)
}

func (s *Supervisor) launch(ctx context.Context) error {
	if len(s.opts.Command) == 0 {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return tavoerrors.NewConfigError("api.command is not configured", nil)
	}

	env := append(os.Environ(), s.opts.Env...)
	proc, err := startProcess(s.opts.Command, s.opts.Dir, env)
	if err != nil {
		s.mu.Lock()
		s.state = StateCrashed
		s.lastErr = err
		s.mu.Unlock()
		return tavoerrors.NewProcessCrash(0, err)
	}

	s.mu.Lock()
	s.proc = proc
	s.startedAt = time.Now()
	generation := s.generation
	s.mu.Unlock()

	if err := s.waitReady(ctx); err != nil {
		proc.terminate(s.opts.KillTimeout)
		s.mu.Lock()
		s.state = StateCrashed
		s.lastErr = err
		s.mu.Unlock()
		return tavoerrors.NewProcessCrash(0, err)
	}

	s.mu.Lock()
	s.state = StateReady
	s.lastErr = nil
	s.mu.Unlock()
	s.logger.Info(ctx, "backend ready", "pid", proc.pid(), "addr", s.opts.Addr)

	go s.monitor(proc, generation)
	return nil
}

// waitReady polls the backend address until it accepts a connection.
func (s *Supervisor) waitReady(ctx context.Context) error {
	if s.opts.Addr == "" {
		return nil
	}
	deadline := time.Now().Add(s.opts.ReadyTimeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := net.DialTimeout("tcp", s.opts.Addr, 250*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("backend did not accept connections on %s within %s", s.opts.Addr, s.opts.ReadyTimeout)
}

// monitor watches for unexpected process exit and applies the restart
// budget with backoff.
func (s *Supervisor) monitor(proc *processHandle, generation int) {
	err := proc.wait()

	s.mu.Lock()
	if s.generation != generation {
		// Intentional stop or restart already superseded this process.
		s.mu.Unlock()
		return
	}
	s.generation++
	s.state = StateRestarting
	s.lastErr = err
	s.restartCount++
	restarts := s.restartCount
	s.mu.Unlock()

	ctx := context.Background()
	s.logger.Warn(ctx, err, "backend exited unexpectedly", "restarts", restarts)

	if restarts > s.opts.MaxRestarts {
		s.enterCrashed(tavoerrors.NewProcessCrash(restarts-1, err))
		return
	}

	time.Sleep(s.opts.RestartBackoff * time.Duration(restarts))

	s.mu.Lock()
	s.state = StateStarting
	s.mu.Unlock()
	if launchErr := s.launch(ctx); launchErr != nil {
		s.enterCrashed(launchErr)
	}
}

func (s *Supervisor) enterCrashed(err error) {
	s.mu.Lock()
	s.state = StateCrashed
	s.lastErr = err
	s.mu.Unlock()
	s.logger.Error(context.Background(), err, "backend crashed; auto-restart suspended until next change")
}

// BeginRequest registers an in-flight proxied request. It returns false
// when the backend is not ready; otherwise the caller must invoke the
// release function when the response completes.
func (s *Supervisor) BeginRequest() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil, false
	}
	s.inflight++
	return s.endRequest, true
}

func (s *Supervisor) endRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if s.inflight == 0 && s.drained != nil {
		close(s.drained)
		s.drained = nil
	}
}

// Restart drains in-flight requests up to the grace period, tears the
// process down, and starts a fresh one. Called on api-classified change
// sets; from crashed it resets the restart budget and retries.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStarting, StateDraining, StateRestarting:
		s.mu.Unlock()
		return nil
	case StateCrashed, StateStopped:
		s.restartCount = 0
		s.state = StateStarting
		s.mu.Unlock()
		return s.launch(ctx)
	}

	// ready -> draining: stop admitting, let in-flight finish.
	s.state = StateDraining
	var wait chan struct{}
	if s.inflight > 0 {
		wait = make(chan struct{})
		s.drained = wait
	}
	proc := s.proc
	s.generation++
	s.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-time.After(s.opts.DrainGrace):
			s.logger.Warn(ctx, nil, "drain grace elapsed with requests in flight")
			s.mu.Lock()
			s.drained = nil
			s.mu.Unlock()
		case <-ctx.Done():
			s.mu.Lock()
			s.drained = nil
			s.mu.Unlock()
			return ctx.Err()
		}
	}

	if proc != nil {
		proc.terminate(s.opts.KillTimeout)
	}

	s.mu.Lock()
	s.state = StateRestarting
	s.restartCount = 0
	s.mu.Unlock()
	s.logger.Info(ctx, "restarting backend")

	s.mu.Lock()
	s.state = StateStarting
	s.mu.Unlock()
	return s.launch(ctx)
}

// Stop terminates the backend for shutdown.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.generation++
	s.state = StateStopped
	s.mu.Unlock()

	if proc != nil {
		proc.terminate(s.opts.KillTimeout)
	}
}
