// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package supervisor keeps the loader and server processes running.
//
// The loader is started first; the server is started only once the loader
// has reported ready. A child that reports failure or exits is stopped and
// respawned after a short delay until it has been restarted the maximum
// number of times, after which it stays Terminated and the health surface
// reports the degradation.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/stacklok/fnhive/pkg/logger"
)

const (
	// DefaultMaxRestarts bounds restarts per role.
	DefaultMaxRestarts = 100
	// DefaultRestartDelay is the pause between a failure and the respawn.
	DefaultRestartDelay = time.Second
)

// Role identifies a supervised process.
type Role string

const (
	// RoleLoader prepares and serves module sources.
	RoleLoader Role = "loader"
	// RoleServer accepts HTTP traffic.
	RoleServer Role = "server"
)

// Status is a child's lifecycle state.
type Status string

// Lifecycle states. Failed is transient: the role is respawned after the
// restart delay unless the restart bound is reached, in which case it becomes
// Terminated.
const (
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
)

// Child is a running supervised process.
type Child interface {
	// Signals delivers status messages and is closed when the child's
	// signal channel ends.
	Signals() <-chan Signal
	// Wait blocks until the child exits.
	Wait() error
	// Stop terminates the child.
	Stop() error
	PID() int
}

// Spawner starts children.
type Spawner interface {
	Spawn(ctx context.Context, role Role) (Child, error)
}

// Handle is the supervisor's view of one role.
type Handle struct {
	Role         Role      `json:"role"`
	Status       Status    `json:"status"`
	RestartCount int       `json:"restart_count"`
	PID          int       `json:"pid,omitempty"`
	Instance     string    `json:"instance,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	Since        time.Time `json:"since"`
}

type eventKind int

const (
	eventSignal eventKind = iota
	eventExit
	eventRestart
)

type event struct {
	role     Role
	instance string
	kind     eventKind
	signal   Signal
	err      error
}

type running struct {
	id    string
	child Child
}

// Supervisor runs the loader/server state machine. All state changes happen
// on the Run goroutine; Snapshot may be called concurrently.
type Supervisor struct {
	spawner     Spawner
	maxRestarts int
	delay       backoff.BackOff
	now         func() time.Time

	events chan event
	done   chan struct{}

	mu       sync.RWMutex
	handles  map[Role]*Handle
	children map[Role]*running
	// pending holds the restart scheduled for a role that has no child
	pending map[Role]string
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithMaxRestarts overrides DefaultMaxRestarts.
func WithMaxRestarts(n int) Option {
	return func(s *Supervisor) {
		s.maxRestarts = n
	}
}

// WithRestartDelay overrides DefaultRestartDelay.
func WithRestartDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		s.delay = backoff.NewConstantBackOff(d)
	}
}

// New creates a supervisor.
func New(spawner Spawner, opts ...Option) *Supervisor {
	s := &Supervisor{
		spawner:     spawner,
		maxRestarts: DefaultMaxRestarts,
		delay:       backoff.NewConstantBackOff(DefaultRestartDelay),
		now:         time.Now,
		events:      make(chan event),
		done:        make(chan struct{}),
		handles:     make(map[Role]*Handle),
		children:    make(map[Role]*running),
		pending:     make(map[Role]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts the loader and processes child events until ctx is cancelled,
// then stops every child. Run may only be called once.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.stopAll()

	s.start(ctx, RoleLoader)

	for {
		select {
		case <-ctx.Done():
			logger.Infow("supervisor shutting down")
			return nil
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, ev event) {
	if ev.kind == eventRestart {
		s.restart(ctx, ev)
		return
	}

	s.mu.RLock()
	cur, ok := s.children[ev.role]
	s.mu.RUnlock()
	if !ok || cur.id != ev.instance {
		// events from a child that was already replaced
		return
	}

	switch ev.kind {
	case eventSignal:
		if ev.signal.Kind == KindReady {
			s.ready(ctx, ev.role)
			return
		}
		s.fail(ev.role, ev.signal.Reason)
	case eventExit:
		reason := "exited unexpectedly"
		if ev.err != nil {
			reason = fmt.Sprintf("exited unexpectedly: %v", ev.err)
		}
		s.fail(ev.role, reason)
	}
}

func (s *Supervisor) ready(ctx context.Context, role Role) {
	s.update(role, func(h *Handle) {
		h.Status = StatusRunning
		h.LastError = ""
	})
	logger.Infow("child ready", "role", string(role))

	if role != RoleLoader {
		return
	}
	s.mu.RLock()
	_, serverKnown := s.handles[RoleServer]
	s.mu.RUnlock()
	if !serverKnown {
		s.start(ctx, RoleServer)
	}
}

// fail stops the current child and schedules a restart if the bound allows.
func (s *Supervisor) fail(role Role, reason string) {
	s.stop(role)

	terminated := false
	s.update(role, func(h *Handle) {
		h.LastError = reason
		h.PID = 0
		h.Instance = ""
		if h.RestartCount >= s.maxRestarts {
			h.Status = StatusTerminated
			terminated = true
			return
		}
		h.Status = StatusFailed
		h.RestartCount++
	})

	if terminated {
		terminations.WithLabelValues(string(role)).Inc()
		logger.Errorw("child exceeded restart limit, giving up",
			"role", string(role), "max_restarts", s.maxRestarts, "last_error", reason)
		return
	}

	restarts.WithLabelValues(string(role)).Inc()
	delay := s.delay.NextBackOff()
	logger.Warnw("restarting child", "role", string(role), "reason", reason, "delay", delay)

	id := uuid.NewString()
	s.mu.Lock()
	s.pending[role] = id
	s.mu.Unlock()

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.post(event{role: role, instance: id, kind: eventRestart})
		case <-s.done:
		}
	}()
}

// restart runs a scheduled restart unless it was superseded.
func (s *Supervisor) restart(ctx context.Context, ev event) {
	s.mu.Lock()
	id, ok := s.pending[ev.role]
	if ok && id == ev.instance {
		delete(s.pending, ev.role)
	}
	s.mu.Unlock()
	if !ok || id != ev.instance || ctx.Err() != nil {
		return
	}

	if err := s.spawn(ctx, ev.role); err != nil {
		s.fail(ev.role, fmt.Sprintf("spawn failed: %v", err))
	}
}

// start spawns a role for the first time.
func (s *Supervisor) start(ctx context.Context, role Role) {
	s.mu.Lock()
	s.handles[role] = &Handle{Role: role, Status: StatusStarting, Since: s.now()}
	s.mu.Unlock()

	if err := s.spawn(ctx, role); err != nil {
		s.fail(role, fmt.Sprintf("spawn failed: %v", err))
	}
}

func (s *Supervisor) spawn(ctx context.Context, role Role) error {
	child, err := s.spawner.Spawn(ctx, role)
	if err != nil {
		return err
	}
	id := uuid.NewString()

	s.mu.Lock()
	s.children[role] = &running{id: id, child: child}
	if h := s.handles[role]; h != nil {
		h.Status = StatusStarting
		h.PID = child.PID()
		h.Instance = id
		h.Since = s.now()
	}
	s.mu.Unlock()

	logger.Infow("child started", "role", string(role), "pid", child.PID(), "instance", id)

	log := logger.With("role", string(role), "instance", id)
	go func() {
		for sig := range child.Signals() {
			log.Debug("signal received", "kind", sig.Kind.String(), "reason", sig.Reason)
			s.post(event{role: role, instance: id, kind: eventSignal, signal: sig})
		}
	}()
	go func() {
		err := child.Wait()
		log.Debug("child exited", "error", err)
		s.post(event{role: role, instance: id, kind: eventExit, err: err})
	}()
	return nil
}

func (s *Supervisor) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Supervisor) stop(role Role) {
	s.mu.Lock()
	cur, ok := s.children[role]
	delete(s.children, role)
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := cur.child.Stop(); err != nil {
		logger.Debugw("failed to stop child", "role", string(role), "error", err)
	}
}

func (s *Supervisor) stopAll() {
	for _, role := range []Role{RoleServer, RoleLoader} {
		s.stop(role)
	}
}

func (s *Supervisor) update(role Role, fn func(*Handle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[role]
	if !ok {
		h = &Handle{Role: role}
		s.handles[role] = h
	}
	fn(h)
	h.Since = s.now()
	statusGauge(role, h.Status)
}

// Snapshot returns a copy of every known handle, loader first.
func (s *Supervisor) Snapshot() []Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Handle
	for _, role := range []Role{RoleLoader, RoleServer} {
		if h, ok := s.handles[role]; ok {
			out = append(out, *h)
		}
	}
	return out
}

// Healthy reports false once any role is Terminated.
func (s *Supervisor) Healthy() bool {
	for _, h := range s.Snapshot() {
		if h.Status == StatusTerminated {
			return false
		}
	}
	return true
}
