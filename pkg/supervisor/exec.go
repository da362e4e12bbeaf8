// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/stacklok/fnhive/pkg/logger"
	"github.com/stacklok/fnhive/pkg/process"
)

// stopGrace is how long a child gets to exit after SIGTERM.
const stopGrace = 5 * time.Second

// ExecSpawner starts each role as a subprocess of the given executable,
// usually the running fnhive binary itself.
type ExecSpawner struct {
	Executable string
	// Args holds the command line for each role, without the executable.
	Args map[Role][]string
	// Env is appended to the parent environment.
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
	// StateDir receives a PID file per role when set.
	StateDir string
}

// Spawn starts the role with a signal pipe on fd 3.
func (e *ExecSpawner) Spawn(_ context.Context, role Role) (Child, error) {
	args, ok := e.Args[role]
	if !ok {
		return nil, fmt.Errorf("no command configured for role %s", role)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create signal pipe: %w", err)
	}

	// #nosec G204 - the executable and arguments come from the supervisor itself
	cmd := exec.Command(e.Executable, args...)
	cmd.ExtraFiles = []*os.File{w}
	cmd.Env = append(append(os.Environ(), e.Env...), SignalFDEnv+"=3")
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("failed to start %s: %w", role, err)
	}
	// the child holds its own copy; EOF on r now means the child is gone
	_ = w.Close()

	if e.StateDir != "" {
		if err := process.WritePIDFile(e.StateDir, string(role), cmd.Process.Pid); err != nil {
			logger.Warnw("failed to write PID file", "role", string(role), "error", err)
		}
	}

	c := &execChild{cmd: cmd, role: role, stateDir: e.StateDir, signals: make(chan Signal, 4)}
	go func() {
		readSignals(r, c.signals)
		_ = r.Close()
	}()
	return c, nil
}

type execChild struct {
	cmd      *exec.Cmd
	role     Role
	stateDir string
	signals  chan Signal

	stopOnce sync.Once
	stopErr  error
}

func (c *execChild) Signals() <-chan Signal { return c.signals }

func (c *execChild) PID() int { return c.cmd.Process.Pid }

func (c *execChild) Wait() error {
	err := c.cmd.Wait()
	if c.stateDir != "" {
		_ = process.RemovePIDFile(c.stateDir, string(c.role))
	}
	return err
}

func (c *execChild) Stop() error {
	c.stopOnce.Do(func() {
		c.stopErr = process.KillProcess(c.cmd.Process.Pid, stopGrace)
	})
	return c.stopErr
}

// ReapStale stops children left behind by a previous supervisor that used the
// same state dir. It is only safe while holding the state dir lock.
func (e *ExecSpawner) ReapStale() {
	if e.StateDir == "" {
		return
	}
	for role := range e.Args {
		pid, err := process.ReadPIDFile(e.StateDir, string(role))
		if err != nil {
			continue
		}
		if alive, err := process.IsAlive(pid); err == nil && alive {
			logger.Warnw("stopping child left by a previous supervisor", "role", string(role), "pid", pid)
			if err := process.KillProcess(pid, stopGrace); err != nil {
				logger.Warnw("failed to stop stale child", "role", string(role), "pid", pid, "error", err)
			}
		}
		_ = process.RemovePIDFile(e.StateDir, string(role))
	}
}
