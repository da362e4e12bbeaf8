// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package supervisor

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/fnhive/pkg/process"
)

func shellSpawner(dir string, scripts map[Role]string) *ExecSpawner {
	args := make(map[Role][]string, len(scripts))
	for role, script := range scripts {
		args[role] = []string{"-c", script}
	}
	return &ExecSpawner{Executable: "/bin/sh", Args: args, StateDir: dir}
}

func nextSignal(t *testing.T, c Child) (Signal, bool) {
	t.Helper()
	select {
	case sig, ok := <-c.Signals():
		return sig, ok
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a signal")
		return Signal{}, false
	}
}

func TestExecSpawner_ReadyAndStop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	spawner := shellSpawner(dir, map[Role]string{
		RoleLoader: `[ "$` + SignalFDEnv + `" = 3 ] || exit 1; echo '{"status":"ok"}' >&3; exec sleep 30`,
	})

	child, err := spawner.Spawn(context.Background(), RoleLoader)
	require.NoError(t, err)

	sig, ok := nextSignal(t, child)
	require.True(t, ok, "the signal pipe closed before the child reported")
	assert.Equal(t, Ready(), sig)

	pid, err := process.ReadPIDFile(dir, string(RoleLoader))
	require.NoError(t, err)
	assert.Equal(t, child.PID(), pid)

	waited := make(chan error, 1)
	go func() { waited <- child.Wait() }()

	require.NoError(t, child.Stop())
	select {
	case err := <-waited:
		assert.Error(t, err, "a stopped child does not exit cleanly")
	case <-time.After(10 * time.Second):
		t.Fatal("child was not stopped")
	}
	require.NoError(t, child.Stop(), "stopping twice is harmless")

	_, ok = nextSignal(t, child)
	assert.False(t, ok, "the signal channel closes once the child is gone")

	_, err = process.ReadPIDFile(dir, string(RoleLoader))
	assert.Error(t, err, "the PID file is removed after exit")
}

func TestExecSpawner_FailureAndExit(t *testing.T) {
	t.Parallel()

	spawner := shellSpawner("", map[Role]string{
		RoleServer: `echo '{"status":"error","detail":"port in use"}' >&3; echo 'not json' >&3; exit 2`,
	})

	child, err := spawner.Spawn(context.Background(), RoleServer)
	require.NoError(t, err)

	sig, ok := nextSignal(t, child)
	require.True(t, ok)
	assert.Equal(t, Failed("port in use"), sig)

	sig, ok = nextSignal(t, child)
	require.True(t, ok)
	assert.Equal(t, KindFailed, sig.Kind)
	assert.Contains(t, sig.Reason, "malformed signal")

	_, ok = nextSignal(t, child)
	assert.False(t, ok, "EOF on the pipe closes the channel")

	var exitErr *exec.ExitError
	require.ErrorAs(t, child.Wait(), &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode())
}

func TestExecSpawner_UnknownRole(t *testing.T) {
	t.Parallel()

	spawner := shellSpawner("", map[Role]string{RoleLoader: "true"})
	_, err := spawner.Spawn(context.Background(), RoleServer)
	assert.ErrorContains(t, err, "no command configured")
}

func TestExecSpawner_ReapStale(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	leftover := exec.Command("sleep", "30")
	require.NoError(t, leftover.Start())
	exited := make(chan struct{})
	go func() {
		_ = leftover.Wait()
		close(exited)
	}()
	require.NoError(t, process.WritePIDFile(dir, string(RoleLoader), leftover.Process.Pid))

	spawner := shellSpawner(dir, map[Role]string{RoleLoader: "true", RoleServer: "true"})
	spawner.ReapStale()

	select {
	case <-exited:
	case <-time.After(10 * time.Second):
		t.Fatal("stale child was not stopped")
	}
	_, err := process.ReadPIDFile(dir, string(RoleLoader))
	assert.Error(t, err)
}
