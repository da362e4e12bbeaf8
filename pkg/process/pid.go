// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package process provides PID file handling, liveness checks and locking
// for the supervised fnhive processes.
package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"
	psprocess "github.com/shirou/gopsutil/v4/process"
)

const lockTimeout = 2 * time.Second

// StateDir returns the default directory for PID and lock files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "fnhive")
}

// PIDFilePath returns the PID file path for a process name inside dir.
func PIDFilePath(dir, name string) string {
	return filepath.Join(dir, "pids", fmt.Sprintf("fnhive-%s.pid", name))
}

// WritePIDFile writes pid to the named PID file, creating dir if needed.
func WritePIDFile(dir, name string, pid int) error {
	path := PIDFilePath(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0600)
}

// ReadPIDFile reads the named PID file.
func ReadPIDFile(dir, name string) (int, error) {
	// #nosec G304 - the path is built from the state dir and a fixed name
	data, err := os.ReadFile(PIDFilePath(dir, name))
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// RemovePIDFile removes the named PID file. A missing file is not an error.
func RemovePIDFile(dir, name string) error {
	if err := os.Remove(PIDFilePath(dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsAlive reports whether a process with the given PID exists.
func IsAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	return psprocess.PidExists(int32(pid)) // #nosec G115 - PIDs fit in int32
}

// Lock guards a state dir so only one supervisor uses it at a time.
type Lock struct {
	lock *flock.Flock
}

// AcquireLock takes the supervisor lock for dir, giving up after a short wait.
func AcquireLock(ctx context.Context, dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	fileLock := flock.New(filepath.Join(dir, "supervisor.lock"))
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another supervisor holds %s", fileLock.Path())
	}
	return &Lock{lock: fileLock}, nil
}

// Release unlocks the state dir.
func (l *Lock) Release() error {
	return l.lock.Unlock()
}
