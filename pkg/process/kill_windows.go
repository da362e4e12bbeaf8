// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// KillProcess terminates the process. Windows has no SIGTERM, so grace is unused.
func KillProcess(pid int, _ time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to terminate process: %w", err)
	}
	return nil
}
