// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/stacklok/fnhive/pkg/api"
	"github.com/stacklok/fnhive/pkg/logger"
)

// Notifier reports the loader's lifecycle to whoever supervises it.
type Notifier interface {
	Ready() error
	Failed(reason string) error
}

// Config holds everything the loader role needs to run.
type Config struct {
	// ModulesDir is the directory of manifests to ingest.
	ModulesDir string
	// StorePath is the sqlite file backing the module store.
	StorePath string
	// Address is the listen address for the module source.
	Address string
	// AccessToken, when set, is required as the "token" query parameter.
	AccessToken string
}

func (c Config) validate() error {
	if c.ModulesDir == "" {
		return errors.New("modules directory is required")
	}
	if c.StorePath == "" {
		return errors.New("store path is required")
	}
	if c.Address == "" {
		return errors.New("listen address is required")
	}
	return nil
}

// Run ingests the modules directory and serves it until ctx is done. Ready is
// reported once the listener is bound; any startup error is reported as a
// failure before being returned.
func Run(ctx context.Context, cfg Config, notifier Notifier) (err error) {
	defer func() {
		if err != nil {
			if nerr := notifier.Failed(err.Error()); nerr != nil {
				logger.Warnw("failed to report loader failure", "error", nerr)
			}
		}
	}()

	if err := cfg.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0750); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	store, err := OpenStore(ctx, cfg.StorePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warnw("failed to close module store", "error", cerr)
		}
	}()

	source := NewSource(store, cfg.ModulesDir, cfg.AccessToken)
	if _, err := source.Reload(ctx); err != nil {
		return err
	}

	listener, err := api.Listen(cfg.Address)
	if err != nil {
		return err
	}

	var readyErr error
	serveErr := api.ServeListener(ctx, "loader", listener, source.Router(), func(addr net.Addr) {
		logger.Infow("loader ready", "address", addr.String(), "modules_dir", cfg.ModulesDir)
		readyErr = notifier.Ready()
	})
	if readyErr != nil {
		logger.Warnw("failed to report loader readiness", "error", readyErr)
	}
	return serveErr
}
