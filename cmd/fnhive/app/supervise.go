// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/fnhive/pkg/api"
	"github.com/stacklok/fnhive/pkg/config"
	"github.com/stacklok/fnhive/pkg/logger"
	"github.com/stacklok/fnhive/pkg/networking"
	"github.com/stacklok/fnhive/pkg/process"
	"github.com/stacklok/fnhive/pkg/supervisor"
)

func newSuperviseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run the whole platform",
		Long: `Start the loader, start the server once the loader is ready, and restart
either one when it fails, up to the configured bound. The admin address serves
/health and /metrics for the supervisor itself.`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(cmd.Flags(), map[string]string{
				"admin-address":  config.KeyAdminAddress,
				"max-restarts":   config.KeyMaxRestarts,
				"restart-delay":  config.KeyRestartDelay,
				"modules-dir":    config.KeyModulesDir,
				"listen-address": config.KeyListenAddress,
				"handler-type":   config.KeyHandlerType,
				"state-dir":      config.KeyStateDir,
			})
		},
		RunE: runSupervise,
	}
	cmd.Flags().String("admin-address", "", "Address of the supervisor health endpoint")
	cmd.Flags().Int("max-restarts", supervisor.DefaultMaxRestarts, "Restarts allowed per role before it is left down, 0 disables restarts")
	cmd.Flags().String("restart-delay", supervisor.DefaultRestartDelay.String(), "Pause between a child failure and its restart")
	cmd.Flags().String("modules-dir", "", "Directory of module manifests")
	cmd.Flags().String("listen-address", "", "Address the server listens on")
	cmd.Flags().String("handler-type", "", "Adapter graph profile to compose")
	cmd.Flags().String("state-dir", "", "Directory for PID and lock files")
	return cmd
}

func runSupervise(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger.WithRole("supervisor")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lock, err := process.AcquireLock(ctx, cfg.Supervisor.StateDir)
	if err != nil {
		return fmt.Errorf("another supervisor is running: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warnf("Failed to release supervisor lock: %v", err)
		}
	}()

	if cfg.Loader.ListenAddress == "" {
		if cfg.Loader.ListenAddress, err = networking.FreeLocalAddress(); err != nil {
			return err
		}
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate fnhive executable: %w", err)
	}

	spawner := &supervisor.ExecSpawner{
		Executable: executable,
		Args: map[supervisor.Role][]string{
			supervisor.RoleLoader: childArgs("loader"),
			supervisor.RoleServer: childArgs("serve"),
		},
		Env:      config.Environ(cfg),
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		StateDir: cfg.Supervisor.StateDir,
	}
	spawner.ReapStale()

	sup := supervisor.New(spawner,
		supervisor.WithMaxRestarts(cfg.Supervisor.Restarts()),
		supervisor.WithRestartDelay(cfg.Supervisor.Delay()))

	// the platform keeps running without its admin endpoint
	go func() {
		if err := api.Serve(ctx, "admin", cfg.Supervisor.AdminAddress, sup.Router(), nil); err != nil {
			logger.Errorf("Supervisor admin endpoint failed: %v", err)
		}
	}()

	logger.Infow("supervising",
		"loader_address", cfg.Loader.ListenAddress,
		"server_address", cfg.Server.ListenAddress,
		"max_restarts", cfg.Supervisor.Restarts(),
		"restart_delay", cfg.Supervisor.Delay())

	return sup.Run(ctx)
}

// childArgs is the command line a child runs with: the same config file and
// debug setting as the supervisor.
func childArgs(command string) []string {
	args := []string{command}
	if path := viper.GetString("config"); path != "" {
		args = append(args, "--config", path)
	}
	if viper.GetBool("debug") {
		args = append(args, "--debug")
	}
	return args
}
