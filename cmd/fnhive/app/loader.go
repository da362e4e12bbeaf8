// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/fnhive/pkg/config"
	"github.com/stacklok/fnhive/pkg/loader"
	"github.com/stacklok/fnhive/pkg/logger"
	"github.com/stacklok/fnhive/pkg/supervisor"
)

func newLoaderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loader",
		Short: "Run the loader role",
		Long: `Ingest the modules directory into the module store and serve module
manifests to servers. Usually started by "fnhive supervise".`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(cmd.Flags(), map[string]string{
				"listen-address": config.KeyLoaderAddress,
				"modules-dir":    config.KeyModulesDir,
				"store-path":     config.KeyStorePath,
				"access-token":   config.KeyAccessToken,
			})
		},
		RunE: runLoader,
	}
	cmd.Flags().String("listen-address", "", "Address the module source listens on")
	cmd.Flags().String("modules-dir", "", "Directory of module manifests")
	cmd.Flags().String("store-path", "", "Path of the module store database")
	cmd.Flags().String("access-token", "", "Token servers must present")
	return cmd
}

func runLoader(cmd *cobra.Command, _ []string) error {
	logger.WithRole(string(supervisor.RoleLoader))

	notifier, err := supervisor.NotifierFromEnv()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		_ = notifier.Failed(err.Error())
		return err
	}
	if cfg.Loader.ListenAddress == "" {
		err := fmt.Errorf("loader listen address is required")
		_ = notifier.Failed(err.Error())
		return err
	}

	return loader.Run(cmd.Context(), loader.Config{
		ModulesDir:  cfg.Loader.ModulesDir,
		StorePath:   cfg.Loader.StorePath,
		Address:     cfg.Loader.ListenAddress,
		AccessToken: cfg.Modules.AccessToken,
	}, notifier)
}
