// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"github.com/spf13/cobra"

	"github.com/stacklok/fnhive/pkg/config"
	"github.com/stacklok/fnhive/pkg/logger"
	"github.com/stacklok/fnhive/pkg/server"
	"github.com/stacklok/fnhive/pkg/supervisor"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server role",
		Long: `Compose the adapter graph for the selected handler type and dispatch
requests to modules fetched from the module source. Usually started by
"fnhive supervise".`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(cmd.Flags(), map[string]string{
				"listen-address":  config.KeyListenAddress,
				"handler-type":    config.KeyHandlerType,
				"module-base-url": config.KeyModuleBaseURL,
				"access-token":    config.KeyAccessToken,
			})
		},
		RunE: runServe,
	}
	cmd.Flags().String("listen-address", "", "Address the server listens on")
	cmd.Flags().String("handler-type", "", "Adapter graph profile to compose")
	cmd.Flags().String("module-base-url", "", "Base URL modules are fetched from")
	cmd.Flags().String("access-token", "", "Token presented to the module source")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger.WithRole(string(supervisor.RoleServer))

	notifier, err := supervisor.NotifierFromEnv()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		_ = notifier.Failed(err.Error())
		return err
	}

	return server.Run(cmd.Context(), cfg, notifier)
}
