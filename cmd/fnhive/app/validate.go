// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/fnhive/pkg/adapter"
	"github.com/stacklok/fnhive/pkg/logger"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the fnhive configuration file without starting anything.

This command checks:
- YAML syntax and known fields
- every adapter graph, including the composition order implied by "requires"
- that the selected handler type has a graph`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath := viper.GetString("config")
			if configPath == "" {
				return fmt.Errorf("no configuration file specified, use --config flag")
			}

			logger.Infof("Validating configuration: %s", configPath)
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, name := range cfg.GraphNames() {
				order, err := cfg.Graphs[name].Order()
				if err != nil {
					return fmt.Errorf("graphs.%s: %w", name, err)
				}
				_, _ = fmt.Fprintf(out, "%s: %s\n", name, describeOrder(order))
			}
			_, _ = fmt.Fprintln(out, "Configuration is valid")
			return nil
		},
	}
}

func describeOrder(order []adapter.AdapterSpec) string {
	if len(order) == 0 {
		return "(no adapters)"
	}
	parts := make([]string, 0, len(order))
	for _, a := range order {
		names := make([]string, 0, len(a.Connectors))
		for _, c := range a.Connectors {
			names = append(names, c.Name)
		}
		parts = append(parts, fmt.Sprintf("%s[%s]", a.Name, strings.Join(names, ",")))
	}
	return strings.Join(parts, " -> ")
}
