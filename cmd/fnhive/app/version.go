// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/fnhive/pkg/versions"
)

func newVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			_, _ = fmt.Fprintf(out, "fnhive %s\n", info.Version)
			_, _ = fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
			_, _ = fmt.Fprintf(out, "  built:      %s\n", info.BuildDate)
			_, _ = fmt.Fprintf(out, "  go version: %s\n", info.GoVersion)
			_, _ = fmt.Fprintf(out, "  platform:   %s\n", info.Platform)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print version information as JSON")
	return cmd
}
