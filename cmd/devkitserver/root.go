// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/devkitserver/devkitserver/internal/config"
)

// NewRootCmd creates the root command for the DevkitServer CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(serveDeps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devkitserver",
		Short: "DevkitServer - permission and command host",
		Long: `DevkitServer hosts the permission engine and command dispatcher for
collaborative level editing. Clients mirror their permissions over a
websocket replication channel.`,
		SilenceUsage: true,
	}

	// Config flags are shared by every subcommand.
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd(serveDeps))
	cmd.AddCommand(NewPermsCmd())
	cmd.AddCommand(NewSchemaCmd())
	cmd.AddCommand(NewValidatePluginsCmd())

	return cmd
}

// loadConfig loads the configuration from the flags cmd inherited.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return config.Load(cmd.Flags())
}
