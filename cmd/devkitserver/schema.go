// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/devkitserver/devkitserver/internal/config"
	"github.com/devkitserver/devkitserver/internal/plugin"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var check string

	cmd := &cobra.Command{
		Use:       "schema <config|plugin>",
		Short:     "Print or check against the JSON Schema of a file format",
		ValidArgs: []string{"config", "plugin"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		Long: `Print the JSON Schema of the server config file or of plugin manifests.
With --check, validate a YAML file against the schema instead:
  devkitserver schema config --check devkitserver.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if check != "" {
				return checkSchema(cmd, args[0], check)
			}
			return printSchema(cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&check, "check", "", "YAML file to validate against the schema")
	return cmd
}

func printSchema(cmd *cobra.Command, kind string) error {
	generate := config.GenerateSchema
	if kind == "plugin" {
		generate = plugin.GenerateSchema
	}
	data, err := generate()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(append(data, '\n'))
	return oops.In("schema").Wrap(err)
}

func checkSchema(cmd *cobra.Command, kind, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is a command argument
	if err != nil {
		return oops.In("schema").With("path", path).Wrap(err)
	}
	validate := config.ValidateFile
	if kind == "plugin" {
		validate = plugin.ValidateSchema
	}
	if err := validate(data); err != nil {
		cmd.PrintErrf("%s: %s\n", path, plugin.FormatSchemaError(err))
		return err
	}
	cmd.Printf("%s: valid\n", path)
	return nil
}
