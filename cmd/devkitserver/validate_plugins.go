// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/devkitserver/devkitserver/internal/plugin"
)

// NewValidatePluginsCmd creates the validate-plugins subcommand.
func NewValidatePluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-plugins",
		Short: "Validate every plugin manifest without starting the server",
		Long: `Validates each plugin directory's manifest against the manifest schema,
the server version and its translation file. Does NOT start the server.
Exits with code 0 on success, non-zero on failure.

Useful in CI pipelines:
  devkitserver validate-plugins --plugins-dir ./plugins`,
		RunE: runValidatePlugins,
	}
}

func runValidatePlugins(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(cfg.PluginsDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return oops.In("validate").With("dir", cfg.PluginsDir).Wrap(err)
	}

	mgr := newPluginManager(&cfg)
	seen := make(map[string]string)
	checked, failed := 0, 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		checked++
		p, err := mgr.Inspect(filepath.Join(cfg.PluginsDir, entry.Name()))
		if err != nil {
			failed++
			cmd.PrintErrf("FAIL %s: %s\n", entry.Name(), plugin.FormatSchemaError(err))
			continue
		}
		if first, dup := seen[p.ID()]; dup {
			failed++
			cmd.PrintErrf("FAIL %s: plugin id %s is already used by %s\n", entry.Name(), p.ID(), first)
			continue
		}
		seen[p.ID()] = entry.Name()
		cmd.Printf("ok   %s: %s %s (%d commands)\n", entry.Name(), p.ID(), p.Manifest.Version, len(p.Manifest.Commands))
	}

	if failed > 0 {
		return oops.In("validate").
			Code("INVALID_PLUGINS").
			With("failed", failed).
			Errorf("validation failed: %d of %d plugins invalid", failed, checked)
	}
	cmd.Printf("%d plugins valid\n", checked)
	return nil
}
