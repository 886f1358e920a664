// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

// Package xdg resolves XDG Base Directory paths for DevkitServer.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "devkitserver"

// ConfigDir returns the config directory, honouring XDG_CONFIG_HOME and
// falling back to ~/.config.
func ConfigDir() string {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the data directory holding permission files, honouring
// XDG_DATA_HOME and falling back to ~/.local/share.
func DataDir() string {
	return dir("XDG_DATA_HOME", ".local", "share")
}

func dir(env string, fallback ...string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(append([]string{os.Getenv("HOME")}, fallback...)...)
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// PluginsDir returns the default plugin directory.
func PluginsDir() string {
	return filepath.Join(DataDir(), "plugins")
}

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.In("xdg").Code("MKDIR_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
