// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package main

import (
	"path/filepath"

	"github.com/Masterminds/semver/v3"

	"github.com/devkitserver/devkitserver/internal/config"
	"github.com/devkitserver/devkitserver/internal/permission"
	"github.com/devkitserver/devkitserver/internal/permission/store"
	"github.com/devkitserver/devkitserver/internal/plugin"
	"github.com/devkitserver/devkitserver/internal/xdg"
)

// File names under the data directory.
const (
	usersDir   = "users"
	boltDBFile = "permissions.db"
)

// loadGroups builds the live group registry from the definitions file,
// creating the data directory and the default groups on first start.
func loadGroups(cfg *config.Config) (*permission.GroupRegistry, error) {
	if err := xdg.EnsureDir(cfg.DataDir); err != nil {
		return nil, err
	}
	groups, err := permission.LoadGroupDefinitions(cfg.Permissions.GroupsFile)
	if err != nil {
		return nil, err
	}
	return permission.NewGroupRegistry(groups...), nil
}

// openStore opens the configured storage backend.
func openStore(cfg *config.Config, groups store.GroupResolver) (*store.Store, error) {
	var backend store.Backend
	switch cfg.Storage.Backend {
	case config.BackendBolt:
		b, err := store.OpenBoltBackend(filepath.Join(cfg.DataDir, boltDBFile))
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		backend = store.NewFileBackend(filepath.Join(cfg.DataDir, usersDir))
	}
	return store.New(backend, groups, cfg.StoreOptions()), nil
}

// newPluginManager returns a manager for the configured plugin directory.
// Development builds skip the requires check.
func newPluginManager(cfg *config.Config) *plugin.Manager {
	var opts []plugin.ManagerOption
	if v, err := semver.NewVersion(version); err == nil {
		opts = append(opts, plugin.WithServerVersion(v.String()))
	}
	return plugin.NewManager(cfg.PluginsDir, opts...)
}
