// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/devkitserver/devkitserver/internal/command"
	"github.com/devkitserver/devkitserver/internal/localization"
	"github.com/devkitserver/devkitserver/internal/permission"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

// DefaultTranslationsFile is read when a manifest names no translation file.
const DefaultTranslationsFile = "translations.yaml"

// Plugin is a discovered plugin.
type Plugin struct {
	Manifest     *Manifest
	Dir          string
	Translations localization.Translations
}

// ID returns the plugin id.
func (p *Plugin) ID() string {
	return p.Manifest.ID
}

// Manager discovers plugins and registers what they contribute.
type Manager struct {
	pluginsDir    string
	serverVersion string

	mu     sync.RWMutex
	loaded map[string]*Plugin
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithServerVersion sets the version manifests' requires constraints are
// checked against. Without it every plugin is accepted.
func WithServerVersion(v string) ManagerOption {
	return func(m *Manager) {
		m.serverVersion = v
	}
}

// NewManager creates a plugin manager.
func NewManager(pluginsDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		pluginsDir: pluginsDir,
		loaded:     make(map[string]*Plugin),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Discover finds all valid plugins in the plugins directory, sorted by id.
// Invalid, duplicate and incompatible plugins are logged and skipped.
func (m *Manager) Discover(_ context.Context) ([]*Plugin, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.In("plugin").With("dir", m.pluginsDir).Wrapf(err, "read plugins directory")
	}

	var plugins []*Plugin
	seen := make(map[string]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.pluginsDir, entry.Name())
		p, err := m.Inspect(dir)
		if err != nil {
			errutil.LogWarn(slog.Default(), "skipping plugin", err, "dir", entry.Name())
			continue
		}
		if other, dup := seen[p.ID()]; dup {
			slog.Warn("skipping plugin with duplicate id",
				"plugin", p.ID(),
				"dir", entry.Name(),
				"first", other)
			continue
		}
		seen[p.ID()] = entry.Name()
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].ID() < plugins[j].ID() })
	return plugins, nil
}

// Inspect validates the plugin in dir without loading it. The error says why
// Discover would skip it.
func (m *Manager) Inspect(dir string) (*Plugin, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile)) //nolint:gosec // dir is a plugin directory
	if err != nil {
		return nil, oops.In("plugin").Code("MISSING_MANIFEST").Wrap(err)
	}
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	if m.serverVersion != "" {
		ok, err := manifest.Compatible(m.serverVersion)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, oops.In("plugin").
				Code("INCOMPATIBLE_PLUGIN").
				With("plugin", manifest.ID).
				With("requires", manifest.Requires).
				With("server_version", m.serverVersion).
				Errorf("plugin %s requires server %s", manifest.ID, manifest.Requires)
		}
	}

	translations, err := loadTranslations(dir, manifest)
	if err != nil {
		return nil, err
	}
	return &Plugin{Manifest: manifest, Dir: dir, Translations: translations}, nil
}

func loadTranslations(dir string, m *Manifest) (localization.Translations, error) {
	name := m.Translations
	if name == "" {
		name = DefaultTranslationsFile
	}
	path := filepath.Join(dir, filepath.Clean("/"+name))
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if m.Translations != "" {
			return nil, oops.In("plugin").
				Code("MISSING_TRANSLATIONS").
				With("plugin", m.ID).
				With("path", path).
				Errorf("translation file %s does not exist", name)
		}
		return localization.Translations{}, nil
	}
	return localization.Load(path, nil)
}

// LoadAll discovers every plugin and registers its commands with reg.
// Commands the registry rejects are logged; the rest of the plugin still
// loads.
func (m *Manager) LoadAll(ctx context.Context, reg *command.Registry) error {
	discovered, err := m.Discover(ctx)
	if err != nil {
		return err
	}
	for _, p := range discovered {
		m.load(p, reg)
	}
	return nil
}

func (m *Manager) load(p *Plugin, reg *command.Registry) {
	m.mu.Lock()
	if _, ok := m.loaded[p.ID()]; ok {
		m.mu.Unlock()
		slog.Warn("plugin already loaded", "plugin", p.ID())
		return
	}
	m.loaded[p.ID()] = p
	m.mu.Unlock()

	registered := 0
	for _, def := range p.Manifest.Commands {
		if reg.Register(newMessageCommand(p.Manifest, def)) {
			registered++
		}
	}
	slog.Info("loaded plugin",
		"plugin", p.ID(),
		"version", p.Manifest.Version,
		"commands", registered,
		"permissions", len(p.Manifest.Permissions))
}

// Unload deregisters the plugin's commands and forgets it.
func (m *Manager) Unload(id string, reg *command.Registry) bool {
	m.mu.Lock()
	_, ok := m.loaded[id]
	delete(m.loaded, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	removed := reg.DeregisterPlugin(id)
	slog.Info("unloaded plugin", "plugin", id, "commands", removed)
	return true
}

// Translations returns the plugin's translation table, or nil for unknown
// plugins. It fits command.WithPluginTranslations.
func (m *Manager) Translations(id string) localization.Translations {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.loaded[id]; ok {
		return p.Translations
	}
	return nil
}

// Branches returns every permission branch declared by a loaded plugin.
func (m *Manager) Branches() []permission.Branch {
	var out []permission.Branch
	for _, p := range m.Plugins() {
		out = append(out, p.Manifest.Branches()...)
	}
	return out
}

// Plugins returns the loaded plugins sorted by id.
func (m *Manager) Plugins() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Plugin, 0, len(m.loaded))
	for _, p := range m.loaded {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Close unloads every plugin.
func (m *Manager) Close(reg *command.Registry) {
	for _, p := range m.Plugins() {
		m.Unload(p.ID(), reg)
	}
}
