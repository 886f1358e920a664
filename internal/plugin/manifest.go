// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

// Package plugin loads plugin manifests. A plugin contributes commands,
// translations and permission branches of its own scope; it has no code of
// its own on the server side.
package plugin

import (
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/devkitserver/devkitserver/internal/command"
	"github.com/devkitserver/devkitserver/internal/permission"
)

// ManifestFile is the manifest file name inside a plugin directory.
const ManifestFile = "plugin.yaml"

// Manifest represents a plugin.yaml file.
type Manifest struct {
	ID          string `yaml:"id" json:"id" jsonschema:"pattern=^[a-z]([a-z0-9_-]*[a-z0-9])?$,maxLength=64"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Version     string `yaml:"version" json:"version" jsonschema:"minLength=1"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Requires is a semver constraint on the server version, e.g. ">= 1.2".
	Requires     string          `yaml:"requires,omitempty" json:"requires,omitempty"`
	Translations string          `yaml:"translations,omitempty" json:"translations,omitempty"`
	Permissions  []PermissionDef `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	Commands     []CommandDef    `yaml:"commands,omitempty" json:"commands,omitempty"`
}

// PermissionDef declares a branch in the plugin's scope.
type PermissionDef struct {
	Path        string `yaml:"path" json:"path" jsonschema:"minLength=1"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// CommandDef declares a message command: it sends a translated message to
// the caller.
type CommandDef struct {
	Name        string   `yaml:"name" json:"name" jsonschema:"minLength=1"`
	Aliases     []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Permissions []string `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	// AnyPermission allows the command when any one permission is held.
	AnyPermission bool   `yaml:"any_permission,omitempty" json:"any_permission,omitempty"`
	Priority      int    `yaml:"priority,omitempty" json:"priority,omitempty"`
	Mode          []Mode `yaml:"mode,omitempty" json:"mode,omitempty"`
	Usage         string `yaml:"usage,omitempty" json:"usage,omitempty"`
	Help          string `yaml:"help,omitempty" json:"help,omitempty"`
	// Message is the translation key sent when the command runs. {0} is the
	// caller's name and {1} the argument line.
	Message string `yaml:"message" json:"message" jsonschema:"minLength=1"`
}

// Mode names an execution mode requirement in a manifest.
type Mode string

// Execution mode names accepted in manifests.
const (
	ModeDisabled      Mode = "disabled"
	ModePlaying       Mode = "playing"
	ModeEditing       Mode = "editing"
	ModeMultiplayer   Mode = "multiplayer"
	ModeSingleplayer  Mode = "singleplayer"
	ModeMenu          Mode = "menu"
	ModeCheats        Mode = "cheats"
	ModePlayerControl Mode = "player_control"
)

var modeFlags = []struct {
	mode Mode
	flag command.ExecutionMode
}{
	{ModeDisabled, command.ModeDisabled},
	{ModePlaying, command.ModeRequirePlaying},
	{ModeEditing, command.ModeRequireEditing},
	{ModeMultiplayer, command.ModeRequireMultiplayer},
	{ModeSingleplayer, command.ModeRequireSingleplayer},
	{ModeMenu, command.ModeRequireMenu},
	{ModeCheats, command.ModeRequireCheatsEnabled},
	{ModePlayerControl, command.ModePlayerControlModeOnly},
}

// Flag returns the execution mode bit for m.
func (m Mode) Flag() (command.ExecutionMode, bool) {
	for _, f := range modeFlags {
		if f.mode == m {
			return f.flag, true
		}
	}
	return command.ModeAny, false
}

// JSONSchemaExtend restricts mode names to the known set.
func (Mode) JSONSchemaExtend(s *jsonschema.Schema) {
	for _, f := range modeFlags {
		s.Enum = append(s.Enum, string(f.mode))
	}
}

// maxIDLength is the maximum allowed length for plugin ids.
const maxIDLength = 64

// idPattern validates plugin ids: a lowercase letter, then lowercase
// letters, digits, hyphens or underscores, not ending with a separator.
var idPattern = regexp.MustCompile(`^[a-z]([a-z0-9_-]*[a-z0-9])?$`)

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.In("plugin").Code("EMPTY_MANIFEST").Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.In("plugin").Code("INVALID_MANIFEST").Wrapf(err, "invalid YAML")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func invalid(m *Manifest, format string, args ...any) error {
	return oops.In("plugin").
		Code("INVALID_MANIFEST").
		With("plugin", m.ID).
		Errorf(format, args...)
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.ID == "" || !idPattern.MatchString(m.ID) {
		return invalid(m, "id %q must start with a-z, contain only a-z, 0-9, '-' or '_', and not end with a separator", m.ID)
	}
	if len(m.ID) > maxIDLength {
		return invalid(m, "id must be %d characters or less, got %d", maxIDLength, len(m.ID))
	}
	if m.ID == permission.ScopeDevkitServer || m.ID == permission.ScopeCore {
		return invalid(m, "id %q is reserved", m.ID)
	}

	if m.Version == "" {
		return invalid(m, "version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return invalid(m, "version %q is not a semantic version: %v", m.Version, err)
	}
	if m.Requires != "" {
		if _, err := semver.NewConstraint(m.Requires); err != nil {
			return invalid(m, "requires %q is not a version constraint: %v", m.Requires, err)
		}
	}

	for _, p := range m.Permissions {
		if !permission.NewBranch(m.ID, p.Path).Valid() {
			return invalid(m, "permission %q is not a valid branch path", p.Path)
		}
	}

	seen := make(map[string]bool, len(m.Commands))
	for _, c := range m.Commands {
		if err := command.ValidateCommandName(c.Name); err != nil {
			return oops.In("plugin").With("plugin", m.ID).Wrap(err)
		}
		for _, a := range c.Aliases {
			if err := command.ValidateAliasName(a); err != nil {
				return oops.In("plugin").With("plugin", m.ID).Wrap(err)
			}
		}
		if seen[c.Name] {
			return invalid(m, "command %q is declared twice", c.Name)
		}
		seen[c.Name] = true
		if c.Message == "" {
			return invalid(m, "command %q has no message", c.Name)
		}
		for _, mode := range c.Mode {
			if _, ok := mode.Flag(); !ok {
				return invalid(m, "command %q has unknown mode %q", c.Name, mode)
			}
		}
		for _, p := range c.Permissions {
			if _, ok := m.resolveBranch(p); !ok {
				return invalid(m, "command %q requires invalid permission %q", c.Name, p)
			}
		}
	}
	return nil
}

// resolveBranch parses a permission reference. An unscoped path belongs to
// the plugin.
func (m *Manifest) resolveBranch(s string) (permission.Branch, bool) {
	b, ok := permission.ParseBranch(s)
	if !ok {
		return b, false
	}
	if b.Scope() == "" {
		b = permission.NewBranch(m.ID, b.Path)
	}
	return b, b.Valid()
}

// Branches returns the permission branches the plugin declares.
func (m *Manifest) Branches() []permission.Branch {
	out := make([]permission.Branch, 0, len(m.Permissions))
	for _, p := range m.Permissions {
		out = append(out, permission.NewBranch(m.ID, p.Path))
	}
	return out
}

// Compatible reports whether the plugin accepts serverVersion. A manifest
// without a constraint accepts every version.
func (m *Manifest) Compatible(serverVersion string) (bool, error) {
	if m.Requires == "" {
		return true, nil
	}
	constraint, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return false, invalid(m, "requires %q is not a version constraint: %v", m.Requires, err)
	}
	v, err := semver.NewVersion(serverVersion)
	if err != nil {
		return false, oops.In("plugin").
			Code("INVALID_SERVER_VERSION").
			With("version", serverVersion).
			Wrapf(err, "server version %q is not a semantic version", serverVersion)
	}
	return constraint.Check(v), nil
}
