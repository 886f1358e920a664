// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package permission

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// GroupDefinition is the configuration form of a group.
type GroupDefinition struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Color       string   `yaml:"color,omitempty" json:"color,omitempty"`
	Priority    int      `yaml:"priority" json:"priority"`
	Permissions []string `yaml:"permissions,omitempty" json:"permissions,omitempty"`
}

type definitionsFile struct {
	Groups []GroupDefinition `yaml:"groups"`
}

// DefaultGroups returns the groups created when no definitions file exists.
func DefaultGroups() []*Group {
	return []*Group{
		NewGroup("admin", "Admin", Color{R: 0xff, G: 0x55, B: 0x55}, 100, MustParseBranch("*")),
		NewGroup("builder", "Builder", Color{R: 0x55, G: 0xaa, B: 0xff}, 50,
			MustParseBranch("devkitserver::level.**"),
			MustParseBranch("devkitserver::commands.help"),
		),
		NewGroup("viewer", "Viewer", Color{R: 0xaa, G: 0xaa, B: 0xaa}, 0,
			MustParseBranch("devkitserver::commands.help"),
		),
	}
}

// Definition converts g into its configuration form.
func (g *Group) Definition() GroupDefinition {
	perms := g.Permissions()
	def := GroupDefinition{
		ID:          g.ID(),
		Name:        g.Name(),
		Color:       g.Color().String(),
		Priority:    g.Priority(),
		Permissions: make([]string, 0, len(perms)),
	}
	for _, b := range perms {
		def.Permissions = append(def.Permissions, b.String())
	}
	return def
}

// Group builds a group from its definition. Unparseable branches are
// skipped and logged; an empty id or bad color is an error.
func (d GroupDefinition) Group() (*Group, error) {
	if d.ID == "" {
		return nil, oops.In("permission").Code("INVALID_GROUP").Errorf("group id is required")
	}
	var color Color
	if d.Color != "" {
		c, err := ParseColor(d.Color)
		if err != nil {
			return nil, oops.In("permission").With("group", d.ID).Wrap(err)
		}
		color = c
	}
	perms := make([]Branch, 0, len(d.Permissions))
	for _, p := range d.Permissions {
		b, ok := ParseBranch(p)
		if !ok {
			slog.Warn("skipping invalid permission in group definition",
				"group", d.ID,
				"permission", p)
			continue
		}
		perms = append(perms, b)
	}
	name := d.Name
	if name == "" {
		name = d.ID
	}
	return NewGroup(d.ID, name, color, d.Priority, perms...), nil
}

// LoadGroupDefinitions reads group definitions from a YAML file. If the file
// does not exist it is created from DefaultGroups.
func LoadGroupDefinitions(path string) ([]*Group, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if os.IsNotExist(err) {
		groups := DefaultGroups()
		if err := SaveGroupDefinitions(path, groups); err != nil {
			return nil, err
		}
		slog.Info("created default permission groups", "path", path, "count", len(groups))
		return groups, nil
	}
	if err != nil {
		return nil, oops.In("permission").With("path", path).Wrap(err)
	}

	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, oops.In("permission").Code("INVALID_GROUPS_FILE").With("path", path).Wrap(err)
	}

	groups := make([]*Group, 0, len(file.Groups))
	for _, def := range file.Groups {
		g, err := def.Group()
		if err != nil {
			slog.Warn("skipping invalid group definition", "path", path, "error", err)
			continue
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// SaveGroupDefinitions writes groups to a YAML file, replacing it atomically.
func SaveGroupDefinitions(path string, groups []*Group) error {
	file := definitionsFile{Groups: make([]GroupDefinition, 0, len(groups))}
	for _, g := range groups {
		if g.IsPlaceholder() {
			continue
		}
		file.Groups = append(file.Groups, g.Definition())
	}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return oops.In("permission").Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oops.In("permission").With("path", path).Wrap(err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return oops.In("permission").With("path", tmp).Wrap(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return oops.In("permission").With("path", path).Wrap(err)
	}
	return nil
}
