// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package permission

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// PlaceholderPriority is the priority of ghost groups: lower than anything a
// real group can be configured with, so they always sort last.
const PlaceholderPriority = math.MinInt32

// Color is an RGB display color.
type Color struct {
	R, G, B uint8
}

// ParseColor parses "#rrggbb" or "rrggbb".
func ParseColor(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return Color{}, oops.In("permission").Code("INVALID_COLOR").With("color", s).Errorf("color must be 6 hex digits")
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Color{}, oops.In("permission").Code("INVALID_COLOR").With("color", s).Wrap(err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// String renders the color as "#rrggbb".
func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Group is a named, prioritized bundle of branches. Groups are shared by
// pointer between the registry and every user holding a membership, so all
// field access goes through methods guarded by the group's own lock, and
// UpdateFrom mutates in place to keep those references valid.
type Group struct {
	mu          sync.RWMutex
	id          string
	name        string
	color       Color
	priority    int
	permissions []Branch
	placeholder bool
}

// NewGroup creates a group. Invalid branches are dropped.
func NewGroup(id, name string, color Color, priority int, permissions ...Branch) *Group {
	g := &Group{
		id:       strings.TrimSpace(id),
		name:     name,
		color:    color,
		priority: priority,
	}
	for _, b := range permissions {
		if b.Valid() && !ContainsBranch(g.permissions, b) {
			g.permissions = append(g.permissions, b)
		}
	}
	return g
}

// NewPlaceholderGroup creates the inert stand-in used for a group id that no
// longer resolves against the registry. It grants nothing and sorts last.
func NewPlaceholderGroup(id string) *Group {
	return &Group{
		id:          id,
		name:        id,
		priority:    PlaceholderPriority,
		placeholder: true,
	}
}

// ID returns the group id. Ids compare case-insensitively.
func (g *Group) ID() string {
	return g.id
}

// Is reports whether the group's id matches id, ignoring case.
func (g *Group) Is(id string) bool {
	return strings.EqualFold(g.id, strings.TrimSpace(id))
}

// Name returns the display name.
func (g *Group) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.name
}

// Color returns the display color.
func (g *Group) Color() Color {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.color
}

// Priority returns the group priority. Higher is applied first.
func (g *Group) Priority() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.priority
}

// IsPlaceholder reports whether this is a ghost group.
func (g *Group) IsPlaceholder() bool {
	return g.placeholder
}

// Permissions returns a copy of the granted branches in order.
func (g *Group) Permissions() []Branch {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Branch, len(g.permissions))
	copy(out, g.permissions)
	return out
}

// Grants reports whether any branch of the group grants leaf.
func (g *Group) Grants(leaf Branch) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return AnyGrants(g.permissions, leaf)
}

// AddPermission appends b if it is valid and not already present.
func (g *Group) AddPermission(b Branch) bool {
	if !b.Valid() || g.placeholder {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if ContainsBranch(g.permissions, b) {
		return false
	}
	g.permissions = append(g.permissions, b)
	return true
}

// RemovePermission removes every branch equal to b.
func (g *Group) RemovePermission(b Branch) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := false
	for i := len(g.permissions) - 1; i >= 0; i-- {
		if g.permissions[i].Equal(b) {
			g.permissions = append(g.permissions[:i], g.permissions[i+1:]...)
			removed = true
		}
	}
	return removed
}

// UpdateFrom copies name, color, priority and branches from other into g,
// keeping g's identity. It reports whether the priority changed, in which
// case the owning registry must restore its ordering.
func (g *Group) UpdateFrom(other *Group) (priorityChanged bool) {
	if other == nil || other == g {
		return false
	}
	other.mu.RLock()
	name, color, priority := other.name, other.color, other.priority
	perms := make([]Branch, len(other.permissions))
	copy(perms, other.permissions)
	other.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	priorityChanged = g.priority != priority
	g.name = name
	g.color = color
	g.priority = priority
	g.permissions = perms
	return priorityChanged
}

// Clone returns an independent copy of g.
func (g *Group) Clone() *Group {
	g.mu.RLock()
	defer g.mu.RUnlock()
	perms := make([]Branch, len(g.permissions))
	copy(perms, g.permissions)
	return &Group{
		id:          g.id,
		name:        g.name,
		color:       g.color,
		priority:    g.priority,
		permissions: perms,
		placeholder: g.placeholder,
	}
}

// String implements fmt.Stringer.
func (g *Group) String() string {
	return fmt.Sprintf("%s (%s, priority %d)", g.id, g.Name(), g.Priority())
}

// WriteGroup writes the full group definition.
func (w *Writer) WriteGroup(g *Group) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	w.WriteString(g.id)
	w.WriteString(g.name)
	w.WriteUint8(g.color.R)
	w.WriteUint8(g.color.G)
	w.WriteUint8(g.color.B)
	w.WriteInt32(clampInt32(g.priority))
	w.WriteInt32(int32(len(g.permissions)))
	for _, b := range g.permissions {
		w.WriteBranch(b)
	}
}

// ReadGroup reads a group written by WriteGroup. Invalid branches are skipped.
func (r *Reader) ReadGroup() (*Group, bool) {
	id := r.ReadString()
	name := r.ReadString()
	color := Color{R: r.ReadUint8(), G: r.ReadUint8(), B: r.ReadUint8()}
	priority := int(r.ReadInt32())
	count := int(r.ReadInt32())
	if r.HasFailed() || count < 0 {
		return nil, false
	}
	perms := make([]Branch, 0, min(count, 256))
	for i := 0; i < count; i++ {
		b, ok := r.ReadBranch()
		if r.HasFailed() {
			return nil, false
		}
		if ok {
			perms = append(perms, b)
		}
	}
	return NewGroup(id, name, color, priority, perms...), true
}

func clampInt32(v int) int32 {
	switch {
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}
