// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package access

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"golang.org/x/sync/semaphore"

	"github.com/devkitserver/devkitserver/internal/permission"
)

// Mirror is the client-side cache of the local user's permission state. It is
// changed only by Receive* calls driven by replicated messages, and raises
// the same events as the Server so views react to grants and revokes alike.
type Mirror struct {
	Events

	sem         *semaphore.Weighted
	userID      uint64
	groups      *permission.GroupRegistry
	permissions []permission.Branch
	memberships []*permission.Group
}

// NewMirror creates an empty mirror for the local user.
func NewMirror(userID uint64) *Mirror {
	return &Mirror{
		sem:    semaphore.NewWeighted(1),
		userID: userID,
		groups: permission.NewGroupRegistry(),
	}
}

// UserID returns the local user's id.
func (m *Mirror) UserID() uint64 {
	return m.userID
}

// Groups returns the mirrored group registry.
func (m *Mirror) Groups() *permission.GroupRegistry {
	return m.groups
}

func (m *Mirror) lock(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return oops.In("access").Code("LOCK_CANCELLED").Wrap(err)
	}
	return nil
}

func (m *Mirror) unlock() {
	m.sem.Release(1)
}

// Permissions returns the local user's direct grants.
func (m *Mirror) Permissions(ctx context.Context) ([]permission.Branch, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()
	return append([]permission.Branch(nil), m.permissions...), nil
}

// Memberships returns the local user's groups, highest priority first.
func (m *Mirror) Memberships(ctx context.Context) ([]*permission.Group, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()
	return append([]*permission.Group(nil), m.memberships...), nil
}

// HasPermission implements Checker. Only the local user is known.
func (m *Mirror) HasPermission(ctx context.Context, userID uint64, leaf permission.Branch) bool {
	if IsConsole(ctx) {
		return true
	}
	if userID != m.userID {
		return false
	}
	if err := m.lock(ctx); err != nil {
		return false
	}
	defer m.unlock()

	if permission.AnyGrants(m.permissions, leaf) {
		return true
	}
	for _, g := range m.memberships {
		if g.Grants(leaf) {
			return true
		}
	}
	return false
}

// resolve returns the registered group or an inert placeholder.
func (m *Mirror) resolve(id string) *permission.Group {
	if g, ok := m.groups.Get(id); ok {
		return g
	}
	slog.Debug("replicated membership references unknown group", "group", id)
	return permission.NewPlaceholderGroup(id)
}

// ReceivePermissions replaces the whole mirrored state with a snapshot. An
// event is raised for every grant or membership that appeared or went away.
func (m *Mirror) ReceivePermissions(ctx context.Context, snap Snapshot) error {
	if err := m.lock(ctx); err != nil {
		return err
	}

	for _, g := range m.groups.All() {
		m.groups.Deregister(g.ID())
	}
	for _, g := range snap.Groups {
		m.groups.Register(g)
	}

	oldPerms := m.permissions
	newPerms := make([]permission.Branch, 0, len(snap.Permissions))
	for _, b := range snap.Permissions {
		if b.Valid() && !permission.ContainsBranch(newPerms, b) {
			newPerms = append(newPerms, b)
		}
	}

	oldGroups := m.memberships
	newGroups := make([]*permission.Group, 0, len(snap.GroupIDs))
	for _, id := range snap.GroupIDs {
		if !containsGroup(newGroups, id) {
			newGroups = permission.InsertSorted(newGroups, m.resolve(id))
		}
	}

	m.permissions = newPerms
	m.memberships = newGroups
	m.unlock()

	for _, b := range oldPerms {
		if !permission.ContainsBranch(newPerms, b) {
			m.firePermission(PermissionUpdate{UserID: m.userID, Branch: b, Granted: false})
		}
	}
	for _, b := range newPerms {
		if !permission.ContainsBranch(oldPerms, b) {
			m.firePermission(PermissionUpdate{UserID: m.userID, Branch: b, Granted: true})
		}
	}
	for _, g := range oldGroups {
		if !containsGroup(newGroups, g.ID()) {
			m.fireGroup(GroupUpdate{UserID: m.userID, Group: g, Granted: false})
		}
	}
	for _, g := range newGroups {
		if !containsGroup(oldGroups, g.ID()) {
			m.fireGroup(GroupUpdate{UserID: m.userID, Group: g, Granted: true})
		}
	}
	return nil
}

// ReceivePermissionState applies one direct grant or revoke.
func (m *Mirror) ReceivePermissionState(ctx context.Context, b permission.Branch, granted bool) error {
	if !b.Valid() {
		return invalidBranch(b)
	}
	if err := m.lock(ctx); err != nil {
		return err
	}
	i := permission.IndexBranch(m.permissions, b)
	changed := false
	switch {
	case granted && i < 0:
		m.permissions = append(m.permissions, b)
		changed = true
	case !granted && i >= 0:
		m.permissions = append(m.permissions[:i:i], m.permissions[i+1:]...)
		changed = true
	}
	m.unlock()

	if changed {
		m.firePermission(PermissionUpdate{UserID: m.userID, Branch: b, Granted: granted})
	}
	return nil
}

// ReceivePermissionGroupState applies one membership grant or revoke.
func (m *Mirror) ReceivePermissionGroupState(ctx context.Context, groupID string, granted bool) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	var (
		group   *permission.Group
		changed bool
	)
	i := indexGroup(m.memberships, groupID)
	switch {
	case granted && i < 0:
		group = m.resolve(groupID)
		m.memberships = permission.InsertSorted(m.memberships, group)
		changed = true
	case !granted && i >= 0:
		group = m.memberships[i]
		m.memberships = append(m.memberships[:i:i], m.memberships[i+1:]...)
		changed = true
	}
	m.unlock()

	if changed {
		m.fireGroup(GroupUpdate{UserID: m.userID, Group: group, Granted: granted})
	}
	return nil
}

// ReceiveClearPermissions drops every direct grant.
func (m *Mirror) ReceiveClearPermissions(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	old := m.permissions
	m.permissions = nil
	m.unlock()

	for _, b := range old {
		m.firePermission(PermissionUpdate{UserID: m.userID, Branch: b, Granted: false})
	}
	return nil
}

// ReceiveClearPermissionGroups drops every membership.
func (m *Mirror) ReceiveClearPermissionGroups(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	old := m.memberships
	m.memberships = nil
	m.unlock()

	for _, g := range old {
		m.fireGroup(GroupUpdate{UserID: m.userID, Group: g, Granted: false})
	}
	return nil
}

// ReceivePermissionGroupUpdate applies a replicated group change in place.
// When the priority changed, the registry and the local memberships are put
// back in order with the same rule the server uses.
func (m *Mirror) ReceivePermissionGroupUpdate(ctx context.Context, g *permission.Group) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	updated, ok := m.groups.Update(g)
	if !ok {
		m.unlock()
		slog.Debug("update for unknown permission group, registering it", "group", g.ID())
		return m.ReceiveGroupRegistered(ctx, g)
	}
	if i := indexGroup(m.memberships, updated.ID()); i >= 0 {
		m.memberships = append(m.memberships[:i:i], m.memberships[i+1:]...)
		m.memberships = permission.InsertSorted(m.memberships, updated)
	}
	m.unlock()

	m.fireRegistry(RegistryChange{Group: updated, Kind: GroupChanged})
	return nil
}

// ReceiveGroupRegistered adds a group to the mirrored registry. A membership
// held as a placeholder is swapped for the real group.
func (m *Mirror) ReceiveGroupRegistered(ctx context.Context, g *permission.Group) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	ok := m.groups.Register(g)
	if ok {
		if i := indexGroup(m.memberships, g.ID()); i >= 0 {
			m.memberships = append(m.memberships[:i:i], m.memberships[i+1:]...)
			m.memberships = permission.InsertSorted(m.memberships, g)
		}
	}
	m.unlock()

	if ok {
		m.fireRegistry(RegistryChange{Group: g, Kind: GroupRegistered})
	}
	return nil
}

// ReceiveGroupDeregistered removes a group from the registry and the local
// memberships.
func (m *Mirror) ReceiveGroupDeregistered(ctx context.Context, groupID string) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	group, found := m.groups.Get(groupID)
	m.groups.Deregister(groupID)
	var removed *permission.Group
	if i := indexGroup(m.memberships, groupID); i >= 0 {
		removed = m.memberships[i]
		m.memberships = append(m.memberships[:i:i], m.memberships[i+1:]...)
	}
	m.unlock()

	if removed != nil {
		m.fireGroup(GroupUpdate{UserID: m.userID, Group: removed, Granted: false})
	}
	if found {
		m.fireRegistry(RegistryChange{Group: group, Kind: GroupDeregistered})
	}
	return nil
}

func indexGroup(groups []*permission.Group, id string) int {
	for i, g := range groups {
		if g.Is(id) {
			return i
		}
	}
	return -1
}

func containsGroup(groups []*permission.Group, id string) bool {
	return indexGroup(groups, id) >= 0
}
