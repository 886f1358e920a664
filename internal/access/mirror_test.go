// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package access_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/permission"
)

type mirrorEvents struct {
	mu     sync.Mutex
	perms  []string
	groups []string
	reg    []string
}

func watchMirror(m *access.Mirror) *mirrorEvents {
	ev := &mirrorEvents{}
	m.OnPermissionUpdated(func(u access.PermissionUpdate) {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		sign := "-"
		if u.Granted {
			sign = "+"
		}
		ev.perms = append(ev.perms, sign+u.Branch.String())
	})
	m.OnGroupUpdated(func(u access.GroupUpdate) {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		sign := "-"
		if u.Granted {
			sign = "+"
		}
		ev.groups = append(ev.groups, sign+u.Group.ID())
	})
	m.OnRegistryChanged(func(c access.RegistryChange) {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		ev.reg = append(ev.reg, c.Kind.String()+" "+c.Group.ID())
	})
	return ev
}

func seededMirror(t *testing.T) (*access.Mirror, *mirrorEvents) {
	t.Helper()
	m := access.NewMirror(42)
	ev := watchMirror(m)
	require.NoError(t, m.ReceivePermissions(context.Background(), access.Snapshot{
		UserID: 42,
		Groups: []*permission.Group{
			permission.NewGroup("admin", "Admin", permission.Color{}, 100, branch("*")),
			permission.NewGroup("builder", "Builder", permission.Color{}, 50, branch("level.**")),
			permission.NewGroup("viewer", "Viewer", permission.Color{}, 0, branch("level.view")),
		},
		Permissions: []permission.Branch{branch("commands.home")},
		GroupIDs:    []string{"viewer", "builder"},
	}))
	return m, ev
}

func memberIDs(t *testing.T, m *access.Mirror) []string {
	t.Helper()
	groups, err := m.Memberships(context.Background())
	require.NoError(t, err)
	return groupIDs(groups)
}

func TestMirror_ReceivePermissionsSnapshot(t *testing.T) {
	m, ev := seededMirror(t)

	assert.Equal(t, []string{"+commands.home"}, ev.perms)
	assert.Equal(t, []string{"+builder", "+viewer"}, ev.groups)
	assert.Equal(t, []string{"builder", "viewer"}, memberIDs(t, m))

	ctx := context.Background()
	assert.True(t, m.HasPermission(ctx, 42, branch("level.objects.place")))
	assert.False(t, m.HasPermission(ctx, 42, branch("commands.ban")))
	assert.False(t, m.HasPermission(ctx, 7, branch("commands.home")), "only the local user is known")

	// A second snapshot reports only the differences.
	require.NoError(t, m.ReceivePermissions(ctx, access.Snapshot{
		UserID:      42,
		Groups:      m.Groups().All(),
		Permissions: []permission.Branch{branch("commands.home"), branch("commands.warp")},
		GroupIDs:    []string{"viewer"},
	}))
	assert.Equal(t, []string{"+commands.home", "+commands.warp"}, ev.perms)
	assert.Equal(t, []string{"+builder", "+viewer", "-builder"}, ev.groups)
}

func TestMirror_PermissionState(t *testing.T) {
	m, ev := seededMirror(t)
	ctx := context.Background()

	require.NoError(t, m.ReceivePermissionState(ctx, branch("commands.ban"), true))
	require.NoError(t, m.ReceivePermissionState(ctx, branch("commands.ban"), true))
	require.NoError(t, m.ReceivePermissionState(ctx, branch("commands.home"), false))
	require.NoError(t, m.ReceivePermissionState(ctx, branch("commands.nothing"), false))

	perms, err := m.Permissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"commands.ban"}, keys(perms))
	assert.Equal(t, []string{"+commands.home", "+commands.ban", "-commands.home"}, ev.perms,
		"no-op deltas raise nothing")
}

func TestMirror_GroupStateAndClear(t *testing.T) {
	m, ev := seededMirror(t)
	ctx := context.Background()

	require.NoError(t, m.ReceivePermissionGroupState(ctx, "admin", true))
	assert.Equal(t, []string{"admin", "builder", "viewer"}, memberIDs(t, m))

	require.NoError(t, m.ReceivePermissionGroupState(ctx, "builder", false))
	assert.Equal(t, []string{"admin", "viewer"}, memberIDs(t, m))

	require.NoError(t, m.ReceiveClearPermissionGroups(ctx))
	assert.Empty(t, memberIDs(t, m))
	require.NoError(t, m.ReceiveClearPermissions(ctx))
	assert.False(t, m.HasPermission(ctx, 42, branch("commands.home")))

	assert.Equal(t, []string{"+builder", "+viewer", "+admin", "-builder", "-admin", "-viewer"}, ev.groups)
	assert.Equal(t, []string{"+commands.home", "-commands.home"}, ev.perms)
}

func TestMirror_GroupUpdateResorts(t *testing.T) {
	m, ev := seededMirror(t)
	ctx := context.Background()

	viewer, _ := m.Groups().Get("viewer")
	require.NoError(t, m.ReceivePermissionGroupUpdate(ctx,
		permission.NewGroup("viewer", "Viewer", permission.Color{}, 75, branch("level.view"))))

	again, _ := m.Groups().Get("viewer")
	assert.Same(t, viewer, again)
	assert.Equal(t, []string{"admin", "viewer", "builder"}, groupIDs(m.Groups().All()))
	assert.Equal(t, []string{"viewer", "builder"}, memberIDs(t, m))

	// Moving to exactly a neighbor's priority keeps the order valid.
	require.NoError(t, m.ReceivePermissionGroupUpdate(ctx,
		permission.NewGroup("viewer", "Viewer", permission.Color{}, 50, branch("level.view"))))
	assert.Equal(t, []string{"admin", "builder", "viewer"}, groupIDs(m.Groups().All()))
	assert.Equal(t, []string{"builder", "viewer"}, memberIDs(t, m))

	assert.Equal(t, []string{"changed viewer", "changed viewer"}, ev.reg)
}

func TestMirror_PlaceholderSwappedOnRegister(t *testing.T) {
	m := access.NewMirror(1)
	ctx := context.Background()

	require.NoError(t, m.ReceivePermissionGroupState(ctx, "late", true))
	groups, err := m.Memberships(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.True(t, groups[0].IsPlaceholder())

	late := permission.NewGroup("late", "Late", permission.Color{}, 5, branch("x.y"))
	require.NoError(t, m.ReceiveGroupRegistered(ctx, late))
	groups, err = m.Memberships(ctx)
	require.NoError(t, err)
	assert.Same(t, late, groups[0])
	assert.True(t, m.HasPermission(ctx, 1, branch("x.y")))

	require.NoError(t, m.ReceiveGroupDeregistered(ctx, "late"))
	assert.Empty(t, memberIDs(t, m))
	assert.Equal(t, 0, m.Groups().Len())
}

func TestMirror_UpdateForUnknownGroupRegistersIt(t *testing.T) {
	m := access.NewMirror(1)
	require.NoError(t, m.ReceivePermissionGroupUpdate(context.Background(),
		permission.NewGroup("new", "New", permission.Color{}, 1)))
	_, ok := m.Groups().Get("new")
	assert.True(t, ok)
}

func TestMirror_ConsoleBypass(t *testing.T) {
	m := access.NewMirror(1)
	assert.True(t, m.HasPermission(access.WithConsole(context.Background()), 99, branch("a.b")))
}
