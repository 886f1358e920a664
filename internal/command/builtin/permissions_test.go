// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devkitserver/devkitserver/internal/command"
	"github.com/devkitserver/devkitserver/internal/core"
	"github.com/devkitserver/devkitserver/internal/permission"
)

func TestPermissions_ConsoleEditsOfflineUser(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{"Granted devkitserver::level.edit to 7."},
		f.console(t, "permissions add 7 devkitserver::level.edit"))
	assert.Equal(t, []string{"7 already has devkitserver::level.edit."},
		f.console(t, "perms grant 7 devkitserver::level.edit"))

	got, err := f.server.GetPermissions(context.Background(), 7, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"devkitserver::level.edit"}, branchStrings(got))

	assert.Equal(t, []string{"Revoked devkitserver::level.edit from 7."},
		f.console(t, "p remove 7 devkitserver::level.edit"))
	assert.Equal(t, []string{"7 does not have devkitserver::level.edit."},
		f.console(t, "p remove 7 devkitserver::level.edit"))
	assert.Equal(t, []string{"7 has no permissions."}, f.console(t, "p list 7"))
}

func TestPermissions_OnlineUserByName(t *testing.T) {
	f := newFixture(t)
	molly := f.users.Connect(42, "Molly")

	assert.Equal(t, []string{"Granted commands.home to Molly."},
		f.console(t, "permissions add molly commands.home"))

	cached, ok := molly.Permissions()
	require.True(t, ok)
	assert.Equal(t, []string{"commands.home"}, branchStrings(cached))
}

func TestPermissions_OnlineUserNeedsMainThread(t *testing.T) {
	f := newFixture(t)
	f.users.Connect(42, "Molly")

	require.True(t, f.handler.OnCommandInput(context.Background(), "permissions add 42 commands.home"))
	f.output.Take()

	got, err := f.server.GetPermissions(context.Background(), 42, true)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPermissions_ArgumentErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		line string
		want string
	}{
		{"permissions", "Correct usage: /permissions <add|remove|clear|list> [user] [permission]"},
		{"permissions frobnicate 7", "Correct usage: /permissions <add|remove|clear|list> [user] [permission]"},
		{"permissions add 7", "Correct usage: /permissions <add|remove|clear|list> [user] [permission]"},
		{"permissions list", "Correct usage: /permissions <add|remove|clear|list> [user] [permission]"},
		{"permissions add 7 ::bad", "Invalid permission: ::bad."},
		{"permissions add nobody a.b", "Unknown user: nobody."},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, []string{tt.want}, f.console(t, tt.line))
		})
	}
}

func TestPermissions_PlayerGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	noPermission := command.DefaultTranslations[command.KeyNoPermission]

	assert.Equal(t, []string{noPermission}, f.chat(t, 5, "/permissions list"))

	_, err := f.server.AddPermission(ctx, 5, PermissionsList)
	require.NoError(t, err)

	assert.Equal(t, []string{"Permissions of player5: devkitserver::commands.permissions.list"},
		f.chat(t, 5, "/permissions list"), "players may omit themselves when listing")
	assert.Equal(t, []string{noPermission}, f.chat(t, 5, "/permissions add 6 a.b"))

	got, err := f.server.GetPermissions(ctx, 6, false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPermissions_ListEffective(t *testing.T) {
	f := newFixture(t)
	ctx := core.WithMainThread(context.Background())

	_, err := f.server.AddPermission(ctx, 7, permission.MustParseBranch("a.b"))
	require.NoError(t, err)
	_, err = f.server.AddPermissionGroup(ctx, 7, "moderator")
	require.NoError(t, err)

	assert.Equal(t, []string{"Permissions of 7: a.b"}, f.console(t, "permissions list 7"))
	assert.Equal(t, []string{
		"Permissions of 7: a.b, devkitserver::commands.permissions.list, devkitserver::commands.permission_groups.list",
	}, f.console(t, "permissions list 7 effective"))
}

func TestPermissions_Clear(t *testing.T) {
	f := newFixture(t)

	f.console(t, "permissions add 7 a.b")
	f.console(t, "permissions add 7 c.d")

	assert.Equal(t, []string{"Cleared all permissions from 7."}, f.console(t, "permissions clear 7"))
	assert.Equal(t, []string{"7 has no permissions."}, f.console(t, "permissions clear 7"))
}

func branchStrings(list []permission.Branch) []string {
	out := make([]string, len(list))
	for i, b := range list {
		out[i] = b.String()
	}
	return out
}
