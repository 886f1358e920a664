// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package permission_test

import (
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devkitserver/devkitserver/internal/permission"
)

func group(id string, priority int) *permission.Group {
	return permission.NewGroup(id, id, permission.Color{}, priority)
}

func ids(groups []*permission.Group) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.ID()
	}
	return out
}

func assertDescending(t *testing.T, groups []*permission.Group) {
	t.Helper()
	for i := 1; i < len(groups); i++ {
		assert.GreaterOrEqual(t, groups[i-1].Priority(), groups[i].Priority(),
			"groups out of order at %d: %v", i, ids(groups))
	}
}

func TestGroupRegistry_OrderedInsertIsStable(t *testing.T) {
	reg := permission.NewGroupRegistry()
	require.True(t, reg.Register(group("a", 0)))
	require.True(t, reg.Register(group("b", 10)))
	require.True(t, reg.Register(group("c", 0)))
	require.True(t, reg.Register(group("d", 10)))
	require.True(t, reg.Register(group("e", -5)))

	assert.Equal(t, []string{"b", "d", "a", "c", "e"}, ids(reg.All()))
}

func TestGroupRegistry_RejectsDuplicateID(t *testing.T) {
	reg := permission.NewGroupRegistry(group("admin", 100))
	assert.False(t, reg.Register(group("ADMIN", 1)))
	assert.Equal(t, 1, reg.Len())

	g, ok := reg.Get("Admin")
	require.True(t, ok)
	assert.Equal(t, 100, g.Priority())
}

func TestGroupRegistry_Deregister(t *testing.T) {
	reg := permission.NewGroupRegistry(group("a", 1), group("b", 2))
	assert.True(t, reg.Deregister("A"))
	assert.False(t, reg.Deregister("a"), "second deregister is a no-op")
	assert.Equal(t, []string{"b"}, ids(reg.All()))
}

func TestGroupRegistry_UpdateKeepsIdentityAndResorts(t *testing.T) {
	a, b, c := group("a", 30), group("b", 20), group("c", 10)
	reg := permission.NewGroupRegistry(a, b, c)

	updated, ok := reg.Update(permission.NewGroup("c", "Renamed", permission.Color{}, 25,
		permission.MustParseBranch("x.y")))
	require.True(t, ok)
	assert.Same(t, c, updated, "update must mutate in place")
	assert.Equal(t, "Renamed", c.Name())
	assert.Len(t, c.Permissions(), 1)
	assert.Equal(t, []string{"a", "c", "b"}, ids(reg.All()))
}

func TestGroupRegistry_UpdateToEqualNeighborPriority(t *testing.T) {
	reg := permission.NewGroupRegistry(group("a", 30), group("b", 20), group("c", 10))

	_, ok := reg.Update(group("a", 20))
	require.True(t, ok)
	// a now ties with b and is placed after it.
	assert.Equal(t, []string{"b", "a", "c"}, ids(reg.All()))
	assertDescending(t, reg.All())
}

func TestGroupRegistry_UpdateUnknown(t *testing.T) {
	reg := permission.NewGroupRegistry()
	_, ok := reg.Update(group("ghost", 1))
	assert.False(t, ok)
}

func TestGroupRegistry_RandomUpdatesStaySorted(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	reg := permission.NewGroupRegistry()
	for i := 0; i < 50; i++ {
		reg.Register(group(string(rune('a'+i%26))+string(rune('a'+i/26)), rng.IntN(20)-10))
	}
	all := reg.All()
	for i := 0; i < 200; i++ {
		target := all[rng.IntN(len(all))]
		reg.Update(group(target.ID(), rng.IntN(20)-10))
		assertDescending(t, reg.All())
	}
}

func TestGroup_UpdateFromReportsPriorityChange(t *testing.T) {
	g := group("a", 1)
	assert.False(t, g.UpdateFrom(group("a", 1)))
	assert.True(t, g.UpdateFrom(group("a", 2)))
	assert.False(t, g.UpdateFrom(g))
}

func TestPlaceholderGroup(t *testing.T) {
	g := permission.NewPlaceholderGroup("gone")
	assert.True(t, g.IsPlaceholder())
	assert.Equal(t, permission.PlaceholderPriority, g.Priority())
	assert.False(t, g.AddPermission(permission.MustParseBranch("a.b")))
	assert.False(t, g.Grants(permission.MustParseBranch("a.b")))
}

func TestGroupDefinitions_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.yaml")

	created, err := permission.LoadGroupDefinitions(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "builder", "viewer"}, ids(created))

	custom := []*permission.Group{
		permission.NewGroup("mods", "Moderators", permission.Color{R: 0x12, G: 0x34, B: 0x56}, 5,
			permission.MustParseBranch("devkitserver::commands.kick")),
		permission.NewPlaceholderGroup("ghost"),
	}
	require.NoError(t, permission.SaveGroupDefinitions(path, custom))

	loaded, err := permission.LoadGroupDefinitions(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1, "placeholders are never persisted")
	assert.Equal(t, "Moderators", loaded[0].Name())
	assert.Equal(t, "#123456", loaded[0].Color().String())
	assert.Equal(t, "devkitserver::commands.kick", loaded[0].Permissions()[0].String())
}

func TestParseColor(t *testing.T) {
	c, err := permission.ParseColor("#ff8000")
	require.NoError(t, err)
	assert.Equal(t, permission.Color{R: 0xff, G: 0x80}, c)

	_, err = permission.ParseColor("nope")
	assert.Error(t, err)
}
