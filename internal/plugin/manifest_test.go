// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devkitserver/devkitserver/internal/plugin"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

const welcomeManifest = `
id: welcome
name: Welcome Pack
version: 1.2.0
requires: ">= 1.0, < 2.0"
permissions:
  - path: commands.rules
    description: Read the server rules
commands:
  - name: rules
    aliases: [r]
    permissions: [commands.rules]
    mode: [multiplayer]
    message: RulesText
  - name: discord
    message: DiscordLink
`

func TestParseManifest_Valid(t *testing.T) {
	m, err := plugin.ParseManifest([]byte(welcomeManifest))
	require.NoError(t, err)

	assert.Equal(t, "welcome", m.ID)
	require.Len(t, m.Commands, 2)
	assert.Equal(t, []plugin.Mode{plugin.ModeMultiplayer}, m.Commands[0].Mode)

	branches := m.Branches()
	require.Len(t, branches, 1)
	assert.Equal(t, "welcome::commands.rules", branches[0].String())
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"empty", ""},
		{"bad yaml", "id: ["},
		{"missing id", "version: 1.0.0"},
		{"uppercase id", "id: Welcome\nversion: 1.0.0"},
		{"trailing hyphen", "id: welcome-\nversion: 1.0.0"},
		{"reserved id", "id: core\nversion: 1.0.0"},
		{"missing version", "id: welcome"},
		{"not semver", "id: welcome\nversion: banana"},
		{"bad constraint", "id: welcome\nversion: 1.0.0\nrequires: '>>> 1'"},
		{"bad permission", "id: welcome\nversion: 1.0.0\npermissions:\n  - path: a..b"},
		{"bad command name", "id: welcome\nversion: 1.0.0\ncommands:\n  - name: 9lives\n    message: X"},
		{"bad alias", "id: welcome\nversion: 1.0.0\ncommands:\n  - name: rules\n    aliases: ['?']\n    message: X"},
		{"no message", "id: welcome\nversion: 1.0.0\ncommands:\n  - name: rules"},
		{"unknown mode", "id: welcome\nversion: 1.0.0\ncommands:\n  - name: rules\n    mode: [flying]\n    message: X"},
		{"duplicate command", "id: welcome\nversion: 1.0.0\ncommands:\n  - name: rules\n    message: X\n  - name: rules\n    message: Y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plugin.ParseManifest([]byte(tt.manifest))
			assert.Error(t, err)
		})
	}
}

func TestParseManifest_ErrorCodes(t *testing.T) {
	_, err := plugin.ParseManifest(nil)
	errutil.AssertErrorCode(t, err, "EMPTY_MANIFEST")

	_, err = plugin.ParseManifest([]byte("id: welcome\nversion: banana"))
	errutil.AssertErrorCode(t, err, "INVALID_MANIFEST")
}

func TestManifest_Compatible(t *testing.T) {
	m, err := plugin.ParseManifest([]byte(welcomeManifest))
	require.NoError(t, err)

	ok, err := m.Compatible("1.4.2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Compatible("2.0.0")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Compatible("dev")
	errutil.AssertErrorCode(t, err, "INVALID_SERVER_VERSION")

	m.Requires = ""
	ok, err = m.Compatible("dev")
	require.NoError(t, err)
	assert.True(t, ok, "no constraint accepts anything")
}

func TestMode_Flag(t *testing.T) {
	_, ok := plugin.ModeCheats.Flag()
	assert.True(t, ok)
	_, ok = plugin.Mode("flying").Flag()
	assert.False(t, ok)
}
