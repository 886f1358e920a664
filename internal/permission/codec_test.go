// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package permission_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devkitserver/devkitserver/internal/permission"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

func TestCodec_Primitives(t *testing.T) {
	var buf bytes.Buffer
	w := permission.NewWriter(&buf)
	w.WriteUint8(7)
	w.WriteBool(true)
	w.WriteUint16(65000)
	w.WriteInt32(-42)
	w.WriteUint32(4000000000)
	w.WriteUint64(76561198000000000)
	w.WriteString("héllo")
	require.NoError(t, w.Err())

	r := permission.NewReader(&buf)
	assert.Equal(t, uint8(7), r.ReadUint8())
	assert.True(t, r.ReadBool())
	assert.Equal(t, uint16(65000), r.ReadUint16())
	assert.Equal(t, int32(-42), r.ReadInt32())
	assert.Equal(t, uint32(4000000000), r.ReadUint32())
	assert.Equal(t, uint64(76561198000000000), r.ReadUint64())
	assert.Equal(t, "héllo", r.ReadString())
	assert.False(t, r.HasFailed())
}

func TestReader_FailureIsSticky(t *testing.T) {
	r := permission.NewReader(bytes.NewReader([]byte{1}))
	_ = r.ReadUint16()
	require.True(t, r.HasFailed())
	errutil.AssertErrorCode(t, r.Err(), "READ_FAILED")

	// Later reads return zero values without panicking.
	assert.Equal(t, "", r.ReadString())
	assert.Equal(t, int32(0), r.ReadInt32())
}

func TestWriter_RejectsOversizedString(t *testing.T) {
	var buf bytes.Buffer
	w := permission.NewWriter(&buf)
	w.WriteString(strings.Repeat("a", permission.MaxStringLength+1))
	errutil.AssertErrorCode(t, w.Err(), "STRING_TOO_LONG")
}

func TestCodec_BranchRoundTrip(t *testing.T) {
	branches := []string{
		"commands.ban",
		"devkitserver::level.objects.place",
		"core::commands.kick",
		"my-plugin::tools.*",
		"*",
	}
	var buf bytes.Buffer
	w := permission.NewWriter(&buf)
	for _, s := range branches {
		w.WriteBranch(permission.MustParseBranch(s))
	}
	require.NoError(t, w.Err())

	r := permission.NewReader(&buf)
	for _, s := range branches {
		b, ok := r.ReadBranch()
		require.True(t, ok, s)
		want := permission.MustParseBranch(s)
		assert.True(t, want.Equal(b), s)
		assert.Equal(t, want.DevkitServer, b.DevkitServer)
		assert.Equal(t, want.Core, b.Core)
		assert.Equal(t, want.Plugin, b.Plugin)
	}
}

func TestCodec_BranchIgnoresUnknownFlags(t *testing.T) {
	var buf bytes.Buffer
	w := permission.NewWriter(&buf)
	w.WriteUint8(0x80 | 0x01) // unknown high bit + devkitserver
	w.WriteString("commands.ban")
	require.NoError(t, w.Err())

	b, ok := permission.NewReader(&buf).ReadBranch()
	require.True(t, ok)
	assert.True(t, b.DevkitServer)
	assert.Equal(t, "commands.ban", b.Path)
}

func TestCodec_GroupRoundTrip(t *testing.T) {
	g := permission.NewGroup("mods", "Moderators", permission.Color{R: 1, G: 2, B: 3}, 42,
		permission.MustParseBranch("devkitserver::commands.kick"),
		permission.MustParseBranch("commands.*"),
	)

	var buf bytes.Buffer
	w := permission.NewWriter(&buf)
	w.WriteGroup(g)
	require.NoError(t, w.Err())

	got, ok := permission.NewReader(&buf).ReadGroup()
	require.True(t, ok)
	assert.Equal(t, "mods", got.ID())
	assert.Equal(t, "Moderators", got.Name())
	assert.Equal(t, permission.Color{R: 1, G: 2, B: 3}, got.Color())
	assert.Equal(t, 42, got.Priority())
	assert.Len(t, got.Permissions(), 2)
}

func TestCodec_TruncatedGroup(t *testing.T) {
	var buf bytes.Buffer
	w := permission.NewWriter(&buf)
	w.WriteGroup(permission.NewGroup("mods", "Moderators", permission.Color{}, 1,
		permission.MustParseBranch("a.b")))
	data := buf.Bytes()[:buf.Len()-3]

	_, ok := permission.NewReader(bytes.NewReader(data)).ReadGroup()
	assert.False(t, ok)
}
