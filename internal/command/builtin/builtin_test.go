// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package builtin

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/command"
	"github.com/devkitserver/devkitserver/internal/core"
	"github.com/devkitserver/devkitserver/internal/permission"
	"github.com/devkitserver/devkitserver/internal/permission/store"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingOutput struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingOutput) Send(_ context.Context, _ command.Caller, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

// Take returns and forgets everything sent so far.
func (r *recordingOutput) Take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.messages
	r.messages = nil
	return out
}

type fixture struct {
	server   *access.Server
	users    *core.Users
	registry *command.Registry
	handler  *command.Handler
	output   *recordingOutput
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	groups := permission.NewGroupRegistry(
		permission.NewGroup("admin", "Admin", permission.Color{}, 100, permission.MustParseBranch("*")),
		permission.NewGroup("moderator", "Moderator", permission.Color{}, 50, PermissionsList, GroupsList),
	)
	st := store.New(store.NewFileBackend(filepath.Join(t.TempDir(), "users")), groups, store.Options{})
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		users:    core.NewUsers(),
		registry: command.NewRegistry(),
		output:   &recordingOutput{},
	}
	f.server = access.NewServer(groups, st, f.users)
	require.NoError(t, Register(f.registry, f.server))

	h, err := command.NewHandler(f.registry, f.server,
		command.WithOutput(f.output),
		command.WithUsers(f.users))
	require.NoError(t, err)
	t.Cleanup(h.Close)
	f.handler = h
	return f
}

// console runs line from the terminal and returns what was sent back.
func (f *fixture) console(t *testing.T, line string) []string {
	t.Helper()
	require.True(t, f.handler.OnCommandInput(core.WithMainThread(context.Background()), line), line)
	return f.output.Take()
}

// chat runs text as chat from player id and returns what was sent back.
func (f *fixture) chat(t *testing.T, id uint64, text string) []string {
	t.Helper()
	caller := command.Caller{ID: id, Name: "player" + strconv.FormatUint(id, 10)}
	require.True(t, f.handler.OnChatProcessing(core.WithMainThread(context.Background()), caller, text), text)
	return f.output.Take()
}

func TestRegister_AddsEveryBuiltin(t *testing.T) {
	f := newFixture(t)

	for _, label := range []string{"permissions", "p", "perms", "permissiongroups", "pg", "help", "commands"} {
		_, ok := f.registry.Find(label)
		assert.True(t, ok, label)
	}

	err := Register(f.registry, f.server)
	errutil.AssertErrorCode(t, err, "REGISTER_FAILED")
	assert.Equal(t, 3, f.registry.Len())
}
