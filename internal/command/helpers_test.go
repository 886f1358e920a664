// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sentMessage struct {
	To      Caller
	Message string
}

type recordingOutput struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingOutput) Send(_ context.Context, to Caller, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{To: to, Message: message})
}

func (r *recordingOutput) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, m := range r.sent {
		out = append(out, m.Message)
	}
	return out
}

func (r *recordingOutput) To(id uint64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.sent {
		if m.To.ID == id && !m.To.IsConsole() {
			out = append(out, m.Message)
		}
	}
	return out
}

type executions struct {
	mu   sync.Mutex
	list []Execution
}

func (e *executions) record(ex Execution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, ex)
}

func (e *executions) Statuses() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.list))
	for _, ex := range e.list {
		out = append(out, ex.Command+":"+ex.Status)
	}
	return out
}

func (e *executions) Last() Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.list) == 0 {
		return Execution{}
	}
	return e.list[len(e.list)-1]
}

type handlerFixture struct {
	registry *Registry
	handler  *Handler
	output   *recordingOutput
	executed *executions
	state    *core.GameState
}

func newFixture(t *testing.T, checker access.Checker, opts ...HandlerOption) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		registry: NewRegistry(),
		output:   &recordingOutput{},
		executed: &executions{},
		state:    core.NewGameState(core.State{Mode: core.ModePlayer, Multiplayer: true}),
	}
	opts = append([]HandlerOption{WithOutput(f.output), WithGameState(f.state)}, opts...)
	h, err := NewHandler(f.registry, checker, opts...)
	require.NoError(t, err)
	h.OnCommandExecuted(f.executed.record)
	t.Cleanup(h.Close)
	f.handler = h
	return f
}

func (f *handlerFixture) register(t *testing.T, cmd Command) {
	t.Helper()
	require.True(t, f.registry.Register(cmd))
}

func player(id uint64) Caller {
	return Caller{ID: id, Name: "player" + strconv.FormatUint(id, 10), Source: SourceChat}
}

func fn(name string, priority int, run func(ctx context.Context, c *Context) error) *Func {
	if run == nil {
		run = func(context.Context, *Context) error { return nil }
	}
	return &Func{Info: Info{Name: name, Priority: priority}, Run: run}
}

func entryNames(entries []*Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

var errBoom = errors.New("boom")
