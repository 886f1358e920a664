// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devkitserver/devkitserver/internal/access/accesstest"
	"github.com/devkitserver/devkitserver/internal/core"
	"github.com/devkitserver/devkitserver/internal/permission"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

func TestNewHandler_RequiresDependencies(t *testing.T) {
	_, err := NewHandler(nil, accesstest.AllowAll{})
	errutil.AssertErrorCode(t, err, "NIL_REGISTRY")

	_, err = NewHandler(NewRegistry(), nil)
	errutil.AssertErrorCode(t, err, "NIL_CHECKER")
}

func TestHandler_ConsoleRunsSyncCommandInline(t *testing.T) {
	f := newFixture(t, accesstest.DenyAll{})

	var got []string
	var caller Caller
	cmd := fn("echo", 0, func(_ context.Context, c *Context) error {
		got = c.Args
		caller = c.Caller
		return nil
	})
	cmd.Info.Permissions = []permission.Branch{permission.MustParseBranch("commands.echo")}
	f.register(t, cmd)

	before := testutil.ToFloat64(CommandExecutions.WithLabelValues("echo", "devkitserver", StatusSuccess))
	require.True(t, f.handler.OnCommandInput(context.Background(), `ECHO a "b c"`))

	assert.Equal(t, []string{"a", "b c"}, got, "the body ran before dispatch returned")
	assert.True(t, caller.IsConsole())
	assert.Equal(t, []string{"echo:success"}, f.executed.Statuses())
	assert.NotEqual(t, ulid.ULID{}, f.executed.Last().InvocationID)
	assert.Equal(t, "ECHO", f.executed.Last().Label)
	assert.InDelta(t, before+1, testutil.ToFloat64(CommandExecutions.WithLabelValues("echo", "devkitserver", StatusSuccess)), 0.001)
}

func TestHandler_UnknownInputFallsThrough(t *testing.T) {
	f := newFixture(t, accesstest.AllowAll{})

	assert.False(t, f.handler.OnCommandInput(context.Background(), "nope"))
	assert.Equal(t, []string{"Unknown command: nope. Try /help."}, f.output.Messages())
	assert.Empty(t, f.executed.Statuses())

	assert.False(t, f.handler.OnChatProcessing(context.Background(), player(3), "hello everyone"),
		"plain chat is left for broadcast")
	assert.True(t, f.handler.OnChatProcessing(context.Background(), player(3), "/nope"))
	assert.Equal(t, []string{"Unknown command: nope. Try /help."}, f.output.To(3))

	var fellThrough []string
	custom := newFixture(t, accesstest.AllowAll{}, WithFallback(func(_ context.Context, _ Caller, p *ParsedCommand) {
		fellThrough = append(fellThrough, p.Raw)
	}))
	assert.False(t, custom.handler.OnCommandInput(context.Background(), "vanilla thing"))
	assert.Equal(t, []string{"vanilla thing"}, fellThrough)
	assert.Empty(t, custom.output.Messages())
}

func TestHandler_PermissionGate(t *testing.T) {
	checker := accesstest.NewMockChecker()
	checker.Grant(1, "commands.kick")
	checker.Grant(2, "commands.kick", "commands.ban")
	f := newFixture(t, checker)

	var ran []uint64
	body := func(_ context.Context, c *Context) error {
		ran = append(ran, c.Caller.ID)
		return nil
	}
	all := fn("punish", 0, body)
	all.Info.Permissions = []permission.Branch{
		permission.MustParseBranch("commands.kick"),
		permission.MustParseBranch("commands.ban"),
	}
	anyOf := fn("scold", 0, body)
	anyOf.Info.AnyPermissions = true
	anyOf.Info.Permissions = all.Info.Permissions
	f.register(t, all)
	f.register(t, anyOf)

	ctx := context.Background()
	require.True(t, f.handler.OnChatProcessing(ctx, player(1), "/punish"))
	require.True(t, f.handler.OnChatProcessing(ctx, player(2), "/punish"))
	require.True(t, f.handler.OnChatProcessing(ctx, player(1), "/scold"))
	require.True(t, f.handler.OnChatProcessing(ctx, player(3), "/scold"))
	require.True(t, f.handler.OnCommandInput(ctx, "punish"))

	assert.Equal(t, []uint64{2, 1, 0}, ran)
	assert.Equal(t, []string{DefaultTranslations[KeyNoPermission]}, f.output.To(1))
	assert.Equal(t, []string{DefaultTranslations[KeyNoPermission]}, f.output.To(3))
	assert.Equal(t, []string{
		"punish:permission_denied", "punish:success", "scold:success", "scold:permission_denied", "punish:success",
	}, f.executed.Statuses())
}

func TestHandler_ExecutionModeGate(t *testing.T) {
	checker := accesstest.NewMockChecker()
	checker.Grant(1, "commands.build")
	f := newFixture(t, checker)

	ran := 0
	cmd := fn("build", 0, func(context.Context, *Context) error {
		ran++
		return nil
	})
	cmd.Info.Mode = ModeRequireEditing
	cmd.Info.Permissions = []permission.Branch{permission.MustParseBranch("commands.build")}
	f.register(t, cmd)

	ctx := context.Background()
	require.True(t, f.handler.OnChatProcessing(ctx, player(1), "/build"))
	require.True(t, f.handler.OnChatProcessing(ctx, player(2), "/build"))
	assert.Equal(t, 0, ran)
	assert.Equal(t, []string{DefaultTranslations[KeyCommandMustBeEditor]}, f.output.To(1))
	assert.Equal(t, []string{DefaultTranslations[KeyNoPermission]}, f.output.To(2),
		"permission is checked before the execution mode")

	f.state.Update(func(s *core.State) { s.Mode = core.ModeEditor })
	require.True(t, f.handler.OnChatProcessing(ctx, player(1), "/build"))
	assert.Equal(t, 1, ran)
	assert.Equal(t, []string{"build:mode_rejected", "build:permission_denied", "build:success"}, f.executed.Statuses())
}

func TestHandler_ReplyStopsCommand(t *testing.T) {
	f := newFixture(t, accesstest.AllowAll{})
	f.register(t, fn("warp", 0, func(_ context.Context, c *Context) error {
		var name string
		if !TryGet(c, 0, &name) {
			return c.SendCorrectUsage()
		}
		return c.ReplyString("warped to " + name)
	}))

	ctx := context.Background()
	require.True(t, f.handler.OnChatProcessing(ctx, player(1), "/warp"))
	require.True(t, f.handler.OnChatProcessing(ctx, player(1), "/warp spawn"))

	assert.Equal(t, []string{"Correct usage: /warp", "warped to spawn"}, f.output.To(1))
	assert.Equal(t, []string{"warp:reply", "warp:reply"}, f.executed.Statuses())

	var reply *Reply
	require.ErrorAs(t, f.executed.Last().Err, &reply)
	assert.Equal(t, "warped to spawn", reply.Message)
}

func TestHandler_FaultsAreContained(t *testing.T) {
	f := newFixture(t, accesstest.AllowAll{})
	f.register(t, fn("fail", 0, func(context.Context, *Context) error {
		return errBoom
	}))
	f.register(t, fn("explode", 0, func(context.Context, *Context) error {
		panic("kaboom")
	}))

	ctx := context.Background()
	require.True(t, f.handler.OnChatProcessing(ctx, player(1), "/fail"))
	require.True(t, f.handler.OnChatProcessing(ctx, player(1), "/explode"))
	require.True(t, f.handler.OnCommandInput(ctx, "fail"))
	require.True(t, f.handler.OnCommandInput(ctx, "explode"))

	generic := DefaultTranslations[KeyCommandException]
	assert.Equal(t, []string{generic, generic}, f.output.To(1))
	assert.Len(t, f.output.Messages(), 2, "the console only gets the log")
	assert.Equal(t, []string{"fail:error", "explode:panic", "fail:error", "explode:panic"}, f.executed.Statuses())

	ex := f.executed.Last()
	errutil.AssertErrorCode(t, ex.Err, CodeCommandPanic)
}

func TestHandler_AsyncCommandOutlivesCallerContext(t *testing.T) {
	f := newFixture(t, accesstest.AllowAll{})

	started := make(chan struct{})
	release := make(chan struct{})
	var seen error
	cmd := fn("slow", 0, func(ctx context.Context, _ *Context) error {
		close(started)
		<-release
		seen = ctx.Err()
		return nil
	})
	cmd.Info.Asynchronous = true
	f.register(t, cmd)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, f.handler.OnChatProcessing(ctx, player(1), "/slow"))
	<-started
	assert.Empty(t, f.executed.Statuses(), "dispatch returned before the command finished")
	cancel()
	close(release)
	f.handler.Wait()

	assert.NoError(t, seen)
	assert.Equal(t, []string{"slow:success"}, f.executed.Statuses())
}

func TestHandler_CloseCancelsAsyncCommands(t *testing.T) {
	f := newFixture(t, accesstest.AllowAll{})

	started := make(chan struct{})
	cmd := fn("forever", 0, func(ctx context.Context, _ *Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	cmd.Info.Asynchronous = true
	f.register(t, cmd)

	require.True(t, f.handler.OnCommandInput(context.Background(), "forever"))
	<-started
	f.handler.Close()
	assert.Equal(t, []string{"forever:success"}, f.executed.Statuses())
}

func TestHandler_SynchronizedCommandsNeverOverlap(t *testing.T) {
	f := newFixture(t, accesstest.AllowAll{})

	var active, peak atomic.Int32
	cmd := fn("exclusive", 0, func(context.Context, *Context) error {
		n := active.Add(1)
		for {
			m := peak.Load()
			if n <= m || peak.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	})
	cmd.Info.Asynchronous = true
	cmd.Info.Synchronized = true
	f.register(t, cmd)

	for i := 0; i < 5; i++ {
		require.True(t, f.handler.OnCommandInput(context.Background(), "exclusive"))
	}
	f.handler.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Len(t, f.executed.Statuses(), 5)
}

func TestHandler_RateLimitsChat(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{BurstCapacity: 1, SustainedRate: MinSustainedRate}, nil)
	t.Cleanup(limiter.Close)

	checker := accesstest.NewMockChecker()
	checker.Grant(2, RateLimitBypass.String())
	f := newFixture(t, checker, WithRateLimiter(limiter))
	f.register(t, fn("ping", 0, nil))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.handler.OnChatProcessing(ctx, player(1), "/ping")
		f.handler.OnChatProcessing(ctx, player(2), "/ping")
		f.handler.OnCommandInput(ctx, "ping")
	}

	require.Len(t, f.output.To(1), 2)
	assert.Contains(t, f.output.To(1)[0], "Too many commands")
	assert.Empty(t, f.output.To(2))
	assert.Equal(t, []string{
		"ping:success", "ping:success", "ping:success",
		"ping:rate_limited", "ping:success", "ping:success",
		"ping:rate_limited", "ping:success", "ping:success",
	}, f.executed.Statuses())
}

func TestOnAnyCommandExecuted(t *testing.T) {
	f := newFixture(t, accesstest.AllowAll{})
	f.register(t, fn("ping", 0, nil))

	var count atomic.Int32
	remove := OnAnyCommandExecuted(func(ex Execution) {
		if ex.Command == "ping" {
			count.Add(1)
		}
	})
	f.handler.OnCommandInput(context.Background(), "ping")
	remove()
	f.handler.OnCommandInput(context.Background(), "ping")

	assert.Equal(t, int32(1), count.Load())
}

func TestHandler_ExecutedHandlerPanicIsContained(t *testing.T) {
	f := newFixture(t, accesstest.AllowAll{})
	f.register(t, fn("ping", 0, nil))
	f.handler.OnCommandExecuted(func(Execution) { panic("listener") })

	assert.NotPanics(t, func() {
		f.handler.OnCommandInput(context.Background(), "ping")
	})
	assert.Equal(t, []string{"ping:success"}, f.executed.Statuses())
}

func TestRouter_StripsRichTextForConsole(t *testing.T) {
	var buf bytes.Buffer
	var chat []string
	router := &Router{
		Console: &buf,
		Players: OutputFunc(func(_ context.Context, _ Caller, m string) { chat = append(chat, m) }),
	}
	f := newFixture(t, accesstest.AllowAll{}, WithOutput(router))
	f.register(t, fn("done", 0, func(_ context.Context, c *Context) error {
		return c.ReplyString("<color=#00ff00>done</color>")
	}))

	f.handler.OnCommandInput(context.Background(), "done")
	f.handler.OnChatProcessing(context.Background(), player(1), "/done")

	assert.Equal(t, "done\n", buf.String())
	assert.Equal(t, []string{"<color=#00ff00>done</color>"}, chat)
}
