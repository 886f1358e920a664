// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/core"
	"github.com/devkitserver/devkitserver/internal/localization"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

var tracer = otel.Tracer("devkitserver/command")

// Execution describes one finished command invocation.
type Execution struct {
	InvocationID ulid.ULID
	Caller       Caller
	Command      string
	Plugin       string
	Label        string
	Args         []string
	Status       string
	// Err is the reply or fault the command ended with, if any.
	Err      error
	Duration time.Duration
}

var globalExecuted struct {
	mu    sync.Mutex
	next  int
	hooks map[int]func(Execution)
}

// OnAnyCommandExecuted adds fn to the handlers called after an execution on
// any Handler. The returned function removes it again.
func OnAnyCommandExecuted(fn func(Execution)) (remove func()) {
	globalExecuted.mu.Lock()
	defer globalExecuted.mu.Unlock()
	if globalExecuted.hooks == nil {
		globalExecuted.hooks = make(map[int]func(Execution))
	}
	id := globalExecuted.next
	globalExecuted.next++
	globalExecuted.hooks[id] = fn
	return func() {
		globalExecuted.mu.Lock()
		defer globalExecuted.mu.Unlock()
		delete(globalExecuted.hooks, id)
	}
}

// HandlerOption configures a Handler during construction.
type HandlerOption func(*Handler)

// WithOutput sets where replies go. The default logs them.
func WithOutput(out Output) HandlerOption {
	return func(h *Handler) {
		h.output = out
	}
}

// WithUsers gives commands access to the online user directory.
func WithUsers(users *core.Users) HandlerOption {
	return func(h *Handler) {
		h.users = users
	}
}

// WithGameState sets the source of execution mode inputs.
func WithGameState(state *core.GameState) HandlerOption {
	return func(h *Handler) {
		h.state = state
	}
}

// WithRateLimiter limits chat-originated commands per user.
func WithRateLimiter(rl *RateLimiter) HandlerOption {
	return func(h *Handler) {
		h.limiter = rl
	}
}

// WithTranslations overrides the module default translations.
func WithTranslations(t localization.Translations) HandlerOption {
	return func(h *Handler) {
		h.defaults = localization.Merge(DefaultTranslations, t)
	}
}

// WithPluginTranslations resolves the translation table of a plugin by id.
func WithPluginTranslations(fn func(pluginID string) localization.Translations) HandlerOption {
	return func(h *Handler) {
		h.pluginTranslations = fn
	}
}

// WithFallback sets what happens to input that matched no command. The
// default tells the caller the command is unknown.
func WithFallback(fn func(ctx context.Context, caller Caller, parsed *ParsedCommand)) HandlerOption {
	return func(h *Handler) {
		h.fallback = fn
	}
}

type vanillaKey struct{}

// vanillaInvocation marks the context a host command runs under.
type vanillaInvocation struct {
	handler *Handler
	caller  Caller
}

// Handler parses command input, checks permissions and execution modes, and
// runs commands.
type Handler struct {
	registry           *Registry
	checker            access.Checker
	output             Output
	users              *core.Users
	state              *core.GameState
	limiter            *RateLimiter
	defaults           localization.Translations
	pluginTranslations func(string) localization.Translations
	fallback           func(context.Context, Caller, *ParsedCommand)

	lifetime context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup

	hookMu   sync.Mutex
	executed []func(Execution)
}

// NewHandler creates a dispatcher over registry. Returns an error if
// registry or checker is nil.
func NewHandler(registry *Registry, checker access.Checker, opts ...HandlerOption) (*Handler, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if checker == nil {
		return nil, ErrNilChecker
	}
	h := &Handler{
		registry: registry,
		checker:  checker,
		defaults: DefaultTranslations,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.output == nil {
		h.output = &Router{}
	}
	if h.fallback == nil {
		h.fallback = h.unknownCommand
	}
	h.lifetime, h.stop = context.WithCancel(context.Background())
	return h, nil
}

// Registry returns the registry the handler dispatches against.
func (h *Handler) Registry() *Registry {
	return h.registry
}

// OnCommandExecuted adds fn to the handlers called after every execution,
// whatever its outcome.
func (h *Handler) OnCommandExecuted(fn func(Execution)) {
	h.hookMu.Lock()
	defer h.hookMu.Unlock()
	h.executed = append(h.executed, fn)
}

func (h *Handler) fireExecuted(ex Execution) {
	h.hookMu.Lock()
	hooks := slices.Clone(h.executed)
	h.hookMu.Unlock()

	globalExecuted.mu.Lock()
	for _, fn := range globalExecuted.hooks {
		hooks = append(hooks, fn)
	}
	globalExecuted.mu.Unlock()

	for _, fn := range hooks {
		func() {
			defer func() {
				if p := recover(); p != nil {
					slog.Error("command executed handler panicked", "command", ex.Command, "panic", p)
				}
			}()
			fn(ex)
		}()
	}
}

// OnCommandInput handles a line typed into the server terminal. It returns
// false when no registered command matched; the fallback has then run.
func (h *Handler) OnCommandInput(ctx context.Context, line string) bool {
	return h.Dispatch(ctx, Console, line)
}

// OnChatProcessing handles chat text from a connected user. Text that does
// not start with ChatPrefix is left alone and false is returned so it can be
// broadcast as chat.
func (h *Handler) OnChatProcessing(ctx context.Context, caller Caller, text string) bool {
	parsed, ok := ParseChat(text)
	if !ok {
		return false
	}
	caller.Source = SourceChat
	if !h.dispatch(ctx, caller, parsed) {
		h.fallback(ctx, caller, parsed)
	}
	return true
}

// Dispatch parses line and runs the matching command for caller. It returns
// false when no registered command matched; the fallback has then run.
func (h *Handler) Dispatch(ctx context.Context, caller Caller, line string) bool {
	parsed, err := Parse(line)
	if err != nil {
		return false
	}
	if h.dispatch(ctx, caller, parsed) {
		return true
	}
	h.fallback(ctx, caller, parsed)
	return false
}

func (h *Handler) unknownCommand(ctx context.Context, caller Caller, parsed *ParsedCommand) {
	slog.DebugContext(ctx, "unknown command", "command", parsed.Name, "caller", caller.String())
	RecordCommandExecution(parsed.Name, "", StatusNotFound)
	h.send(ctx, caller, h.translate(nil, caller, KeyUnknownCommand, parsed.Name))
}

// Wait blocks until every running asynchronous command has returned.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// Close cancels the context of running asynchronous commands and waits for
// them to return.
func (h *Handler) Close() {
	h.stop()
	h.wg.Wait()
}

func (h *Handler) gameState() core.State {
	if h.state == nil {
		return core.State{}
	}
	return h.state.Load()
}

func (h *Handler) dispatch(ctx context.Context, caller Caller, parsed *ParsedCommand) bool {
	entry, ok := h.registry.Find(parsed.Name)
	if !ok {
		return false
	}
	if caller.IsConsole() {
		ctx = access.WithConsole(ctx)
	}

	ex := Execution{
		InvocationID: core.NewInvocationID(),
		Caller:       caller,
		Command:      entry.Info.Name,
		Plugin:       entry.Info.Plugin,
		Label:        parsed.Name,
		Args:         parsed.Args,
	}
	rec := NewMetricsRecorder()
	rec.SetCommand(entry.Info)

	ctx, span := tracer.Start(ctx, "command.execute",
		trace.WithAttributes(
			attribute.String("command.name", entry.Info.Name),
			attribute.String("command.label", parsed.Name),
			attribute.String("command.invocation_id", ex.InvocationID.String()),
			attribute.String("caller.source", caller.Source.String()),
			attribute.String("caller.id", strconv.FormatUint(caller.ID, 10)),
		),
	)
	finish := func(status string, err error) {
		rec.SetStatus(status)
		rec.Record()
		span.SetAttributes(attribute.String("command.status", status))
		if err != nil && status != StatusReply {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		ex.Status = status
		ex.Err = err
		ex.Duration = rec.Elapsed()
		h.fireExecuted(ex)
	}

	state := h.gameState()

	if h.limiter != nil && !caller.IsConsole() && !h.checker.HasPermission(ctx, caller.ID, RateLimitBypass) {
		if allowed, cooldownMs := h.limiter.Allow(caller.ID); !allowed {
			h.send(ctx, caller, h.translate(entry, caller, KeyRateLimited, cooldownMs))
			finish(StatusRateLimited, ErrRateLimited(cooldownMs))
			return true
		}
	}

	if !h.checkPermission(ctx, entry, caller, state) {
		slog.DebugContext(ctx, "command permission denied", "command", entry.Info.Name, "caller", caller.String())
		h.SendNoPermissionMessage(ctx, caller, entry)
		finish(StatusPermissionDenied, ErrPermissionDenied(entry.Info.Name))
		return true
	}

	c := &Context{
		Entry:        entry,
		Caller:       caller,
		Label:        parsed.Name,
		Args:         parsed.Args,
		InvocationID: ex.InvocationID,
		State:        state,
		handler:      h,
		chain:        h.chain(entry),
	}

	if key, ok := entry.Info.Mode.Check(state); !ok {
		reply := c.Reply(key)
		slog.DebugContext(ctx, "command rejected by execution mode", "command", entry.Info.Name, "reason", key)
		h.send(ctx, caller, reply.Error())
		finish(StatusModeRejected, reply)
		return true
	}

	if entry.Info.Asynchronous {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			actx, cancel := h.asyncContext(ctx)
			defer cancel()
			status, err := h.execute(actx, c)
			finish(status, err)
		}()
		return true
	}

	status, err := h.execute(ctx, c)
	finish(status, err)
	return true
}

// asyncContext detaches ctx from the caller's cancellation and ties it to the
// handler's lifetime instead, keeping its values.
func (h *Handler) asyncContext(ctx context.Context) (context.Context, context.CancelFunc) {
	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(h.lifetime, cancel)
	return actx, func() {
		stop()
		cancel()
	}
}

func (h *Handler) checkPermission(ctx context.Context, entry *Entry, caller Caller, state core.State) bool {
	if pc, ok := entry.Command.(PermissionChecker); ok {
		return pc.CheckPermission(ctx, h.checker, caller, state)
	}
	if caller.IsConsole() {
		return true
	}
	perms := entry.Info.Permissions
	if len(perms) == 0 {
		return true
	}
	if entry.Info.AnyPermissions {
		for _, leaf := range perms {
			if h.checker.HasPermission(ctx, caller.ID, leaf) {
				return true
			}
		}
		return false
	}
	for _, leaf := range perms {
		if !h.checker.HasPermission(ctx, caller.ID, leaf) {
			return false
		}
	}
	return true
}

// SendNoPermissionMessage tells caller they may not run entry. entry may be
// nil for checks outside a command.
func (h *Handler) SendNoPermissionMessage(ctx context.Context, caller Caller, entry *Entry) {
	h.send(ctx, caller, h.translate(entry, caller, KeyNoPermission))
}

func (h *Handler) execute(ctx context.Context, c *Context) (string, error) {
	entry := c.Entry
	if entry.sem != nil {
		if err := entry.sem.Acquire(ctx, 1); err != nil {
			return StatusError, oops.In("command").Code("CANCELLED").With("command", entry.Info.Name).Wrap(err)
		}
		defer entry.sem.Release(1)
	}

	runCtx := ctx
	if _, ok := entry.Command.(*VanillaCommand); ok {
		runCtx = context.WithValue(ctx, vanillaKey{}, &vanillaInvocation{handler: h, caller: c.Caller})
	}

	err := run(runCtx, c)
	var reply *Reply
	switch {
	case err == nil:
		return StatusSuccess, nil
	case errors.As(err, &reply):
		slog.DebugContext(ctx, "command replied", "command", entry.Info.Name, "key", reply.Key)
		h.send(ctx, c.Caller, reply.Message)
		return StatusReply, err
	}

	status := StatusError
	if errutil.Code(err) == CodeCommandPanic {
		status = StatusPanic
	}
	errutil.LogError(slog.Default(), "command execution failed", err,
		"command", entry.Info.Name,
		"caller", c.Caller.String(),
		"invocation_id", c.InvocationID.String(),
	)
	if !c.Caller.IsConsole() {
		h.send(ctx, c.Caller, c.Translate(KeyCommandException))
	}
	return status, err
}

func run(ctx context.Context, c *Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = oops.In("command").Code(CodeCommandPanic).
				With("command", c.Entry.Info.Name).
				Errorf("command panicked: %v", p)
		}
	}()
	return c.Entry.Command.Execute(ctx, c)
}

func (h *Handler) chain(entry *Entry) localization.Chain {
	var chain localization.Chain
	if entry != nil {
		if t := entry.Translations(); t != nil {
			chain = append(chain, t)
		}
		if entry.Info.Plugin != "" && h.pluginTranslations != nil {
			if t := h.pluginTranslations(entry.Info.Plugin); t != nil {
				chain = append(chain, t)
			}
		}
	}
	return append(chain, h.defaults)
}

func (h *Handler) translate(entry *Entry, caller Caller, key string, args ...any) string {
	msg := h.chain(entry).Translate(key, args...)
	if caller.IsConsole() {
		return localization.StripRichText(msg)
	}
	return msg
}

func (h *Handler) send(ctx context.Context, to Caller, message string) {
	if message == "" {
		return
	}
	h.output.Send(ctx, to, message)
}

// CaptureVanillaOutput sends message to the caller of the vanilla command
// ctx belongs to. It returns false when ctx is not a vanilla command's
// context from this handler.
func (h *Handler) CaptureVanillaOutput(ctx context.Context, message string) bool {
	inv, ok := ctx.Value(vanillaKey{}).(*vanillaInvocation)
	if !ok || inv.handler != h {
		return false
	}
	h.send(ctx, inv.caller, message)
	return true
}

// HostLogHandler wraps the slog handler used by the host engine. Records
// logged with the context of a running vanilla command go to its caller
// instead of next. Records below next's level are dropped either way.
func (h *Handler) HostLogHandler(next slog.Handler) slog.Handler {
	return &captureHandler{handler: h, next: next}
}

type captureHandler struct {
	handler *Handler
	next    slog.Handler
}

func (c *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return c.next.Enabled(ctx, level)
}

func (c *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	if c.handler.CaptureVanillaOutput(ctx, r.Message) {
		return nil
	}
	return c.next.Handle(ctx, r)
}

func (c *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{handler: c.handler, next: c.next.WithAttrs(attrs)}
}

func (c *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{handler: c.handler, next: c.next.WithGroup(name)}
}
