// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/core"
	"github.com/devkitserver/devkitserver/internal/localization"
	"github.com/devkitserver/devkitserver/internal/permission"
)

// Context is the execution environment of one command invocation.
type Context struct {
	Entry  *Entry
	Caller Caller
	// Label is the name or alias the caller typed.
	Label string
	Args  []string
	// ArgumentOffset is added to every index passed to the argument
	// accessors, so sub-commands can address their own arguments from 0.
	ArgumentOffset int
	InvocationID   ulid.ULID
	State          core.State

	handler *Handler
	chain   localization.Chain
}

// Arg returns the argument at index, after applying ArgumentOffset.
func (c *Context) Arg(index int) (string, bool) {
	i := index + c.ArgumentOffset
	if index < 0 || i < 0 || i >= len(c.Args) {
		return "", false
	}
	return c.Args[i], true
}

// ArgCount returns the number of arguments past ArgumentOffset.
func (c *Context) ArgCount() int {
	return max(len(c.Args)-c.ArgumentOffset, 0)
}

// HasArgs reports whether at least n arguments are present.
func (c *Context) HasArgs(n int) bool {
	return c.ArgCount() >= n
}

// Rest joins every argument from index on with single spaces.
func (c *Context) Rest(index int) string {
	i := index + c.ArgumentOffset
	if index < 0 || i < 0 || i >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[i:], " ")
}

// MatchParameter reports whether the argument at index equals one of values,
// ignoring case.
func (c *Context) MatchParameter(index int, values ...string) bool {
	arg, ok := c.Arg(index)
	if !ok {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(arg, v) {
			return true
		}
	}
	return false
}

// Arg is the set of types the argument accessors can parse.
type Arg interface {
	string | int | int64 | uint64 | float64 | bool | time.Duration | permission.Branch | ulid.ULID
}

// TryGet parses the argument at index into *out. On failure *out is reset to
// the zero value and false is returned.
func TryGet[T Arg](c *Context, index int, out *T) bool {
	v, ok := parseArg[T](c, index)
	*out = v
	return ok
}

// TryGetInto parses the argument at index into *value. On failure *value is
// left untouched, so a preset default survives a missing or bad argument.
func TryGetInto[T Arg](c *Context, index int, value *T) bool {
	v, ok := parseArg[T](c, index)
	if ok {
		*value = v
	}
	return ok
}

func parseArg[T Arg](c *Context, index int) (T, bool) {
	var zero T
	s, ok := c.Arg(index)
	if !ok {
		return zero, false
	}
	var (
		v   any
		err error
	)
	switch any(zero).(type) {
	case string:
		v = s
	case int:
		v, err = strconv.Atoi(s)
	case int64:
		v, err = strconv.ParseInt(s, 10, 64)
	case uint64:
		v, err = strconv.ParseUint(s, 10, 64)
	case float64:
		v, err = strconv.ParseFloat(s, 64)
	case bool:
		b, valid := parseBool(s)
		if !valid {
			return zero, false
		}
		v = b
	case time.Duration:
		v, err = time.ParseDuration(s)
	case permission.Branch:
		b, valid := permission.ParseBranch(s)
		if !valid {
			return zero, false
		}
		v = b
	case ulid.ULID:
		v, err = ulid.ParseStrict(s)
	}
	if err != nil {
		return zero, false
	}
	return v.(T), true
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "yes", "y", "on", "1", "enable", "enabled":
		return true, true
	case "false", "no", "n", "off", "0", "disable", "disabled":
		return false, true
	}
	return false, false
}

// TryGetUser resolves the argument at index to an online user, by id or by
// case-insensitive name.
func (c *Context) TryGetUser(index int) (*core.User, bool) {
	s, ok := c.Arg(index)
	if !ok || c.handler == nil || c.handler.users == nil {
		return nil, false
	}
	if id, err := strconv.ParseUint(s, 10, 64); err == nil {
		if u, ok := c.handler.users.Get(id); ok {
			return u, true
		}
	}
	return c.handler.users.FindByName(s)
}

// TryGetUserID resolves the argument at index to a user id. Offline users can
// only be named by id.
func (c *Context) TryGetUserID(index int) (uint64, bool) {
	if u, ok := c.TryGetUser(index); ok {
		return u.ID, true
	}
	var id uint64
	return id, TryGet(c, index, &id)
}

// Translate renders key against the command's translations, then the owning
// plugin's, then the module defaults.
func (c *Context) Translate(key string, args ...any) string {
	msg := c.chain.Translate(key, args...)
	if c.Caller.IsConsole() {
		return localization.StripRichText(msg)
	}
	return msg
}

// Reply returns a *Reply carrying the translated message. Returning it from
// Execute stops the command and sends the message.
func (c *Context) Reply(key string, args ...any) error {
	return &Reply{Key: key, Message: c.Translate(key, args...)}
}

// ReplyString is Reply with a literal message.
func (c *Context) ReplyString(message string) error {
	return &Reply{Message: message}
}

// SendCorrectUsage returns a reply with the command's usage line.
func (c *Context) SendCorrectUsage() error {
	usage := c.Entry.Info.Usage
	if usage == "" {
		usage = "/" + c.Entry.Info.Name
	}
	return c.Reply(KeyCorrectUsage, usage)
}

// Send delivers a translated message without stopping the command.
func (c *Context) Send(ctx context.Context, key string, args ...any) {
	c.SendString(ctx, c.Translate(key, args...))
}

// SendString delivers a literal message without stopping the command.
func (c *Context) SendString(ctx context.Context, message string) {
	if c.handler != nil {
		c.handler.send(ctx, c.Caller, message)
	}
}

// HasPermission checks a single leaf for the caller. The console always has
// permission.
func (c *Context) HasPermission(ctx context.Context, leaf permission.Branch) bool {
	if c.Caller.IsConsole() {
		return true
	}
	if c.handler == nil || c.handler.checker == nil {
		return false
	}
	return c.handler.checker.HasPermission(ctx, c.Caller.ID, leaf)
}

// AssertPermission returns the no-permission reply unless the caller holds
// leaf.
func (c *Context) AssertPermission(ctx context.Context, leaf permission.Branch) error {
	if c.HasPermission(ctx, leaf) {
		return nil
	}
	return c.Reply(KeyNoPermission)
}

// AssertArgs returns the usage reply unless at least n arguments are present.
func (c *Context) AssertArgs(n int) error {
	if c.HasArgs(n) {
		return nil
	}
	return c.SendCorrectUsage()
}

// Checker exposes the permission checker the dispatcher was built with.
func (c *Context) Checker() access.Checker {
	if c.handler == nil {
		return nil
	}
	return c.handler.checker
}
