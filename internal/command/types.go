// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

// Package command provides the command model, the priority-ordered registry,
// and the dispatcher that turns console and chat input into executions.
package command

import (
	"context"
	"reflect"
	"strconv"

	"golang.org/x/sync/semaphore"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/core"
	"github.com/devkitserver/devkitserver/internal/localization"
	"github.com/devkitserver/devkitserver/internal/permission"
)

// Command is a runnable unit registered with a Registry.
//
// Execute returns nil on success. Returning a *Reply stops the command and
// sends the reply to the caller; any other error is treated as a fault.
type Command interface {
	Describe() Info
	Execute(ctx context.Context, c *Context) error
}

// Info is the declarative part of a command.
type Info struct {
	Name    string
	Aliases []string

	// Permissions are required to run the command: all of them, or any one
	// of them when AnyPermissions is set. An empty list allows everyone.
	Permissions    []permission.Branch
	AnyPermissions bool

	// Priority orders the registry; higher runs first when names overlap.
	Priority int

	// Asynchronous commands run off the dispatching goroutine.
	Asynchronous bool
	// Synchronized commands never run concurrently with themselves.
	Synchronized bool

	Mode ExecutionMode

	// Plugin is the id of the owning plugin, "" for built-in commands.
	Plugin string
	Usage  string
	Help   string

	// Localized commands resolve replies against their own translation
	// table, loaded from TranslationFile and merged over DefaultTranslations.
	Localized           bool
	DefaultTranslations localization.Translations
	TranslationFile     string
}

// Equivalent is implemented by commands with their own notion of identity.
// Such commands skip the concrete type comparison at registration.
type Equivalent interface {
	Equivalent(other Command) bool
}

// PermissionChecker is implemented by commands that replace the default
// permission check.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, checker access.Checker, caller Caller, state core.State) bool
}

// Synchronizer is implemented by commands that share a semaphore with other
// work. Synchronized commands without one get a private 1-slot semaphore.
type Synchronizer interface {
	Semaphore() *semaphore.Weighted
}

// Translated is implemented by commands that bring their own loaded
// translation table.
type Translated interface {
	Translations() localization.Translations
}

// Func adapts a function to the Command interface. Two Funcs are the same
// command when their names match.
type Func struct {
	Info Info
	Run  func(ctx context.Context, c *Context) error
}

// Describe implements Command.
func (f *Func) Describe() Info {
	return f.Info
}

// Execute implements Command.
func (f *Func) Execute(ctx context.Context, c *Context) error {
	return f.Run(ctx, c)
}

// Equivalent implements Equivalent.
func (f *Func) Equivalent(other Command) bool {
	o, ok := other.(*Func)
	return ok && names.equal(f.Info.Name, o.Info.Name)
}

// Source is the channel a command line arrived on.
type Source int

// Input sources.
const (
	SourceConsole Source = iota
	SourceChat
)

func (s Source) String() string {
	if s == SourceChat {
		return "chat"
	}
	return "console"
}

// Caller identifies who invoked a command.
type Caller struct {
	ID     uint64
	Name   string
	Source Source
}

// Console is the server terminal caller.
var Console = Caller{Name: "console", Source: SourceConsole}

// IsConsole reports whether the caller is the server terminal.
func (c Caller) IsConsole() bool {
	return c.Source == SourceConsole
}

func (c Caller) String() string {
	if c.IsConsole() {
		return "console"
	}
	return c.Name + " (" + strconv.FormatUint(c.ID, 10) + ")"
}

// duplicate reports whether b may not be registered alongside a.
func duplicate(a, b Command) bool {
	ea, aok := a.(Equivalent)
	eb, bok := b.(Equivalent)
	switch {
	case aok && ea.Equivalent(b):
		return true
	case bok && eb.Equivalent(a):
		return true
	case aok || bok:
		return false
	}
	return reflect.TypeOf(a) == reflect.TypeOf(b)
}
