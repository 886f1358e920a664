// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package builtin

import (
	"context"
	"strings"

	"github.com/devkitserver/devkitserver/internal/command"
	"github.com/devkitserver/devkitserver/internal/localization"
)

// Translation keys used by the help command.
const (
	KeyHelpHeader  = "HelpHeader"
	KeyHelpLine    = "HelpLine"
	KeyHelpUsage   = "HelpUsage"
	KeyHelpAliases = "HelpAliases"
	KeyHelpNone    = "HelpNone"
)

// HelpTranslations are the default replies of the help command.
var HelpTranslations = localization.Translations{
	KeyHelpHeader:  "<b>Commands</b>",
	KeyHelpLine:    "/{0} - {1}",
	KeyHelpUsage:   "Usage: {0}",
	KeyHelpAliases: "Aliases: {0}",
	KeyHelpNone:    "No commands available.",
}

// Help lists the commands the caller may run, or describes one command.
type Help struct {
	registry *command.Registry
}

// NewHelp creates the help command over reg.
func NewHelp(reg *command.Registry) *Help {
	return &Help{registry: reg}
}

// Describe implements command.Command.
func (h *Help) Describe() command.Info {
	return command.Info{
		Name:                "help",
		Aliases:             []string{"commands"},
		Usage:               "/help [command]",
		Help:                "List commands, or show how to use one.",
		Localized:           true,
		DefaultTranslations: HelpTranslations,
	}
}

// Execute implements command.Command.
func (h *Help) Execute(ctx context.Context, c *command.Context) error {
	if label, ok := c.Arg(0); ok {
		return h.describe(ctx, c, strings.TrimPrefix(label, command.ChatPrefix))
	}

	var lines []string
	seen := make(map[string]bool)
	for _, e := range h.registry.Entries() {
		if seen[e.Name()] || !allowed(ctx, c, e) {
			continue
		}
		seen[e.Name()] = true
		help := e.Info.Help
		if help == "" {
			help = e.Info.Usage
		}
		lines = append(lines, c.Translate(KeyHelpLine, e.Name(), help))
	}
	if len(lines) == 0 {
		return c.Reply(KeyHelpNone)
	}
	c.Send(ctx, KeyHelpHeader)
	for _, line := range lines {
		c.SendString(ctx, line)
	}
	return nil
}

func (h *Help) describe(ctx context.Context, c *command.Context, label string) error {
	e, ok := h.registry.Find(label)
	if !ok || !allowed(ctx, c, e) {
		return c.Reply(command.KeyUnknownCommand, label)
	}
	usage := e.Info.Usage
	if usage == "" {
		usage = command.ChatPrefix + e.Name()
	}
	if e.Info.Help != "" {
		c.SendString(ctx, e.Info.Help)
	}
	c.Send(ctx, KeyHelpUsage, usage)
	if len(e.Info.Aliases) > 0 {
		c.Send(ctx, KeyHelpAliases, strings.Join(e.Info.Aliases, ", "))
	}
	return nil
}

// allowed mirrors the dispatcher's permission gate so help never lists a
// command the caller cannot run.
func allowed(ctx context.Context, c *command.Context, e *command.Entry) bool {
	if pc, ok := e.Command.(command.PermissionChecker); ok {
		return pc.CheckPermission(ctx, c.Checker(), c.Caller, c.State)
	}
	if c.Caller.IsConsole() || len(e.Info.Permissions) == 0 {
		return true
	}
	for _, b := range e.Info.Permissions {
		has := c.HasPermission(ctx, b)
		if e.Info.AnyPermissions && has {
			return true
		}
		if !e.Info.AnyPermissions && !has {
			return false
		}
	}
	return !e.Info.AnyPermissions
}

var _ command.Command = (*Help)(nil)
