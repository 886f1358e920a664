// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package plugin

import (
	"context"

	"github.com/devkitserver/devkitserver/internal/command"
)

// MessageCommand is a manifest-declared command that sends one translated
// message, such as /rules or /discord.
type MessageCommand struct {
	info    command.Info
	message string
}

// newMessageCommand builds the command for def. The manifest must already be
// valid.
func newMessageCommand(m *Manifest, def CommandDef) *MessageCommand {
	info := command.Info{
		Name:           def.Name,
		Aliases:        def.Aliases,
		AnyPermissions: def.AnyPermission,
		Priority:       def.Priority,
		Plugin:         m.ID,
		Usage:          def.Usage,
		Help:           def.Help,
	}
	for _, p := range def.Permissions {
		if b, ok := m.resolveBranch(p); ok {
			info.Permissions = append(info.Permissions, b)
		}
	}
	for _, mode := range def.Mode {
		if flag, ok := mode.Flag(); ok {
			info.Mode |= flag
		}
	}
	return &MessageCommand{info: info, message: def.Message}
}

// Describe implements command.Command.
func (c *MessageCommand) Describe() command.Info {
	return c.info
}

// Execute implements command.Command.
func (c *MessageCommand) Execute(ctx context.Context, cc *command.Context) error {
	cc.Send(ctx, c.message, cc.Caller.Name, cc.Rest(0))
	return nil
}

// Equivalent implements command.Equivalent. Two message commands collide
// when they come from the same plugin under the same name.
func (c *MessageCommand) Equivalent(other command.Command) bool {
	o, ok := other.(*MessageCommand)
	return ok && o.info.Plugin == c.info.Plugin && o.info.Name == c.info.Name
}

var (
	_ command.Command    = (*MessageCommand)(nil)
	_ command.Equivalent = (*MessageCommand)(nil)
)
