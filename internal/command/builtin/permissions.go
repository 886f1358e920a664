// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package builtin

import (
	"context"
	"strings"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/command"
	"github.com/devkitserver/devkitserver/internal/localization"
	"github.com/devkitserver/devkitserver/internal/permission"
)

// Translation keys used by the permissions command.
const (
	KeyPermissionGranted        = "PermissionGranted"
	KeyPermissionAlreadyGranted = "PermissionAlreadyGranted"
	KeyPermissionRevoked        = "PermissionRevoked"
	KeyPermissionNotGranted     = "PermissionNotGranted"
	KeyPermissionsCleared       = "PermissionsCleared"
	KeyPermissionsNone          = "PermissionsNone"
	KeyPermissionsList          = "PermissionsList"
	KeyInvalidPermission        = "InvalidPermission"
)

// PermissionsTranslations are the default replies of the permissions command.
var PermissionsTranslations = localization.Translations{
	KeyPermissionGranted:        "Granted <color=#9cff84>{0}</color> to {1}.",
	KeyPermissionAlreadyGranted: "{1} already has {0}.",
	KeyPermissionRevoked:        "Revoked <color=#ff8c69>{0}</color> from {1}.",
	KeyPermissionNotGranted:     "{1} does not have {0}.",
	KeyPermissionsCleared:       "Cleared all permissions from {0}.",
	KeyPermissionsNone:          "{0} has no permissions.",
	KeyPermissionsList:          "Permissions of {0}: {1}",
	KeyInvalidPermission:        "Invalid permission: {0}.",
	KeyUnknownUser:              "Unknown user: {0}.",
}

// Permissions edits and lists a user's direct grants.
//
//	/permissions list [user] [effective]
//	/permissions add <user> <permission>
//	/permissions remove <user> <permission>
//	/permissions clear <user>
type Permissions struct {
	server *access.Server
}

// NewPermissions creates the permissions command over server.
func NewPermissions(server *access.Server) *Permissions {
	return &Permissions{server: server}
}

// Describe implements command.Command.
func (p *Permissions) Describe() command.Info {
	return command.Info{
		Name:                "permissions",
		Aliases:             []string{"p", "perms"},
		Permissions:         []permission.Branch{PermissionsList, PermissionsEdit},
		AnyPermissions:      true,
		Usage:               "/permissions <add|remove|clear|list> [user] [permission]",
		Help:                "Grant, revoke and list a user's permissions.",
		Localized:           true,
		DefaultTranslations: PermissionsTranslations,
	}
}

// Execute implements command.Command.
func (p *Permissions) Execute(ctx context.Context, c *command.Context) error {
	switch {
	case c.MatchParameter(0, "list", "ls", "l"):
		return p.list(ctx, c)
	case c.MatchParameter(0, "add", "grant", "a"):
		return p.add(ctx, c)
	case c.MatchParameter(0, "remove", "revoke", "rem", "r"):
		return p.remove(ctx, c)
	case c.MatchParameter(0, "clear"):
		return p.clear(ctx, c)
	}
	return c.SendCorrectUsage()
}

func (p *Permissions) list(ctx context.Context, c *command.Context) error {
	if err := c.AssertPermission(ctx, PermissionsList); err != nil {
		return err
	}
	t, err := resolveTarget(c, 1, true)
	if err != nil {
		return err
	}

	var branches []permission.Branch
	if c.MatchParameter(2, "effective", "all", "e") {
		branches, err = p.server.EffectivePermissions(ctx, t.id)
	} else {
		branches, err = p.server.GetPermissions(ctx, t.id, false)
	}
	if err != nil {
		return err
	}
	if len(branches) == 0 {
		return c.Reply(KeyPermissionsNone, t.name)
	}
	text := make([]string, len(branches))
	for i, b := range branches {
		text[i] = b.String()
	}
	c.Send(ctx, KeyPermissionsList, t.name, strings.Join(text, ", "))
	return nil
}

// editArgs validates the add/remove argument shape.
func (p *Permissions) editArgs(ctx context.Context, c *command.Context) (target, permission.Branch, error) {
	var b permission.Branch
	if err := c.AssertPermission(ctx, PermissionsEdit); err != nil {
		return target{}, b, err
	}
	if err := c.AssertArgs(3); err != nil {
		return target{}, b, err
	}
	t, err := resolveTarget(c, 1, false)
	if err != nil {
		return target{}, b, err
	}
	if !command.TryGet(c, 2, &b) {
		raw, _ := c.Arg(2)
		return target{}, b, c.Reply(KeyInvalidPermission, raw)
	}
	return t, b, nil
}

func (p *Permissions) add(ctx context.Context, c *command.Context) error {
	t, b, err := p.editArgs(ctx, c)
	if err != nil {
		return err
	}
	added, err := p.server.AddPermission(ctx, t.id, b)
	if err != nil {
		return replyForAccessError(c, err, "")
	}
	if !added {
		return c.Reply(KeyPermissionAlreadyGranted, b, t.name)
	}
	c.Send(ctx, KeyPermissionGranted, b, t.name)
	return nil
}

func (p *Permissions) remove(ctx context.Context, c *command.Context) error {
	t, b, err := p.editArgs(ctx, c)
	if err != nil {
		return err
	}
	removed, err := p.server.RemovePermission(ctx, t.id, b)
	if err != nil {
		return replyForAccessError(c, err, "")
	}
	if !removed {
		return c.Reply(KeyPermissionNotGranted, b, t.name)
	}
	c.Send(ctx, KeyPermissionRevoked, b, t.name)
	return nil
}

func (p *Permissions) clear(ctx context.Context, c *command.Context) error {
	if err := c.AssertPermission(ctx, PermissionsEdit); err != nil {
		return err
	}
	t, err := resolveTarget(c, 1, false)
	if err != nil {
		return err
	}
	cleared, err := p.server.ClearPermissions(ctx, t.id)
	if err != nil {
		return replyForAccessError(c, err, "")
	}
	if !cleared {
		return c.Reply(KeyPermissionsNone, t.name)
	}
	c.Send(ctx, KeyPermissionsCleared, t.name)
	return nil
}

var _ command.Command = (*Permissions)(nil)
