// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package builtin

import (
	"context"
	"strconv"
	"strings"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/command"
	"github.com/devkitserver/devkitserver/internal/localization"
	"github.com/devkitserver/devkitserver/internal/permission"
)

// Translation keys used by the permissiongroups command.
const (
	KeyGroupGranted        = "GroupGranted"
	KeyGroupAlreadyGranted = "GroupAlreadyGranted"
	KeyGroupRevoked        = "GroupRevoked"
	KeyGroupNotGranted     = "GroupNotGranted"
	KeyGroupsCleared       = "GroupsCleared"
	KeyGroupsNone          = "GroupsNone"
	KeyGroupsList          = "GroupsList"
	KeyGroupsRegistered    = "GroupsRegistered"
)

// GroupsTranslations are the default replies of the permissiongroups command.
var GroupsTranslations = localization.Translations{
	KeyGroupGranted:        "Added {1} to group <color=#9cff84>{0}</color>.",
	KeyGroupAlreadyGranted: "{1} is already in group {0}.",
	KeyGroupRevoked:        "Removed {1} from group <color=#ff8c69>{0}</color>.",
	KeyGroupNotGranted:     "{1} is not in group {0}.",
	KeyGroupsCleared:       "Removed {0} from every group.",
	KeyGroupsNone:          "{0} is not in any group.",
	KeyGroupsList:          "Groups of {0}: {1}",
	KeyGroupsRegistered:    "Registered groups: {0}",
	KeyUnknownGroup:        "Unknown permission group: {0}.",
	KeyUnknownUser:         "Unknown user: {0}.",
}

// PermissionGroups edits and lists a user's group memberships.
//
//	/permissiongroups list [user]
//	/permissiongroups registered
//	/permissiongroups add <user> <group>
//	/permissiongroups remove <user> <group>
//	/permissiongroups clear <user>
type PermissionGroups struct {
	server *access.Server
}

// NewPermissionGroups creates the permissiongroups command over server.
func NewPermissionGroups(server *access.Server) *PermissionGroups {
	return &PermissionGroups{server: server}
}

// Describe implements command.Command.
func (p *PermissionGroups) Describe() command.Info {
	return command.Info{
		Name:                "permissiongroups",
		Aliases:             []string{"pg", "groups"},
		Permissions:         []permission.Branch{GroupsList, GroupsEdit},
		AnyPermissions:      true,
		Usage:               "/permissiongroups <add|remove|clear|list|registered> [user] [group]",
		Help:                "Add and remove users from permission groups.",
		Localized:           true,
		DefaultTranslations: GroupsTranslations,
	}
}

// Execute implements command.Command.
func (p *PermissionGroups) Execute(ctx context.Context, c *command.Context) error {
	switch {
	case c.MatchParameter(0, "list", "ls", "l"):
		return p.list(ctx, c)
	case c.MatchParameter(0, "registered", "all"):
		return p.registered(ctx, c)
	case c.MatchParameter(0, "add", "grant", "a"):
		return p.add(ctx, c)
	case c.MatchParameter(0, "remove", "revoke", "rem", "r"):
		return p.remove(ctx, c)
	case c.MatchParameter(0, "clear"):
		return p.clear(ctx, c)
	}
	return c.SendCorrectUsage()
}

func describeGroups(groups []*permission.Group) string {
	text := make([]string, len(groups))
	for i, g := range groups {
		text[i] = g.ID() + " (" + strconv.Itoa(g.Priority()) + ")"
	}
	return strings.Join(text, ", ")
}

func (p *PermissionGroups) list(ctx context.Context, c *command.Context) error {
	if err := c.AssertPermission(ctx, GroupsList); err != nil {
		return err
	}
	t, err := resolveTarget(c, 1, true)
	if err != nil {
		return err
	}
	groups, err := p.server.GetPermissionGroups(ctx, t.id, false)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return c.Reply(KeyGroupsNone, t.name)
	}
	c.Send(ctx, KeyGroupsList, t.name, describeGroups(groups))
	return nil
}

func (p *PermissionGroups) registered(ctx context.Context, c *command.Context) error {
	if err := c.AssertPermission(ctx, GroupsList); err != nil {
		return err
	}
	c.Send(ctx, KeyGroupsRegistered, describeGroups(p.server.Groups().All()))
	return nil
}

func (p *PermissionGroups) editArgs(ctx context.Context, c *command.Context) (target, string, error) {
	if err := c.AssertPermission(ctx, GroupsEdit); err != nil {
		return target{}, "", err
	}
	if err := c.AssertArgs(3); err != nil {
		return target{}, "", err
	}
	t, err := resolveTarget(c, 1, false)
	if err != nil {
		return target{}, "", err
	}
	groupID, _ := c.Arg(2)
	return t, groupID, nil
}

func (p *PermissionGroups) add(ctx context.Context, c *command.Context) error {
	t, groupID, err := p.editArgs(ctx, c)
	if err != nil {
		return err
	}
	added, err := p.server.AddPermissionGroup(ctx, t.id, groupID)
	if err != nil {
		return replyForAccessError(c, err, groupID)
	}
	if !added {
		return c.Reply(KeyGroupAlreadyGranted, groupID, t.name)
	}
	c.Send(ctx, KeyGroupGranted, groupID, t.name)
	return nil
}

func (p *PermissionGroups) remove(ctx context.Context, c *command.Context) error {
	t, groupID, err := p.editArgs(ctx, c)
	if err != nil {
		return err
	}
	removed, err := p.server.RemovePermissionGroup(ctx, t.id, groupID)
	if err != nil {
		return replyForAccessError(c, err, groupID)
	}
	if !removed {
		return c.Reply(KeyGroupNotGranted, groupID, t.name)
	}
	c.Send(ctx, KeyGroupRevoked, groupID, t.name)
	return nil
}

func (p *PermissionGroups) clear(ctx context.Context, c *command.Context) error {
	if err := c.AssertPermission(ctx, GroupsEdit); err != nil {
		return err
	}
	t, err := resolveTarget(c, 1, false)
	if err != nil {
		return err
	}
	cleared, err := p.server.ClearPermissionGroups(ctx, t.id)
	if err != nil {
		return replyForAccessError(c, err, "")
	}
	if !cleared {
		return c.Reply(KeyGroupsNone, t.name)
	}
	c.Send(ctx, KeyGroupsCleared, t.name)
	return nil
}

var _ command.Command = (*PermissionGroups)(nil)
