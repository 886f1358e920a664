// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

// Package builtin provides the administrative commands every server ships
// with: permission editing, group membership editing and help.
package builtin

import (
	"strconv"

	"github.com/samber/oops"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/command"
	"github.com/devkitserver/devkitserver/internal/permission"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

// Permission leaves checked by the built-in commands.
var (
	PermissionsList = permission.NewBranch(permission.ScopeDevkitServer, "commands.permissions.list")
	PermissionsEdit = permission.NewBranch(permission.ScopeDevkitServer, "commands.permissions.edit")
	GroupsList      = permission.NewBranch(permission.ScopeDevkitServer, "commands.permission_groups.list")
	GroupsEdit      = permission.NewBranch(permission.ScopeDevkitServer, "commands.permission_groups.edit")
)

// Register adds the built-in commands to reg. Every command is attempted; the
// returned error names the ones that were rejected.
func Register(reg *command.Registry, server *access.Server) error {
	var rejected []string
	for _, cmd := range []command.Command{
		NewPermissions(server),
		NewPermissionGroups(server),
		NewHelp(reg),
	} {
		if !reg.Register(cmd) {
			rejected = append(rejected, cmd.Describe().Name)
		}
	}
	if len(rejected) > 0 {
		return oops.In("builtin").
			Code("REGISTER_FAILED").
			With("commands", rejected).
			Errorf("failed to register built-in commands: %v", rejected)
	}
	return nil
}

// target is the user a subcommand operates on.
type target struct {
	id   uint64
	name string
}

// resolveTarget reads the user argument at index. A player may omit it to
// mean themselves when self is set.
func resolveTarget(c *command.Context, index int, self bool) (target, error) {
	if !c.HasArgs(index+1) {
		if self && !c.Caller.IsConsole() {
			return target{id: c.Caller.ID, name: c.Caller.Name}, nil
		}
		return target{}, c.SendCorrectUsage()
	}
	if u, ok := c.TryGetUser(index); ok {
		return target{id: u.ID, name: u.Name}, nil
	}
	if id, ok := c.TryGetUserID(index); ok {
		return target{id: id, name: strconv.FormatUint(id, 10)}, nil
	}
	arg, _ := c.Arg(index)
	return target{}, c.Reply(KeyUnknownUser, arg)
}

// Translation keys shared by the built-in commands.
const (
	KeyUnknownUser  = "UnknownUser"
	KeyUnknownGroup = "UnknownGroup"
)

// replyForAccessError turns expected engine errors into replies. Anything
// else is returned unchanged and surfaces as a command fault.
func replyForAccessError(c *command.Context, err error, groupID string) error {
	if errutil.Code(err) == "GROUP_NOT_FOUND" {
		return c.Reply(KeyUnknownGroup, groupID)
	}
	return err
}
