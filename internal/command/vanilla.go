// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/core"
	"github.com/devkitserver/devkitserver/internal/permission"
)

// HostCommand is a command native to the host engine. Its output goes
// through the host engine's logger, logged with the context Execute was
// given.
type HostCommand interface {
	// TypeName is the stable name of the host command type, used as the key
	// into the vanilla command table.
	TypeName() string
	// Command is the name players type.
	Command() string
	Execute(ctx context.Context, executorID uint64, parameter string) error
}

// VanillaInfo describes the restrictions of a host command.
type VanillaInfo struct {
	Mode ExecutionMode
	// TerminalOnly commands can only be run from the server terminal.
	TerminalOnly bool
	// DedicatedOnly commands can only be run on a dedicated server.
	DedicatedOnly bool
	// StartupOnly commands can only be run from the startup command file.
	StartupOnly bool
}

// vanillaTable is keyed by host type name so entries for types the host no
// longer has simply never match.
var vanillaTable = map[string]VanillaInfo{
	"CommandAdmin":      {},
	"CommandAdmins":     {},
	"CommandAirdrop":    {Mode: ModeRequirePlaying},
	"CommandBan":        {},
	"CommandBans":       {},
	"CommandCamera":     {DedicatedOnly: true, StartupOnly: true},
	"CommandCheats":     {DedicatedOnly: true, StartupOnly: true},
	"CommandCycle":      {Mode: ModeRequirePlaying},
	"CommandDay":        {},
	"CommandDebug":      {},
	"CommandDifficulty": {DedicatedOnly: true, StartupOnly: true},
	"CommandEffectUI":   {Mode: ModeRequirePlaying},
	"CommandExperience": {Mode: ModeRequirePlaying | ModeRequireCheatsEnabled},
	"CommandFilter":     {DedicatedOnly: true, StartupOnly: true},
	"CommandGameMode":   {DedicatedOnly: true, StartupOnly: true},
	"CommandGive":       {Mode: ModeRequirePlaying | ModeRequireCheatsEnabled},
	"CommandGold":       {DedicatedOnly: true, StartupOnly: true},
	"CommandHelp":       {},
	"CommandKick":       {},
	"CommandKill":       {Mode: ModeRequirePlaying},
	"CommandLog":        {DedicatedOnly: true, StartupOnly: true},
	"CommandMap":        {DedicatedOnly: true, StartupOnly: true},
	"CommandMaxPlayers": {DedicatedOnly: true, StartupOnly: true},
	"CommandMode":       {DedicatedOnly: true, StartupOnly: true},
	"CommandModules":    {TerminalOnly: true},
	"CommandName":       {DedicatedOnly: true, StartupOnly: true},
	"CommandNight":      {},
	"CommandOwner":      {DedicatedOnly: true, StartupOnly: true},
	"CommandPassword":   {DedicatedOnly: true, StartupOnly: true},
	"CommandPermit":     {},
	"CommandPlayers":    {},
	"CommandPort":       {DedicatedOnly: true, StartupOnly: true},
	"CommandPvE":        {DedicatedOnly: true, StartupOnly: true},
	"CommandQueue":      {DedicatedOnly: true, StartupOnly: true},
	"CommandReputation": {Mode: ModeRequirePlaying | ModeRequireCheatsEnabled},
	"CommandSave":       {},
	"CommandShutdown":   {TerminalOnly: true},
	"CommandSlay":       {Mode: ModeRequirePlaying},
	"CommandSpy":        {Mode: ModeRequirePlaying},
	"CommandStorm":      {},
	"CommandSync":       {DedicatedOnly: true, StartupOnly: true},
	"CommandTeleport":   {Mode: ModeRequirePlaying},
	"CommandTime":       {},
	"CommandTimeout":    {DedicatedOnly: true, StartupOnly: true},
	"CommandUnadmin":    {},
	"CommandUnban":      {},
	"CommandUnpermit":   {},
	"CommandVehicle":    {Mode: ModeRequirePlaying | ModeRequireCheatsEnabled},
	"CommandWeather":    {},
	"CommandWelcome":    {DedicatedOnly: true, StartupOnly: true},
}

var unknownVanilla sync.Map // type name -> struct{}

// LookupVanilla returns the table entry for a host command type. Unknown
// types are logged once and run without restrictions.
func LookupVanilla(typeName string) (VanillaInfo, bool) {
	info, ok := vanillaTable[typeName]
	if !ok {
		if _, logged := unknownVanilla.LoadOrStore(typeName, struct{}{}); !logged {
			slog.Warn("unknown vanilla command type", "type", typeName)
		}
	}
	return info, ok
}

// VanillaPermission returns the permission leaf synthesized for a host
// command, core::commands.<name>.
func VanillaPermission(name string) permission.Branch {
	return permission.NewBranch(permission.ScopeCore, "commands."+strings.ToLower(name))
}

// VanillaCommand adapts a HostCommand to Command.
type VanillaCommand struct {
	host  HostCommand
	info  Info
	rules VanillaInfo
	known bool
}

// NewVanillaCommand wraps host. Vanilla commands sort below every other
// command with the same name.
func NewVanillaCommand(host HostCommand) *VanillaCommand {
	rules, known := LookupVanilla(host.TypeName())
	name := strings.ToLower(host.Command())
	return &VanillaCommand{
		host:  host,
		rules: rules,
		known: known,
		info: Info{
			Name:        name,
			Permissions: []permission.Branch{VanillaPermission(name)},
			Priority:    -1,
			Mode:        rules.Mode,
			Usage:       "/" + name,
		},
	}
}

// Host returns the wrapped host command.
func (v *VanillaCommand) Host() HostCommand {
	return v.host
}

// Rules returns the table entry the command runs under.
func (v *VanillaCommand) Rules() VanillaInfo {
	return v.rules
}

// Known reports whether the host type was found in the vanilla table.
func (v *VanillaCommand) Known() bool {
	return v.known
}

// Describe implements Command.
func (v *VanillaCommand) Describe() Info {
	return v.info
}

// Execute implements Command.
func (v *VanillaCommand) Execute(ctx context.Context, c *Context) error {
	return v.host.Execute(ctx, c.Caller.ID, strings.Join(c.Args, " "))
}

// Equivalent implements Equivalent: one adapter per host type.
func (v *VanillaCommand) Equivalent(other Command) bool {
	o, ok := other.(*VanillaCommand)
	return ok && o.host.TypeName() == v.host.TypeName()
}

// CheckPermission implements PermissionChecker.
func (v *VanillaCommand) CheckPermission(ctx context.Context, checker access.Checker, caller Caller, state core.State) bool {
	return v.CheckVanillaPermissions(ctx, checker, caller, state)
}

// CheckVanillaPermissions applies the terminal, dedicated server and startup
// restrictions before the permission leaf check. The restrictions apply to
// the console too.
func (v *VanillaCommand) CheckVanillaPermissions(ctx context.Context, checker access.Checker, caller Caller, state core.State) bool {
	if v.rules.TerminalOnly && !caller.IsConsole() {
		return false
	}
	if v.rules.DedicatedOnly && !state.Dedicated {
		return false
	}
	if v.rules.StartupOnly && !state.Startup {
		return false
	}
	if caller.IsConsole() {
		return true
	}
	return checker.HasPermission(ctx, caller.ID, v.info.Permissions[0])
}
