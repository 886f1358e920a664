// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import (
	"strings"

	"github.com/devkitserver/devkitserver/internal/core"
)

// ExecutionMode restricts when a command may run.
type ExecutionMode uint16

// Execution mode flags.
const (
	ModeDisabled ExecutionMode = 1 << iota
	ModeRequirePlaying
	ModeRequireEditing
	ModeRequireMultiplayer
	ModeRequireSingleplayer
	ModeRequireMenu
	ModeRequireCheatsEnabled
	ModePlayerControlModeOnly

	// ModeAny places no restriction on the command.
	ModeAny ExecutionMode = 0
)

// Translation keys for execution mode violations.
const (
	KeyCommandDisabled           = "CommandDisabled"
	KeyCommandMustBePlayer       = "CommandMustBePlayer"
	KeyCommandMustBeEditor       = "CommandMustBeEditor"
	KeyCommandMustBeMultiplayer  = "CommandMustBeMultiplayer"
	KeyCommandMustBeSingleplayer = "CommandMustBeSingleplayer"
	KeyCommandMustBeMenu         = "CommandMustBeMenu"
	KeyCommandRequiresCheats     = "CommandRequiresCheats"
	KeyCommandMustBeEditorPlayer = "CommandMustBeEditorPlayer"
)

// modeGates is evaluated in order; the first failing gate is reported.
var modeGates = []struct {
	flag  ExecutionMode
	name  string
	key   string
	allow func(core.State) bool
}{
	{ModeDisabled, "disabled", KeyCommandDisabled, func(core.State) bool { return false }},
	{ModeRequirePlaying, "playing", KeyCommandMustBePlayer, func(s core.State) bool { return s.Mode == core.ModePlayer }},
	{ModeRequireEditing, "editing", KeyCommandMustBeEditor, func(s core.State) bool { return s.Mode == core.ModeEditor }},
	{ModeRequireMultiplayer, "multiplayer", KeyCommandMustBeMultiplayer, func(s core.State) bool { return s.Multiplayer }},
	{ModeRequireSingleplayer, "singleplayer", KeyCommandMustBeSingleplayer, func(s core.State) bool { return !s.Multiplayer }},
	{ModeRequireMenu, "menu", KeyCommandMustBeMenu, func(s core.State) bool { return s.Mode == core.ModeMenu }},
	{ModeRequireCheatsEnabled, "cheats", KeyCommandRequiresCheats, func(s core.State) bool { return s.Cheats }},
	{ModePlayerControlModeOnly, "player_control", KeyCommandMustBeEditorPlayer, func(s core.State) bool { return s.PlayerControlled }},
}

// Has reports whether every flag in f is set.
func (m ExecutionMode) Has(f ExecutionMode) bool {
	return m&f == f
}

// Check reports whether a command with this mode may run in s. When it may
// not, the translation key of the first violated flag is returned.
func (m ExecutionMode) Check(s core.State) (key string, ok bool) {
	for _, g := range modeGates {
		if m&g.flag != 0 && !g.allow(s) {
			return g.key, false
		}
	}
	return "", true
}

func (m ExecutionMode) String() string {
	if m == ModeAny {
		return "any"
	}
	var names []string
	for _, g := range modeGates {
		if m&g.flag != 0 {
			names = append(names, g.name)
		}
	}
	return strings.Join(names, "|")
}
