// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package core

import "sync/atomic"

// Mode is what the local game is currently doing.
type Mode int

// Game modes.
const (
	ModeMenu Mode = iota
	ModeEditor
	ModePlayer
)

func (m Mode) String() string {
	switch m {
	case ModeEditor:
		return "editor"
	case ModePlayer:
		return "player"
	default:
		return "menu"
	}
}

// ParseMode parses the names returned by Mode.String.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "menu":
		return ModeMenu, true
	case "editor":
		return ModeEditor, true
	case "player":
		return ModePlayer, true
	}
	return ModeMenu, false
}

// State is a snapshot of the inputs to command execution gates.
type State struct {
	Mode        Mode
	Multiplayer bool
	Cheats      bool
	Dedicated   bool
	// PlayerControlled is set while an editor is piloting a player character.
	PlayerControlled bool
	// Startup is set while the startup command file is being executed.
	Startup bool
}

// GameState holds the current State. Reads and writes are atomic.
type GameState struct {
	state atomic.Pointer[State]
}

// NewGameState creates a game state starting at initial.
func NewGameState(initial State) *GameState {
	g := &GameState{}
	g.Set(initial)
	return g
}

// Load returns the current state.
func (g *GameState) Load() State {
	return *g.state.Load()
}

// Set replaces the current state.
func (g *GameState) Set(s State) {
	g.state.Store(&s)
}

// Update applies fn to a copy of the current state and stores the result.
func (g *GameState) Update(fn func(*State)) State {
	for {
		old := g.state.Load()
		next := *old
		fn(&next)
		if g.state.CompareAndSwap(old, &next) {
			return next
		}
	}
}
