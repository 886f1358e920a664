// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/devkitserver/devkitserver/internal/localization"
)

// Reply stops a command and sends Message to the caller. It is returned as
// an error so nested validation helpers can unwind in one statement:
//
//	if !ok {
//		return c.Reply("UnknownUser", name)
//	}
type Reply struct {
	Key     string
	Message string
}

func (r *Reply) Error() string {
	return r.Message
}

// Module translation keys used outside execution mode checks.
const (
	KeyNoPermission     = "NoPermission"
	KeyUnknownCommand   = "UnknownCommand"
	KeyCommandException = "CommandException"
	KeyCorrectUsage     = "CorrectUsage"
	KeyRateLimited      = "RateLimited"
)

// DefaultTranslations is the module-wide fallback translation table.
var DefaultTranslations = localization.Translations{
	KeyNoPermission:              "<color=#ff8c69>You do not have permission to use this command.</color>",
	KeyUnknownCommand:            "Unknown command: {0}. Try /help.",
	KeyCommandException:          "<color=#ff8c69>An exception occurred while executing this command.</color>",
	KeyCorrectUsage:              "Correct usage: {0}",
	KeyRateLimited:               "Too many commands. Wait {0} ms.",
	KeyCommandDisabled:           "This command is disabled.",
	KeyCommandMustBePlayer:       "This command can only be used while playing.",
	KeyCommandMustBeEditor:       "This command can only be used while editing.",
	KeyCommandMustBeMultiplayer:  "This command can only be used in multiplayer.",
	KeyCommandMustBeSingleplayer: "This command can only be used in singleplayer.",
	KeyCommandMustBeMenu:         "This command can only be used from the main menu.",
	KeyCommandRequiresCheats:     "This command requires cheats to be enabled.",
	KeyCommandMustBeEditorPlayer: "This command can only be used while controlling a player in the editor.",
}

// Output delivers replies to callers.
type Output interface {
	Send(ctx context.Context, to Caller, message string)
}

// OutputFunc adapts a function to Output.
type OutputFunc func(ctx context.Context, to Caller, message string)

// Send implements Output.
func (f OutputFunc) Send(ctx context.Context, to Caller, message string) {
	f(ctx, to, message)
}

// Router sends console replies to a terminal writer and everything else to
// Players. Rich text is stripped before it reaches the terminal.
type Router struct {
	mu      sync.Mutex
	Console io.Writer
	Players Output
}

// Send implements Output.
func (r *Router) Send(ctx context.Context, to Caller, message string) {
	if to.IsConsole() {
		if r.Console == nil {
			slog.InfoContext(ctx, localization.StripRichText(message))
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		_, _ = fmt.Fprintln(r.Console, localization.StripRichText(message))
		return
	}
	if r.Players == nil {
		slog.DebugContext(ctx, "dropping reply, no player output", "caller", to.String())
		return
	}
	r.Players.Send(ctx, to, message)
}
