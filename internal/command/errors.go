// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import (
	"github.com/samber/oops"
)

// Error codes for command registration and dispatch failures.
const (
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeInvalidName      = "INVALID_NAME"
	CodeDuplicateCommand = "DUPLICATE_COMMAND"
	CodeMissingDefaults  = "MISSING_TRANSLATIONS"
	CodeRateLimited      = "RATE_LIMITED"
	CodeCommandPanic     = "COMMAND_PANIC"
	CodeEmptyInput       = "EMPTY_INPUT"
)

// ErrPermissionDenied creates an error for permission denial.
func ErrPermissionDenied(cmd string) error {
	return oops.In("command").Code(CodePermissionDenied).
		With("command", cmd).
		Errorf("permission denied for command %s", cmd)
}

// ErrDuplicateCommand creates an error for a registration that collides with
// an existing command.
func ErrDuplicateCommand(cmd, existing string) error {
	return oops.In("command").Code(CodeDuplicateCommand).
		With("command", cmd).
		With("existing", existing).
		Errorf("command %s collides with registered command %s", cmd, existing)
}

// ErrRateLimited creates an error for rate limiting.
func ErrRateLimited(cooldownMs int64) error {
	return oops.In("command").Code(CodeRateLimited).
		With("cooldown_ms", cooldownMs).
		Errorf("too many commands")
}

// Construction errors for the dispatcher.
var (
	ErrNilRegistry = oops.In("command").Code("NIL_REGISTRY").Errorf("command registry is required")
	ErrNilChecker  = oops.In("command").Code("NIL_CHECKER").Errorf("permission checker is required")
)
