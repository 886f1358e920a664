// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import (
	"regexp"
	"strings"

	"github.com/samber/oops"
)

const (
	// MaxNameLength is the maximum length for command and alias names.
	MaxNameLength = 32
)

// namePattern validates command/alias names: must start with a letter,
// followed by letters, digits, or _!?@#$%^+-
var namePattern = regexp.MustCompile(`^\pL[\pL\pN_!?@#$%^+\-]{0,31}$`)

// ValidateCommandName validates a command name.
func ValidateCommandName(name string) error {
	return validateName(name, "command")
}

// ValidateAliasName validates an alias name.
func ValidateAliasName(name string) error {
	return validateName(name, "alias")
}

func validateName(name, kind string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return oops.In("command").Code(CodeInvalidName).
			With("kind", kind).
			Errorf("%s name cannot be empty", kind)
	}

	if n := len([]rune(trimmed)); n > MaxNameLength {
		return oops.In("command").Code(CodeInvalidName).
			With("kind", kind).
			With("length", n).
			With("max", MaxNameLength).
			Errorf("%s name exceeds maximum length of %d", kind, MaxNameLength)
	}

	if !namePattern.MatchString(trimmed) {
		return oops.In("command").Code(CodeInvalidName).
			With("kind", kind).
			With("name", trimmed).
			Errorf("%s name must start with a letter and contain only letters, digits, or _!?@#$%%^+-", kind)
	}

	return nil
}
