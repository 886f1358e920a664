// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import (
	"strings"

	"github.com/buildkite/shellwords"
	"github.com/samber/oops"
)

// ChatPrefix marks chat text that should be treated as a command.
const ChatPrefix = "/"

// ParsedCommand represents a parsed command input.
type ParsedCommand struct {
	Name    string   // command name (first token)
	Args    []string // remaining tokens, quotes removed
	ArgLine string   // unparsed argument string (preserves internal whitespace)
	Raw     string   // original input
}

// Parse splits raw input into a command name and arguments. Arguments are
// tokenized with POSIX shell quoting, so "give \"iron sword\" 2" yields two
// arguments. Unbalanced quotes fall back to plain whitespace splitting.
func Parse(input string) (*ParsedCommand, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, oops.In("command").Code(CodeEmptyInput).Errorf("no command provided")
	}

	name, rest := trimmed, ""
	if i := strings.IndexAny(trimmed, " \t"); i >= 0 {
		name, rest = trimmed[:i], trimmed[i+1:]
	}
	rest = strings.TrimLeft(rest, " \t")

	args, err := shellwords.SplitPosix(rest)
	if err != nil {
		args = strings.Fields(rest)
	}

	return &ParsedCommand{
		Name:    name,
		Args:    args,
		ArgLine: rest,
		Raw:     input,
	}, nil
}

// ParseChat strips ChatPrefix from chat text. It returns false for chat that
// is not a command.
func ParseChat(text string) (*ParsedCommand, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, ChatPrefix) {
		return nil, false
	}
	parsed, err := Parse(strings.TrimPrefix(trimmed, ChatPrefix))
	if err != nil {
		return nil, false
	}
	return parsed, true
}
