// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package access

import "context"

type consoleKey struct{}

// WithConsole marks ctx as a console or server-initiated invocation, which
// bypasses permission checks.
func WithConsole(ctx context.Context) context.Context {
	return context.WithValue(ctx, consoleKey{}, true)
}

// IsConsole reports whether ctx was marked by WithConsole.
func IsConsole(ctx context.Context) bool {
	v, ok := ctx.Value(consoleKey{}).(bool)
	return ok && v
}
