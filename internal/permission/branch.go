// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

// Package permission provides the permission data model: branches (single
// dotted-path capabilities), groups (prioritized bundles of branches), the
// binary codec used for persistence and replication, and the priority-sorted
// group registry.
package permission

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// Scope names with special meaning in the text form of a branch.
const (
	ScopeDevkitServer = "devkitserver"
	ScopeCore         = "core"

	scopeSeparator = "::"
	superuser      = "*"
)

// Branch identifies a single permission leaf, or a wildcard pattern over
// leaves, such as "devkitserver::commands.ban" or "commands.*".
//
// Text form: [scope::]path. Scope "devkitserver" sets DevkitServer, scope
// "core" sets Core, any other scope names the plugin that defined the branch.
type Branch struct {
	Path         string
	Plugin       string
	DevkitServer bool
	Core         bool
	valid        bool
}

// NewBranch builds and validates a branch from a scope and a dotted path.
// The returned branch reports Valid() == false if validation failed.
func NewBranch(scope, path string) Branch {
	b := Branch{Path: strings.TrimSpace(path)}
	switch s := strings.TrimSpace(scope); {
	case strings.EqualFold(s, ScopeDevkitServer):
		b.DevkitServer = true
	case strings.EqualFold(s, ScopeCore):
		b.Core = true
	default:
		b.Plugin = s
	}
	b.valid = validScope(b.Plugin) && validPath(b.Path)
	return b
}

// ParseBranch parses the text form of a branch. On failure it returns false
// together with the partially constructed branch, so callers can log what
// was rejected.
func ParseBranch(s string) (Branch, bool) {
	s = strings.TrimSpace(s)
	scope, path, found := strings.Cut(s, scopeSeparator)
	if !found {
		path, scope = scope, ""
	} else if scope == "" {
		// "::path" has an explicit empty scope, which is malformed.
		b := NewBranch("", path)
		b.valid = false
		return b, false
	}
	b := NewBranch(scope, path)
	return b, b.valid
}

// MustParseBranch is like ParseBranch but panics on invalid input.
// Intended for hardcoded branches.
func MustParseBranch(s string) Branch {
	b, ok := ParseBranch(s)
	if !ok {
		panic("permission: invalid branch " + s)
	}
	return b
}

// Valid reports whether the branch passed validation when it was built.
func (b Branch) Valid() bool {
	return b.valid
}

// Scope returns the scope part of the text form, or "" for unscoped branches.
func (b Branch) Scope() string {
	switch {
	case b.DevkitServer:
		return ScopeDevkitServer
	case b.Core:
		return ScopeCore
	default:
		return b.Plugin
	}
}

// String renders the text form of the branch.
func (b Branch) String() string {
	if scope := b.Scope(); scope != "" {
		return scope + scopeSeparator + b.Path
	}
	return b.Path
}

// Key returns the normalized identity used for equality and hashing.
func (b Branch) Key() string {
	return strings.ToLower(b.String())
}

// Equal compares branches by normalized path, ignoring case.
func (b Branch) Equal(other Branch) bool {
	return b.Key() == other.Key()
}

// IsSuperuser reports whether the branch grants every leaf.
func (b Branch) IsSuperuser() bool {
	return b.Scope() == "" && b.Path == superuser
}

// IsWildcard reports whether the branch contains a wildcard segment.
func (b Branch) IsWildcard() bool {
	return strings.Contains(b.Path, "*")
}

// Grants reports whether holding b grants the leaf. Exact branches grant
// only an equal leaf; wildcard branches grant every leaf their pattern
// matches ("*" matches one segment, "**" any number of segments).
func (b Branch) Grants(leaf Branch) bool {
	if !b.valid {
		return false
	}
	if b.IsSuperuser() {
		return true
	}
	if !b.IsWildcard() {
		return b.Equal(leaf)
	}
	g, err := compiledPattern(b.Key())
	if err != nil {
		return false
	}
	return g.Match(leaf.Key())
}

var patternCache sync.Map // string -> glob.Glob

func compiledPattern(pattern string) (glob.Glob, error) {
	if g, ok := patternCache.Load(pattern); ok {
		return g.(glob.Glob), nil
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, g)
	return g, nil
}

func validScope(scope string) bool {
	if scope == "" {
		return true
	}
	for _, r := range scope {
		if !isSegmentRune(r) {
			return false
		}
	}
	return true
}

func validPath(path string) bool {
	if path == "" {
		return false
	}
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return false
		}
		if segment == "*" || segment == "**" {
			continue
		}
		for _, r := range segment {
			if !isSegmentRune(r) {
				return false
			}
		}
	}
	return true
}

func isSegmentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	default:
		return false
	}
}

// ContainsBranch reports whether list holds a branch equal to b.
func ContainsBranch(list []Branch, b Branch) bool {
	return IndexBranch(list, b) >= 0
}

// IndexBranch returns the index of the first branch in list equal to b, or -1.
func IndexBranch(list []Branch, b Branch) int {
	key := b.Key()
	for i := range list {
		if list[i].Key() == key {
			return i
		}
	}
	return -1
}

// AnyGrants reports whether any branch in list grants leaf.
func AnyGrants(list []Branch, leaf Branch) bool {
	for i := range list {
		if list[i].Grants(leaf) {
			return true
		}
	}
	return false
}
