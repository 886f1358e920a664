// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package store

import (
	"io"
	"log/slog"

	"github.com/devkitserver/devkitserver/internal/permission"
)

// Format versions of the per-user files. Version 0 stored permissions as raw
// strings; version 1 stores structured branches.
const (
	VersionLegacy  uint16 = 0
	CurrentVersion uint16 = 1
)

// GroupResolver resolves group ids against the live registry.
type GroupResolver interface {
	Get(id string) (*permission.Group, bool)
}

// EncodePermissions writes branches in the current format:
// version | count | count × branch. Invalid branches are not written.
func EncodePermissions(w io.Writer, branches []permission.Branch) error {
	valid := make([]permission.Branch, 0, len(branches))
	for _, b := range branches {
		if b.Valid() {
			valid = append(valid, b)
		}
	}
	pw := permission.NewWriter(w)
	pw.WriteUint16(CurrentVersion)
	pw.WriteInt32(int32(len(valid)))
	for _, b := range valid {
		pw.WriteBranch(b)
	}
	return pw.Err()
}

// DecodePermissions reads a permissions file of any version. A stream that
// fails part way yields the entries decoded before the failure; entries that
// do not parse are skipped. It returns the on-disk version.
func DecodePermissions(r io.Reader, userID uint64) ([]permission.Branch, uint16) {
	pr := permission.NewReader(r)
	version := pr.ReadUint16()
	count := int(pr.ReadInt32())
	if pr.HasFailed() || count < 0 {
		slog.Debug("permission file header unreadable", "user_id", userID, "error", pr.Err())
		return []permission.Branch{}, version
	}
	if version > CurrentVersion {
		slog.Debug("permission file is newer than this build, reading best effort",
			"user_id", userID,
			"version", version,
			"current_version", CurrentVersion)
	}

	out := make([]permission.Branch, 0, min(count, 256))
	for i := 0; i < count; i++ {
		var (
			b  permission.Branch
			ok bool
		)
		if version == VersionLegacy {
			raw := pr.ReadString()
			if !pr.HasFailed() {
				b, ok = permission.ParseBranch(raw)
				if !ok {
					slog.Debug("skipping unparseable legacy permission", "user_id", userID, "permission", raw)
				}
			}
		} else {
			b, ok = pr.ReadBranch()
			if !ok && !pr.HasFailed() {
				slog.Debug("skipping invalid permission", "user_id", userID, "permission", b.String())
			}
		}
		if pr.HasFailed() {
			slog.Debug("permission file truncated",
				"user_id", userID,
				"read", len(out),
				"expected", count,
				"error", pr.Err())
			break
		}
		if ok && !permission.ContainsBranch(out, b) {
			out = append(out, b)
		}
	}
	return out, version
}

// EncodeLegacyPermissions writes the version 0 layout. Only used to build
// fixtures for migration tests and by tooling that must produce old files.
func EncodeLegacyPermissions(w io.Writer, raw []string) error {
	pw := permission.NewWriter(w)
	pw.WriteUint16(VersionLegacy)
	pw.WriteInt32(int32(len(raw)))
	for _, s := range raw {
		pw.WriteString(s)
	}
	return pw.Err()
}

// EncodeGroups writes group memberships: version | count | count ×
// (isTemporary | groupID). Placeholder groups are written as temporary.
func EncodeGroups(w io.Writer, groups []*permission.Group) error {
	pw := permission.NewWriter(w)
	pw.WriteUint16(CurrentVersion)
	pw.WriteInt32(int32(len(groups)))
	for _, g := range groups {
		pw.WriteBool(g.IsPlaceholder())
		pw.WriteString(g.ID())
	}
	return pw.Err()
}

// DecodeGroups reads group memberships and resolves them. Ids that do not
// resolve become placeholder groups so nothing is lost on the next save; a
// warning is logged once per id unless the entry was already temporary.
func DecodeGroups(r io.Reader, userID uint64, resolver GroupResolver) ([]*permission.Group, uint16) {
	pr := permission.NewReader(r)
	version := pr.ReadUint16()
	count := int(pr.ReadInt32())
	if pr.HasFailed() || count < 0 {
		slog.Debug("permission group file header unreadable", "user_id", userID, "error", pr.Err())
		return []*permission.Group{}, version
	}

	out := make([]*permission.Group, 0, min(count, 64))
	warned := make(map[string]struct{})
	for i := 0; i < count; i++ {
		temporary := pr.ReadBool()
		id := pr.ReadString()
		if pr.HasFailed() {
			slog.Debug("permission group file truncated",
				"user_id", userID,
				"read", len(out),
				"expected", count,
				"error", pr.Err())
			break
		}
		if id == "" || containsGroupID(out, id) {
			continue
		}
		if g, ok := resolver.Get(id); ok {
			out = append(out, g)
			continue
		}
		if _, seen := warned[id]; !seen && !temporary {
			warned[id] = struct{}{}
			slog.Warn("user references unknown permission group, keeping placeholder",
				"user_id", userID,
				"group", id)
		}
		out = append(out, permission.NewPlaceholderGroup(id))
	}
	return out, version
}

func containsGroupID(groups []*permission.Group, id string) bool {
	for _, g := range groups {
		if g.Is(id) {
			return true
		}
	}
	return false
}
