// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

// Package access is the permission authorization engine.
//
// The Server owns the truth for every permission group and every user's
// grants. It persists through the per-user store, raises change events and
// pushes deltas to connected clients through a Replicator. A Mirror is the
// client side: it caches the local user's grants and groups and is fed only by
// replicated messages.
//
// Every mutation on either side is serialized by one semaphore per instance.
// Callers never hold it; it is taken and released inside each method, and no
// method calls back into another while holding it.
package access

import (
	"context"

	"github.com/devkitserver/devkitserver/internal/permission"
)

// Checker answers permission queries for the command dispatcher.
type Checker interface {
	// HasPermission reports whether userID holds leaf, directly or through a
	// group. Console contexts always pass.
	HasPermission(ctx context.Context, userID uint64, leaf permission.Branch) bool
}

// Replicator pushes authoritative changes to connected clients. Sends are
// one-way; delivery failures are the transport's concern.
type Replicator interface {
	SendPermissionState(ctx context.Context, userID uint64, branch permission.Branch, granted bool)
	SendPermissionGroupState(ctx context.Context, userID uint64, groupID string, granted bool)
	SendClearPermissions(ctx context.Context, userID uint64)
	SendClearPermissionGroups(ctx context.Context, userID uint64)
	SendGroupRegistered(ctx context.Context, group *permission.Group)
	SendGroupUpdated(ctx context.Context, group *permission.Group)
	SendGroupDeregistered(ctx context.Context, groupID string)
}

// NopReplicator discards everything. Used when no transport is running.
type NopReplicator struct{}

// SendPermissionState implements Replicator.
func (NopReplicator) SendPermissionState(context.Context, uint64, permission.Branch, bool) {}

// SendPermissionGroupState implements Replicator.
func (NopReplicator) SendPermissionGroupState(context.Context, uint64, string, bool) {}

// SendClearPermissions implements Replicator.
func (NopReplicator) SendClearPermissions(context.Context, uint64) {}

// SendClearPermissionGroups implements Replicator.
func (NopReplicator) SendClearPermissionGroups(context.Context, uint64) {}

// SendGroupRegistered implements Replicator.
func (NopReplicator) SendGroupRegistered(context.Context, *permission.Group) {}

// SendGroupUpdated implements Replicator.
func (NopReplicator) SendGroupUpdated(context.Context, *permission.Group) {}

// SendGroupDeregistered implements Replicator.
func (NopReplicator) SendGroupDeregistered(context.Context, string) {}

// Snapshot is the full state a client receives when it connects.
type Snapshot struct {
	UserID      uint64
	Groups      []*permission.Group
	Permissions []permission.Branch
	GroupIDs    []string
}

var (
	_ Checker    = (*Server)(nil)
	_ Checker    = (*Mirror)(nil)
	_ Replicator = NopReplicator{}
)
