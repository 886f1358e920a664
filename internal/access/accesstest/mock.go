// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

// Package accesstest provides test doubles for the access package.
package accesstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/permission"
)

// AllowAll is a Checker that allows everything.
type AllowAll struct{}

// HasPermission always returns true.
func (AllowAll) HasPermission(context.Context, uint64, permission.Branch) bool {
	return true
}

// DenyAll is a Checker that denies everything except console contexts.
type DenyAll struct{}

// HasPermission returns true only for console contexts.
func (DenyAll) HasPermission(ctx context.Context, _ uint64, _ permission.Branch) bool {
	return access.IsConsole(ctx)
}

// MockChecker is a Checker with selective grants. Wildcard grants work the
// same way they do on the server.
type MockChecker struct {
	mu     sync.Mutex
	grants map[uint64][]permission.Branch
}

// NewMockChecker creates a checker with no grants.
func NewMockChecker() *MockChecker {
	return &MockChecker{grants: make(map[uint64][]permission.Branch)}
}

// Grant gives userID each of the branches, in text form.
func (m *MockChecker) Grant(userID uint64, branches ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range branches {
		m.grants[userID] = append(m.grants[userID], permission.MustParseBranch(s))
	}
}

// HasPermission implements access.Checker.
func (m *MockChecker) HasPermission(ctx context.Context, userID uint64, leaf permission.Branch) bool {
	if access.IsConsole(ctx) {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return permission.AnyGrants(m.grants[userID], leaf)
}

// RecordingReplicator records every send as a short text line.
type RecordingReplicator struct {
	mu    sync.Mutex
	calls []string
}

func (r *RecordingReplicator) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded sends in order.
func (r *RecordingReplicator) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// SendPermissionState implements access.Replicator.
func (r *RecordingReplicator) SendPermissionState(_ context.Context, userID uint64, b permission.Branch, granted bool) {
	r.record("permission %d %s %t", userID, b.String(), granted)
}

// SendPermissionGroupState implements access.Replicator.
func (r *RecordingReplicator) SendPermissionGroupState(_ context.Context, userID uint64, groupID string, granted bool) {
	r.record("group %d %s %t", userID, groupID, granted)
}

// SendClearPermissions implements access.Replicator.
func (r *RecordingReplicator) SendClearPermissions(_ context.Context, userID uint64) {
	r.record("clear permissions %d", userID)
}

// SendClearPermissionGroups implements access.Replicator.
func (r *RecordingReplicator) SendClearPermissionGroups(_ context.Context, userID uint64) {
	r.record("clear groups %d", userID)
}

// SendGroupRegistered implements access.Replicator.
func (r *RecordingReplicator) SendGroupRegistered(_ context.Context, g *permission.Group) {
	r.record("registered %s", g.ID())
}

// SendGroupUpdated implements access.Replicator.
func (r *RecordingReplicator) SendGroupUpdated(_ context.Context, g *permission.Group) {
	r.record("updated %s %d", g.ID(), g.Priority())
}

// SendGroupDeregistered implements access.Replicator.
func (r *RecordingReplicator) SendGroupDeregistered(_ context.Context, groupID string) {
	r.record("deregistered %s", groupID)
}

// Verify interfaces are satisfied.
var (
	_ access.Checker    = AllowAll{}
	_ access.Checker    = DenyAll{}
	_ access.Checker    = (*MockChecker)(nil)
	_ access.Replicator = (*RecordingReplicator)(nil)
)
