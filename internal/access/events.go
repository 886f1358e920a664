// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package access

import (
	"log/slog"
	"sync"

	"github.com/devkitserver/devkitserver/internal/permission"
)

// PermissionUpdate is raised when a direct grant is added or removed.
type PermissionUpdate struct {
	UserID  uint64
	Branch  permission.Branch
	Granted bool
}

// GroupUpdate is raised when a group membership is added or removed.
type GroupUpdate struct {
	UserID  uint64
	Group   *permission.Group
	Granted bool
}

// RegistryChangeKind says what happened to a registered group.
type RegistryChangeKind int

// Registry change kinds.
const (
	GroupRegistered RegistryChangeKind = iota
	GroupChanged
	GroupDeregistered
)

func (k RegistryChangeKind) String() string {
	switch k {
	case GroupRegistered:
		return "registered"
	case GroupChanged:
		return "changed"
	default:
		return "deregistered"
	}
}

// RegistryChange is raised when the group registry changes.
type RegistryChange struct {
	Group *permission.Group
	Kind  RegistryChangeKind
}

// Events holds subscribers. Handlers run synchronously after the permission
// lock is released; a panicking handler is logged and skipped.
type Events struct {
	mu         sync.RWMutex
	permission []func(PermissionUpdate)
	group      []func(GroupUpdate)
	registry   []func(RegistryChange)
}

// OnPermissionUpdated subscribes to direct grant changes.
func (e *Events) OnPermissionUpdated(fn func(PermissionUpdate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.permission = append(e.permission, fn)
}

// OnGroupUpdated subscribes to group membership changes.
func (e *Events) OnGroupUpdated(fn func(GroupUpdate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.group = append(e.group, fn)
}

// OnRegistryChanged subscribes to group registration changes.
func (e *Events) OnRegistryChanged(fn func(RegistryChange)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry = append(e.registry, fn)
}

func (e *Events) firePermission(ev PermissionUpdate) {
	e.mu.RLock()
	handlers := e.permission
	e.mu.RUnlock()
	for _, fn := range handlers {
		safeCall("permission updated", func() { fn(ev) })
	}
}

func (e *Events) fireGroup(ev GroupUpdate) {
	e.mu.RLock()
	handlers := e.group
	e.mu.RUnlock()
	for _, fn := range handlers {
		safeCall("permission group updated", func() { fn(ev) })
	}
}

func (e *Events) fireRegistry(ev RegistryChange) {
	e.mu.RLock()
	handlers := e.registry
	e.mu.RUnlock()
	for _, fn := range handlers {
		safeCall("permission group registry changed", func() { fn(ev) })
	}
}

func safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	fn()
}
