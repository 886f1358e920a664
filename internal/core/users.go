// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package core

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/devkitserver/devkitserver/internal/permission"
)

// User is a connected player. Its cached permission state is the
// authoritative copy while the user is online.
type User struct {
	ID          uint64
	Name        string
	ConnectedAt time.Time

	mu          sync.Mutex
	permissions []permission.Branch
	groups      []*permission.Group
	permsLoaded bool
	groupLoaded bool
}

// Permissions returns a copy of the cached direct grants, and whether the
// cache has been filled.
func (u *User) Permissions() ([]permission.Branch, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.permsLoaded {
		return nil, false
	}
	out := make([]permission.Branch, len(u.permissions))
	copy(out, u.permissions)
	return out, true
}

// SetPermissions replaces the cached direct grants.
func (u *User) SetPermissions(list []permission.Branch) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.permissions = append(u.permissions[:0:0], list...)
	u.permsLoaded = true
}

// Groups returns a copy of the cached group memberships, highest priority
// first, and whether the cache has been filled.
func (u *User) Groups() ([]*permission.Group, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.groupLoaded {
		return nil, false
	}
	out := make([]*permission.Group, len(u.groups))
	copy(out, u.groups)
	return out, true
}

// SetGroups replaces the cached group memberships.
func (u *User) SetGroups(groups []*permission.Group) {
	sorted := append([]*permission.Group(nil), groups...)
	permission.SortGroups(sorted)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.groups = sorted
	u.groupLoaded = true
}

// ResortGroups restores priority order after a group's priority changed.
func (u *User) ResortGroups() {
	u.mu.Lock()
	defer u.mu.Unlock()
	permission.SortGroups(u.groups)
}

// Users is the directory of online users.
type Users struct {
	mu    sync.RWMutex
	users map[uint64]*User
}

// NewUsers creates an empty directory.
func NewUsers() *Users {
	return &Users{users: make(map[uint64]*User)}
}

// Connect adds a user, or returns the existing entry for a reconnect.
func (d *Users) Connect(id uint64, name string) *User {
	d.mu.Lock()
	defer d.mu.Unlock()

	if u, ok := d.users[id]; ok {
		return u
	}
	u := &User{ID: id, Name: name, ConnectedAt: time.Now()}
	d.users[id] = u
	return u
}

// Disconnect removes a user. Their cached state is discarded; the store is
// the source of truth for offline users.
func (d *Users) Disconnect(id uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[id]; !ok {
		return oops.In("core").
			Code("USER_NOT_FOUND").
			With("user_id", id).
			Errorf("user %d is not online", id)
	}
	delete(d.users, id)
	slog.Debug("user disconnected", "user_id", id)
	return nil
}

// Get returns the online user with id.
func (d *Users) Get(id uint64) (*User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return u, ok
}

// FindByName returns the first online user whose name matches, ignoring case.
func (d *Users) FindByName(name string) (*User, bool) {
	for _, u := range d.All() {
		if strings.EqualFold(u.Name, name) {
			return u, true
		}
	}
	return nil, false
}

// All returns the online users ordered by id.
func (d *Users) All() []*User {
	d.mu.RLock()
	out := make([]*User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
