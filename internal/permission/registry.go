// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package permission

import (
	"slices"
	"sync"
)

// GroupRegistry holds the known permission groups sorted by descending
// priority. Groups with equal priority keep insertion order.
type GroupRegistry struct {
	mu     sync.RWMutex
	groups []*Group
}

// NewGroupRegistry creates a registry holding the given groups.
// Groups whose id collides with an earlier one are skipped.
func NewGroupRegistry(groups ...*Group) *GroupRegistry {
	r := &GroupRegistry{}
	for _, g := range groups {
		r.Register(g)
	}
	return r
}

// Register adds g at its ordered position. It returns false without
// changing anything if a group with the same id is already registered.
func (r *GroupRegistry) Register(g *Group) bool {
	if g == nil || g.ID() == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(g.ID()) >= 0 {
		return false
	}
	r.insertLocked(g)
	return true
}

// Deregister removes every group with the given id and reports whether
// anything was removed.
func (r *GroupRegistry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.groups)
	r.groups = slices.DeleteFunc(r.groups, func(g *Group) bool { return g.Is(id) })
	return len(r.groups) != before
}

// Get returns the registered group with the given id.
func (r *GroupRegistry) Get(id string) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.groups[i], true
	}
	return nil, false
}

// All returns the registered groups in priority order.
func (r *GroupRegistry) All() []*Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Group, len(r.groups))
	copy(out, r.groups)
	return out
}

// Len returns the number of registered groups.
func (r *GroupRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// Update copies other into the registered group with the same id and
// restores ordering if the priority changed. It returns the registered
// (updated) group, or false if no such group exists.
func (r *GroupRegistry) Update(other *Group) (*Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(other.ID())
	if i < 0 {
		return nil, false
	}
	g := r.groups[i]
	if g.UpdateFrom(other) {
		r.repositionLocked(i)
	}
	return g, true
}

// Reposition restores the ordering invariant for g after its priority was
// changed outside Update. It reports whether g is registered.
func (r *GroupRegistry) Reposition(g *Group) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.groups, g)
	if i < 0 {
		return false
	}
	r.repositionLocked(i)
	return true
}

func (r *GroupRegistry) repositionLocked(i int) {
	g := r.groups[i]
	r.groups = slices.Delete(r.groups, i, i+1)
	r.insertLocked(g)
}

func (r *GroupRegistry) insertLocked(g *Group) {
	r.groups = InsertSorted(r.groups, g)
}

func (r *GroupRegistry) indexLocked(id string) int {
	for i, g := range r.groups {
		if g.Is(id) {
			return i
		}
	}
	return -1
}

// InsertSorted inserts g into a slice sorted by descending priority, before
// the first group with a lower priority, or at the end if there is none.
func InsertSorted(groups []*Group, g *Group) []*Group {
	p := g.Priority()
	for i, existing := range groups {
		if existing.Priority() < p {
			return slices.Insert(groups, i, g)
		}
	}
	return append(groups, g)
}

// SortGroups stably sorts groups by descending priority in place.
func SortGroups(groups []*Group) {
	slices.SortStableFunc(groups, func(a, b *Group) int {
		pa, pb := a.Priority(), b.Priority()
		switch {
		case pa > pb:
			return -1
		case pa < pb:
			return 1
		default:
			return 0
		}
	})
}
