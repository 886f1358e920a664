// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

// Package store persists each user's direct permission grants and group
// memberships in a versioned binary format.
package store

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/devkitserver/devkitserver/internal/permission"
)

// SaveFailurePolicy decides what happens when a save still fails after all
// retries.
type SaveFailurePolicy string

// Save failure policies.
const (
	// SaveFailurePropagate returns the error so the caller can block the change.
	SaveFailurePropagate SaveFailurePolicy = "propagate"
	// SaveFailureLog logs the error and reports success. In-memory state is
	// authoritative until the next successful save.
	SaveFailureLog SaveFailurePolicy = "log"
)

// Valid reports whether p is a known policy.
func (p SaveFailurePolicy) Valid() bool {
	return p == SaveFailurePropagate || p == SaveFailureLog
}

// Options configures a Store.
type Options struct {
	// DefaultPermissions are written for a user who has no permissions file.
	DefaultPermissions []permission.Branch
	// DefaultGroups are the group ids written for a user who has no groups file.
	DefaultGroups []string
	SaveFailure   SaveFailurePolicy
	// SaveRetries is the number of extra attempts after a failed save.
	SaveRetries uint64
	RetryDelay  time.Duration
}

// Store reads and writes per-user permission state. Every operation is
// serialized by one lock shared across all users.
type Store struct {
	mu      sync.Mutex
	backend Backend
	groups  GroupResolver
	opts    Options
}

// New creates a store. groups resolves membership ids at load time.
func New(backend Backend, groups GroupResolver, opts Options) *Store {
	if !opts.SaveFailure.Valid() {
		opts.SaveFailure = SaveFailurePropagate
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 50 * time.Millisecond
	}
	return &Store{backend: backend, groups: groups, opts: opts}
}

// Policy returns the configured save failure policy.
func (s *Store) Policy() SaveFailurePolicy {
	return s.opts.SaveFailure
}

// LoadPermissions returns the user's direct grants. A user with no file gets
// the configured defaults, which are saved immediately.
func (s *Store) LoadPermissions(ctx context.Context, userID uint64) ([]permission.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, found, err := s.backend.Load(userID, KindPermissions)
	if err != nil {
		return nil, err
	}
	if found {
		branches, _ := DecodePermissions(bytes.NewReader(data), userID)
		return branches, nil
	}

	defaults := make([]permission.Branch, 0, len(s.opts.DefaultPermissions))
	for _, b := range s.opts.DefaultPermissions {
		if b.Valid() && !permission.ContainsBranch(defaults, b) {
			defaults = append(defaults, b)
		}
	}
	slog.Debug("creating default permissions file", "user_id", userID, "count", len(defaults))
	if err := s.savePermissionsLocked(ctx, userID, defaults); err != nil {
		return nil, err
	}
	return defaults, nil
}

// LoadGroups returns the user's group memberships resolved against the live
// registry. A user with no file gets the configured default groups.
func (s *Store) LoadGroups(ctx context.Context, userID uint64) ([]*permission.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, found, err := s.backend.Load(userID, KindGroups)
	if err != nil {
		return nil, err
	}
	if found {
		groups, _ := DecodeGroups(bytes.NewReader(data), userID, s.groups)
		return groups, nil
	}

	defaults := make([]*permission.Group, 0, len(s.opts.DefaultGroups))
	for _, id := range s.opts.DefaultGroups {
		if id == "" || containsGroupID(defaults, id) {
			continue
		}
		if g, ok := s.groups.Get(id); ok {
			defaults = append(defaults, g)
			continue
		}
		slog.Warn("default permission group is not registered, keeping placeholder",
			"user_id", userID,
			"group", id)
		defaults = append(defaults, permission.NewPlaceholderGroup(id))
	}
	slog.Debug("creating default permission groups file", "user_id", userID, "count", len(defaults))
	if err := s.saveGroupsLocked(ctx, userID, defaults); err != nil {
		return nil, err
	}
	return defaults, nil
}

// SavePermissions writes the user's direct grants in the current format.
func (s *Store) SavePermissions(ctx context.Context, userID uint64, branches []permission.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savePermissionsLocked(ctx, userID, branches)
}

// SaveGroups writes the user's group memberships in the current format.
func (s *Store) SaveGroups(ctx context.Context, userID uint64, groups []*permission.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveGroupsLocked(ctx, userID, groups)
}

// RemoveGroupEverywhere drops a group id from every stored membership file.
// It returns the ids of the users whose files changed.
func (s *Store) RemoveGroupEverywhere(ctx context.Context, groupID string) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.backend.Users(KindGroups)
	if err != nil {
		return nil, err
	}
	var changed []uint64
	for _, userID := range users {
		data, found, err := s.backend.Load(userID, KindGroups)
		if err != nil || !found {
			if err != nil {
				slog.Warn("skipping unreadable permission group file", "user_id", userID, "error", err)
			}
			continue
		}
		groups, _ := DecodeGroups(bytes.NewReader(data), userID, s.groups)
		kept := groups[:0]
		for _, g := range groups {
			if !g.Is(groupID) {
				kept = append(kept, g)
			}
		}
		if len(kept) == len(groups) {
			continue
		}
		if err := s.saveGroupsLocked(ctx, userID, kept); err != nil {
			return changed, err
		}
		changed = append(changed, userID)
	}
	return changed, nil
}

func (s *Store) savePermissionsLocked(ctx context.Context, userID uint64, branches []permission.Branch) error {
	var buf bytes.Buffer
	if err := EncodePermissions(&buf, branches); err != nil {
		return oops.In("store").With("user_id", userID).Wrapf(err, "encode permissions")
	}
	return s.write(ctx, userID, KindPermissions, buf.Bytes())
}

func (s *Store) saveGroupsLocked(ctx context.Context, userID uint64, groups []*permission.Group) error {
	var buf bytes.Buffer
	if err := EncodeGroups(&buf, groups); err != nil {
		return oops.In("store").With("user_id", userID).Wrapf(err, "encode permission groups")
	}
	return s.write(ctx, userID, KindGroups, buf.Bytes())
}

func (s *Store) write(ctx context.Context, userID uint64, kind Kind, data []byte) error {
	backoff := retry.WithMaxRetries(s.opts.SaveRetries, retry.NewConstant(s.opts.RetryDelay))
	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		if err := s.backend.Save(userID, kind, data); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if s.opts.SaveFailure == SaveFailureLog {
		slog.Error("failed to save permission state, keeping in-memory state",
			"user_id", userID,
			"kind", string(kind),
			"error", err)
		return nil
	}
	return oops.In("store").
		Code("SAVE_FAILED").
		With("user_id", userID).
		With("kind", string(kind)).
		Wrap(err)
}

// Close closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}
