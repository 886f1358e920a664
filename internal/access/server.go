// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package access

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/devkitserver/devkitserver/internal/core"
	"github.com/devkitserver/devkitserver/internal/permission"
	"github.com/devkitserver/devkitserver/internal/permission/store"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

var tracer = otel.Tracer("devkitserver/access")

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithReplicator sets the transport used to push changes to clients.
func WithReplicator(r Replicator) ServerOption {
	return func(s *Server) { s.SetReplicator(r) }
}

// WithGroupDefinitionsFile makes registry changes persist to path.
func WithGroupDefinitionsFile(path string) ServerOption {
	return func(s *Server) { s.groupsFile = path }
}

// Server is the authoritative permission engine.
type Server struct {
	Events

	sem        *semaphore.Weighted
	groups     *permission.GroupRegistry
	store      *store.Store
	users      *core.Users
	replicator atomic.Pointer[Replicator]
	groupsFile string
}

// NewServer creates the engine over the live group registry, the per-user
// store and the online user directory.
func NewServer(groups *permission.GroupRegistry, st *store.Store, users *core.Users, opts ...ServerOption) *Server {
	s := &Server{
		sem:    semaphore.NewWeighted(1),
		groups: groups,
		store:  st,
		users:  users,
	}
	s.SetReplicator(NopReplicator{})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetReplicator replaces the replication transport.
func (s *Server) SetReplicator(r Replicator) {
	if r == nil {
		r = NopReplicator{}
	}
	s.replicator.Store(&r)
}

func (s *Server) replicate() Replicator {
	return *s.replicator.Load()
}

// Groups returns the live group registry. Mutate it only through Register,
// Deregister and SavePermissionGroup.
func (s *Server) Groups() *permission.GroupRegistry {
	return s.groups
}

func (s *Server) lock(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return oops.In("access").Code("LOCK_CANCELLED").Wrap(err)
	}
	return nil
}

func (s *Server) unlock() {
	s.sem.Release(1)
}

func startSpan(ctx context.Context, name string, userID uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("user.id", formatUserID(userID)))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func formatUserID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// liveUser returns the online user, asserting the main thread when there is
// one. Offline users return nil.
func (s *Server) liveUser(ctx context.Context, userID uint64, operation string) (*core.User, error) {
	u, online := s.users.Get(userID)
	if !online {
		return nil, nil
	}
	if err := core.AssertMainThread(ctx, operation); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Server) permissionsLocked(ctx context.Context, userID uint64, force bool) ([]permission.Branch, error) {
	u, online := s.users.Get(userID)
	if online && !force {
		if list, ok := u.Permissions(); ok {
			return list, nil
		}
	}
	list, err := s.store.LoadPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if online {
		u.SetPermissions(list)
	}
	return list, nil
}

func (s *Server) groupsLocked(ctx context.Context, userID uint64, force bool) ([]*permission.Group, error) {
	u, online := s.users.Get(userID)
	if online && !force {
		if list, ok := u.Groups(); ok {
			return list, nil
		}
	}
	list, err := s.store.LoadGroups(ctx, userID)
	if err != nil {
		return nil, err
	}
	permission.SortGroups(list)
	if online {
		u.SetGroups(list)
	}
	return list, nil
}

// GetPermissions returns the user's direct grants. Online users are served
// from their cache unless force is set.
func (s *Server) GetPermissions(ctx context.Context, userID uint64, force bool) ([]permission.Branch, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()
	return s.permissionsLocked(ctx, userID, force)
}

// GetPermissionGroups returns the user's group memberships, highest priority
// first.
func (s *Server) GetPermissionGroups(ctx context.Context, userID uint64, force bool) ([]*permission.Group, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()
	return s.groupsLocked(ctx, userID, force)
}

// EffectivePermissions returns direct grants followed by the grants of each
// group in descending priority, without duplicates.
func (s *Server) EffectivePermissions(ctx context.Context, userID uint64) ([]permission.Branch, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	direct, err := s.permissionsLocked(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	groups, err := s.groupsLocked(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	out := append([]permission.Branch(nil), direct...)
	for _, g := range groups {
		for _, b := range g.Permissions() {
			if !permission.ContainsBranch(out, b) {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

// HasPermission implements Checker.
func (s *Server) HasPermission(ctx context.Context, userID uint64, leaf permission.Branch) bool {
	if IsConsole(ctx) {
		return true
	}
	granted := s.hasPermission(ctx, userID, leaf)
	recordCheck(granted)
	return granted
}

func (s *Server) hasPermission(ctx context.Context, userID uint64, leaf permission.Branch) bool {
	direct, err := s.GetPermissions(ctx, userID, false)
	if err != nil {
		errutil.LogWarn(slog.Default(), "permission check could not load grants", err, "user_id", userID)
		return false
	}
	if permission.AnyGrants(direct, leaf) {
		return true
	}
	groups, err := s.GetPermissionGroups(ctx, userID, false)
	if err != nil {
		errutil.LogWarn(slog.Default(), "permission check could not load groups", err, "user_id", userID)
		return false
	}
	for _, g := range groups {
		if g.Grants(leaf) {
			return true
		}
	}
	return false
}

// mutatePermissions runs fn on a copy of the user's grants under the lock.
// The new list is persisted before the live user sees it. It returns the list
// as it was before the change.
func (s *Server) mutatePermissions(
	ctx context.Context,
	userID uint64,
	operation string,
	fn func([]permission.Branch) ([]permission.Branch, bool),
) ([]permission.Branch, bool, error) {
	if err := s.lock(ctx); err != nil {
		return nil, false, err
	}
	defer s.unlock()

	u, err := s.liveUser(ctx, userID, operation)
	if err != nil {
		return nil, false, err
	}
	current, err := s.permissionsLocked(ctx, userID, false)
	if err != nil {
		return nil, false, err
	}
	next, changed := fn(append([]permission.Branch(nil), current...))
	if !changed {
		return current, false, nil
	}
	if err := s.store.SavePermissions(ctx, userID, next); err != nil {
		return nil, false, err
	}
	if u != nil {
		u.SetPermissions(next)
	}
	return current, true, nil
}

func (s *Server) mutateGroups(
	ctx context.Context,
	userID uint64,
	operation string,
	fn func([]*permission.Group) ([]*permission.Group, bool),
) ([]*permission.Group, bool, error) {
	if err := s.lock(ctx); err != nil {
		return nil, false, err
	}
	defer s.unlock()

	u, err := s.liveUser(ctx, userID, operation)
	if err != nil {
		return nil, false, err
	}
	current, err := s.groupsLocked(ctx, userID, false)
	if err != nil {
		return nil, false, err
	}
	next, changed := fn(append([]*permission.Group(nil), current...))
	if !changed {
		return current, false, nil
	}
	if err := s.store.SaveGroups(ctx, userID, next); err != nil {
		return nil, false, err
	}
	if u != nil {
		u.SetGroups(next)
	}
	return current, true, nil
}

func invalidBranch(b permission.Branch) error {
	return oops.In("access").
		Code("INVALID_PERMISSION").
		With("permission", b.String()).
		Errorf("invalid permission %q", b.String())
}

// AddPermission grants b directly to the user. It reports false if the user
// already had it.
func (s *Server) AddPermission(ctx context.Context, userID uint64, b permission.Branch) (added bool, err error) {
	ctx, span := startSpan(ctx, "permission.add", userID, attribute.String("permission", b.String()))
	defer func() { endSpan(span, err) }()

	if !b.Valid() {
		return false, invalidBranch(b)
	}
	_, changed, err := s.mutatePermissions(ctx, userID, "AddPermission", func(list []permission.Branch) ([]permission.Branch, bool) {
		if permission.ContainsBranch(list, b) {
			return list, false
		}
		return append(list, b), true
	})
	if err != nil || !changed {
		return false, err
	}

	recordChange("add_permission")
	slog.Info("permission granted", "user_id", userID, "permission", b.String())
	s.firePermission(PermissionUpdate{UserID: userID, Branch: b, Granted: true})
	s.replicate().SendPermissionState(ctx, userID, b, true)
	return true, nil
}

// RemovePermission revokes a direct grant. It reports false if the user did
// not have it.
func (s *Server) RemovePermission(ctx context.Context, userID uint64, b permission.Branch) (removed bool, err error) {
	ctx, span := startSpan(ctx, "permission.remove", userID, attribute.String("permission", b.String()))
	defer func() { endSpan(span, err) }()

	if !b.Valid() {
		return false, invalidBranch(b)
	}
	_, changed, err := s.mutatePermissions(ctx, userID, "RemovePermission", func(list []permission.Branch) ([]permission.Branch, bool) {
		i := permission.IndexBranch(list, b)
		if i < 0 {
			return list, false
		}
		return append(list[:i], list[i+1:]...), true
	})
	if err != nil || !changed {
		return false, err
	}

	recordChange("remove_permission")
	slog.Info("permission revoked", "user_id", userID, "permission", b.String())
	s.firePermission(PermissionUpdate{UserID: userID, Branch: b, Granted: false})
	s.replicate().SendPermissionState(ctx, userID, b, false)
	return true, nil
}

// ClearPermissions revokes every direct grant. An event is raised for each
// revoked branch.
func (s *Server) ClearPermissions(ctx context.Context, userID uint64) (cleared bool, err error) {
	ctx, span := startSpan(ctx, "permission.clear", userID)
	defer func() { endSpan(span, err) }()

	old, changed, err := s.mutatePermissions(ctx, userID, "ClearPermissions", func(list []permission.Branch) ([]permission.Branch, bool) {
		return []permission.Branch{}, len(list) > 0
	})
	if err != nil || !changed {
		return false, err
	}

	recordChange("clear_permissions")
	slog.Info("permissions cleared", "user_id", userID, "count", len(old))
	for _, b := range old {
		s.firePermission(PermissionUpdate{UserID: userID, Branch: b, Granted: false})
	}
	s.replicate().SendClearPermissions(ctx, userID)
	return true, nil
}

func (s *Server) groupNotFound(groupID string) error {
	return oops.In("access").
		Code("GROUP_NOT_FOUND").
		With("group", groupID).
		Errorf("permission group %q is not registered", groupID)
}

// AddPermissionGroup adds the user to a registered group. It reports false if
// the user was already a member.
func (s *Server) AddPermissionGroup(ctx context.Context, userID uint64, groupID string) (added bool, err error) {
	ctx, span := startSpan(ctx, "permission_group.add", userID, attribute.String("group", groupID))
	defer func() { endSpan(span, err) }()

	group, ok := s.groups.Get(groupID)
	if !ok {
		return false, s.groupNotFound(groupID)
	}
	_, changed, err := s.mutateGroups(ctx, userID, "AddPermissionGroup", func(list []*permission.Group) ([]*permission.Group, bool) {
		for _, g := range list {
			if g.Is(groupID) {
				return list, false
			}
		}
		return permission.InsertSorted(list, group), true
	})
	if err != nil || !changed {
		return false, err
	}

	recordChange("add_group")
	slog.Info("permission group granted", "user_id", userID, "group", group.ID())
	s.fireGroup(GroupUpdate{UserID: userID, Group: group, Granted: true})
	s.replicate().SendPermissionGroupState(ctx, userID, group.ID(), true)
	return true, nil
}

// RemovePermissionGroup removes the user from a group, including groups that
// are no longer registered.
func (s *Server) RemovePermissionGroup(ctx context.Context, userID uint64, groupID string) (removed bool, err error) {
	ctx, span := startSpan(ctx, "permission_group.remove", userID, attribute.String("group", groupID))
	defer func() { endSpan(span, err) }()

	var group *permission.Group
	_, changed, err := s.mutateGroups(ctx, userID, "RemovePermissionGroup", func(list []*permission.Group) ([]*permission.Group, bool) {
		for i, g := range list {
			if g.Is(groupID) {
				group = g
				return append(list[:i], list[i+1:]...), true
			}
		}
		return list, false
	})
	if err != nil || !changed {
		return false, err
	}

	recordChange("remove_group")
	slog.Info("permission group revoked", "user_id", userID, "group", group.ID())
	s.fireGroup(GroupUpdate{UserID: userID, Group: group, Granted: false})
	s.replicate().SendPermissionGroupState(ctx, userID, group.ID(), false)
	return true, nil
}

// ClearPermissionGroups removes the user from every group.
func (s *Server) ClearPermissionGroups(ctx context.Context, userID uint64) (cleared bool, err error) {
	ctx, span := startSpan(ctx, "permission_group.clear", userID)
	defer func() { endSpan(span, err) }()

	old, changed, err := s.mutateGroups(ctx, userID, "ClearPermissionGroups", func(list []*permission.Group) ([]*permission.Group, bool) {
		return []*permission.Group{}, len(list) > 0
	})
	if err != nil || !changed {
		return false, err
	}

	recordChange("clear_groups")
	slog.Info("permission groups cleared", "user_id", userID, "count", len(old))
	for _, g := range old {
		s.fireGroup(GroupUpdate{UserID: userID, Group: g, Granted: false})
	}
	s.replicate().SendClearPermissionGroups(ctx, userID)
	return true, nil
}

// assertLiveUsers asserts the main thread when any user is online, for
// registry changes that reach into every live user.
func (s *Server) assertLiveUsers(ctx context.Context, operation string) error {
	if len(s.users.All()) == 0 {
		return nil
	}
	return core.AssertMainThread(ctx, operation)
}

func (s *Server) saveDefinitionsLocked() {
	if s.groupsFile == "" {
		return
	}
	if err := permission.SaveGroupDefinitions(s.groupsFile, s.groups.All()); err != nil {
		errutil.LogError(slog.Default(), "failed to save permission group definitions", err)
	}
}

// Register adds a group to the registry. A group whose id is already
// registered is rejected and nothing changes.
func (s *Server) Register(ctx context.Context, g *permission.Group) (bool, error) {
	if err := s.lock(ctx); err != nil {
		return false, err
	}
	ok := s.groups.Register(g)
	if ok {
		s.saveDefinitionsLocked()
	}
	s.unlock()

	if !ok {
		slog.Warn("permission group already registered", "group", g.ID())
		return false, nil
	}
	recordChange("register_group")
	slog.Info("permission group registered", "group", g.ID(), "priority", g.Priority())
	s.fireRegistry(RegistryChange{Group: g, Kind: GroupRegistered})
	s.replicate().SendGroupRegistered(ctx, g)
	return true, nil
}

// Deregister removes every group with id from the registry, from online
// users and from every stored membership file. It reports whether anything
// was removed; calling it again is a no-op.
func (s *Server) Deregister(ctx context.Context, id string) (bool, error) {
	if err := s.lock(ctx); err != nil {
		return false, err
	}
	group, found := s.groups.Get(id)
	if !found {
		s.unlock()
		return false, nil
	}

	type member struct {
		user   *core.User
		groups []*permission.Group
	}
	var members []member
	for _, u := range s.users.All() {
		groups, loaded := u.Groups()
		if !loaded {
			continue
		}
		for i, g := range groups {
			if g.Is(id) {
				members = append(members, member{user: u, groups: append(groups[:i], groups[i+1:]...)})
				break
			}
		}
	}
	if len(members) > 0 {
		if err := s.assertLiveUsers(ctx, "Deregister"); err != nil {
			s.unlock()
			return false, err
		}
	}

	s.groups.Deregister(id)
	affected := make(map[uint64]struct{}, len(members))
	for _, m := range members {
		m.user.SetGroups(m.groups)
		affected[m.user.ID] = struct{}{}
	}
	stored, storeErr := s.store.RemoveGroupEverywhere(ctx, id)
	for _, userID := range stored {
		affected[userID] = struct{}{}
	}
	s.saveDefinitionsLocked()
	s.unlock()

	recordChange("deregister_group")
	slog.Info("permission group deregistered", "group", group.ID(), "members", len(affected))
	for userID := range affected {
		s.fireGroup(GroupUpdate{UserID: userID, Group: group, Granted: false})
	}
	s.fireRegistry(RegistryChange{Group: group, Kind: GroupDeregistered})
	s.replicate().SendGroupDeregistered(ctx, group.ID())
	return true, storeErr
}

// SavePermissionGroup updates a registered group in place from g, restores
// registry order if its priority changed, persists the definitions and
// replicates the new state. It reports false for unknown groups.
func (s *Server) SavePermissionGroup(ctx context.Context, g *permission.Group) (bool, error) {
	if err := s.lock(ctx); err != nil {
		return false, err
	}
	existing, ok := s.groups.Get(g.ID())
	if !ok {
		s.unlock()
		return false, nil
	}
	priorityChanged := existing.Priority() != g.Priority()
	if priorityChanged {
		if err := s.assertLiveUsers(ctx, "SavePermissionGroup"); err != nil {
			s.unlock()
			return false, err
		}
	}
	updated, _ := s.groups.Update(g)
	if priorityChanged {
		for _, u := range s.users.All() {
			u.ResortGroups()
		}
	}
	s.saveDefinitionsLocked()
	s.unlock()

	recordChange("update_group")
	slog.Info("permission group updated", "group", updated.ID(), "priority", updated.Priority())
	s.fireRegistry(RegistryChange{Group: updated, Kind: GroupChanged})
	s.replicate().SendGroupUpdated(ctx, updated)
	return true, nil
}

// Snapshot returns the state a newly connected client needs.
func (s *Server) Snapshot(ctx context.Context, userID uint64) (Snapshot, error) {
	if err := s.lock(ctx); err != nil {
		return Snapshot{}, err
	}
	defer s.unlock()

	perms, err := s.permissionsLocked(ctx, userID, false)
	if err != nil {
		return Snapshot{}, err
	}
	groups, err := s.groupsLocked(ctx, userID, false)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{UserID: userID, Permissions: perms}
	for _, g := range s.groups.All() {
		snap.Groups = append(snap.Groups, g.Clone())
	}
	for _, g := range groups {
		snap.GroupIDs = append(snap.GroupIDs, g.ID())
	}
	return snap, nil
}
