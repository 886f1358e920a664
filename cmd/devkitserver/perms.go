// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/devkitserver/devkitserver/internal/permission"
	"github.com/devkitserver/devkitserver/internal/permission/store"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

// NewPermsCmd creates the perms subcommand for editing stored permissions
// while the server is stopped.
func NewPermsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "perms",
		Short: "Edit stored user permissions offline",
		Long: `Read and edit a user's stored permissions and group memberships.
Run these only while the server is stopped; a running server keeps
online users in memory and overwrites the files on its next save.`,
	}
	cmd.AddCommand(newPermsListCmd())
	cmd.AddCommand(newPermsGrantCmd())
	cmd.AddCommand(newPermsRevokeCmd())
	cmd.AddCommand(newPermsGroupsCmd())
	return cmd
}

// offlineStore is an opened store plus the registry it resolves groups
// against.
type offlineStore struct {
	*store.Store
	groups *permission.GroupRegistry
}

// withStore opens the configured store for fn and closes it afterwards.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st offlineStore) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	groups, err := loadGroups(&cfg)
	if err != nil {
		return err
	}
	st, err := openStore(&cfg, groups)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			errutil.LogWarn(slog.Default(), "error closing permission store", closeErr)
		}
	}()
	return fn(cmd.Context(), offlineStore{Store: st, groups: groups})
}

func parseUserID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, oops.In("perms").Code("INVALID_USER_ID").With("user", s).Errorf("invalid user id %q", s)
	}
	return id, nil
}

func parseBranchArg(s string) (permission.Branch, error) {
	b, ok := permission.ParseBranch(s)
	if !ok {
		return permission.Branch{}, oops.In("perms").Code("INVALID_PERMISSION").With("permission", s).Errorf("invalid permission %q", s)
	}
	return b, nil
}

func newPermsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user-id>",
		Short: "Show a user's permissions and groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, st offlineStore) error {
				perms, err := st.LoadPermissions(ctx, userID)
				if err != nil {
					return err
				}
				groups, err := st.LoadGroups(ctx, userID)
				if err != nil {
					return err
				}
				printList(cmd.OutOrStdout(), "permissions", branchStrings(perms))
				printList(cmd.OutOrStdout(), "groups", groupIDs(groups))
				return nil
			})
		},
	}
}

func newPermsGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <user-id> <permission>",
		Short: "Grant a permission to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			b, err := parseBranchArg(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, st offlineStore) error {
				perms, err := st.LoadPermissions(ctx, userID)
				if err != nil {
					return err
				}
				if permission.ContainsBranch(perms, b) {
					cmd.Printf("%d already has %s\n", userID, b)
					return nil
				}
				if err := st.SavePermissions(ctx, userID, append(perms, b)); err != nil {
					return err
				}
				cmd.Printf("granted %s to %d\n", b, userID)
				return nil
			})
		},
	}
}

func newPermsRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <user-id> <permission>",
		Short: "Revoke a permission from a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			b, err := parseBranchArg(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, st offlineStore) error {
				perms, err := st.LoadPermissions(ctx, userID)
				if err != nil {
					return err
				}
				i := permission.IndexBranch(perms, b)
				if i < 0 {
					cmd.Printf("%d does not have %s\n", userID, b)
					return nil
				}
				perms = append(perms[:i], perms[i+1:]...)
				if err := st.SavePermissions(ctx, userID, perms); err != nil {
					return err
				}
				cmd.Printf("revoked %s from %d\n", b, userID)
				return nil
			})
		},
	}
}

func newPermsGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups <user-id> [add|remove <group-id>]",
		Short: "List or edit a user's group memberships",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return cobra.ExactArgs(3)(cmd, args)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, st offlineStore) error {
				groups, err := st.LoadGroups(ctx, userID)
				if err != nil {
					return err
				}
				if len(args) == 1 {
					printList(cmd.OutOrStdout(), "groups", groupIDs(groups))
					return nil
				}
				return editGroups(ctx, cmd, st, userID, groups, args[1], args[2])
			})
		},
	}
}

func editGroups(ctx context.Context, cmd *cobra.Command, st offlineStore, userID uint64, groups []*permission.Group, action, groupID string) error {
	i := -1
	for j, g := range groups {
		if g.Is(groupID) {
			i = j
			break
		}
	}
	switch strings.ToLower(action) {
	case "add":
		g, ok := st.groups.Get(groupID)
		if !ok {
			return oops.In("perms").Code("GROUP_NOT_FOUND").With("group", groupID).Errorf("unknown group %q", groupID)
		}
		if i >= 0 {
			cmd.Printf("%d is already in %s\n", userID, g.ID())
			return nil
		}
		if err := st.SaveGroups(ctx, userID, permission.InsertSorted(groups, g)); err != nil {
			return err
		}
		cmd.Printf("added %d to %s\n", userID, g.ID())
	case "remove":
		if i < 0 {
			cmd.Printf("%d is not in %s\n", userID, groupID)
			return nil
		}
		id := groups[i].ID()
		if err := st.SaveGroups(ctx, userID, append(groups[:i], groups[i+1:]...)); err != nil {
			return err
		}
		cmd.Printf("removed %d from %s\n", userID, id)
	default:
		return oops.In("perms").Code("INVALID_ACTION").With("action", action).Errorf("action must be add or remove, got %q", action)
	}
	return nil
}

func branchStrings(list []permission.Branch) []string {
	out := make([]string, 0, len(list))
	for _, b := range list {
		out = append(out, b.String())
	}
	return out
}

func groupIDs(list []*permission.Group) []string {
	out := make([]string, 0, len(list))
	for _, g := range list {
		id := g.ID()
		if g.IsPlaceholder() {
			id += " (unknown)"
		}
		out = append(out, id)
	}
	return out
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		_, _ = fmt.Fprintf(w, "%s: none\n", title)
		return
	}
	_, _ = fmt.Fprintf(w, "%s:\n", title)
	for _, item := range items {
		_, _ = fmt.Fprintf(w, "  %s\n", item)
	}
}
