// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

// Package replication carries permission state from the server to connected
// clients over websockets, and chat from clients back to the dispatcher.
//
// Every frame is one binary Message encoded with the permission codec: a
// type byte followed by the fields that type uses.
package replication

import (
	"bytes"
	"fmt"
	"math"

	"github.com/samber/oops"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/permission"
)

// maxListLength bounds every list in a snapshot.
const maxListLength = math.MaxUint16

// Type identifies a message.
type Type uint8

// Message types. Hello and Chat travel client to server, the rest server to
// client.
const (
	TypeHello Type = iota + 1
	TypeSnapshot
	TypePermissionState
	TypeGroupState
	TypeClearPermissions
	TypeClearGroups
	TypeGroupRegistered
	TypeGroupUpdated
	TypeGroupDeregistered
	TypeChat
	TypeReply
)

var typeNames = map[Type]string{
	TypeHello:             "hello",
	TypeSnapshot:          "snapshot",
	TypePermissionState:   "permission_state",
	TypeGroupState:        "group_state",
	TypeClearPermissions:  "clear_permissions",
	TypeClearGroups:       "clear_groups",
	TypeGroupRegistered:   "group_registered",
	TypeGroupUpdated:      "group_updated",
	TypeGroupDeregistered: "group_deregistered",
	TypeChat:              "chat",
	TypeReply:             "reply",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Message is one replicated frame. Only the fields of its Type are encoded.
type Message struct {
	Type Type

	// UserID is the subject of per-user messages, and the sender of Hello
	// and relayed Chat.
	UserID  uint64
	Name    string
	Branch  permission.Branch
	GroupID string
	Granted bool
	Group   *permission.Group
	// Snapshot is the full state sent once after Hello.
	Snapshot access.Snapshot
	Text     string
}

// Encode returns the binary form of m.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	w := permission.NewWriter(&buf)
	w.WriteUint8(uint8(m.Type))

	switch m.Type {
	case TypeHello:
		w.WriteUint64(m.UserID)
		w.WriteString(m.Name)
	case TypeSnapshot:
		s := m.Snapshot
		groups := s.Groups[:min(len(s.Groups), maxListLength)]
		perms := s.Permissions[:min(len(s.Permissions), maxListLength)]
		ids := s.GroupIDs[:min(len(s.GroupIDs), maxListLength)]
		w.WriteUint64(s.UserID)
		w.WriteUint16(uint16(len(groups))) //nolint:gosec // clamped above
		for _, g := range groups {
			w.WriteGroup(g)
		}
		w.WriteUint16(uint16(len(perms))) //nolint:gosec // clamped above
		for _, b := range perms {
			w.WriteBranch(b)
		}
		w.WriteUint16(uint16(len(ids))) //nolint:gosec // clamped above
		for _, id := range ids {
			w.WriteString(id)
		}
	case TypePermissionState:
		w.WriteUint64(m.UserID)
		w.WriteBranch(m.Branch)
		w.WriteBool(m.Granted)
	case TypeGroupState:
		w.WriteUint64(m.UserID)
		w.WriteString(m.GroupID)
		w.WriteBool(m.Granted)
	case TypeClearPermissions, TypeClearGroups:
		w.WriteUint64(m.UserID)
	case TypeGroupRegistered, TypeGroupUpdated:
		if m.Group == nil {
			return nil, oops.In("replication").Code("INVALID_MESSAGE").With("type", m.Type.String()).Errorf("%s without a group", m.Type)
		}
		w.WriteGroup(m.Group)
	case TypeGroupDeregistered:
		w.WriteString(m.GroupID)
	case TypeChat:
		w.WriteUint64(m.UserID)
		w.WriteString(m.Name)
		w.WriteString(m.Text)
	case TypeReply:
		w.WriteString(m.Text)
	default:
		return nil, oops.In("replication").Code("UNKNOWN_MESSAGE").With("type", uint8(m.Type)).Errorf("unknown message type %d", uint8(m.Type))
	}

	if err := w.Err(); err != nil {
		return nil, invalidMessage(m.Type, err.Error())
	}
	return buf.Bytes(), nil
}

// Decode parses one frame. Branches and groups that fail validation make the
// whole message invalid, except inside a snapshot, where they are skipped.
func Decode(data []byte) (Message, error) {
	r := permission.NewReader(bytes.NewReader(data))
	m := Message{Type: Type(r.ReadUint8())}
	if r.HasFailed() {
		return Message{}, invalidMessage(m.Type, "empty frame")
	}

	ok := true
	switch m.Type {
	case TypeHello:
		m.UserID = r.ReadUint64()
		m.Name = r.ReadString()
	case TypeSnapshot:
		m.Snapshot = readSnapshot(r)
		m.UserID = m.Snapshot.UserID
	case TypePermissionState:
		m.UserID = r.ReadUint64()
		m.Branch, ok = r.ReadBranch()
		m.Granted = r.ReadBool()
	case TypeGroupState:
		m.UserID = r.ReadUint64()
		m.GroupID = r.ReadString()
		m.Granted = r.ReadBool()
	case TypeClearPermissions, TypeClearGroups:
		m.UserID = r.ReadUint64()
	case TypeGroupRegistered, TypeGroupUpdated:
		m.Group, ok = r.ReadGroup()
	case TypeGroupDeregistered:
		m.GroupID = r.ReadString()
	case TypeChat:
		m.UserID = r.ReadUint64()
		m.Name = r.ReadString()
		m.Text = r.ReadString()
	case TypeReply:
		m.Text = r.ReadString()
	default:
		return Message{}, oops.In("replication").Code("UNKNOWN_MESSAGE").With("type", uint8(m.Type)).Errorf("unknown message type %d", uint8(m.Type))
	}

	if r.HasFailed() {
		return Message{}, invalidMessage(m.Type, "truncated: "+r.Err().Error())
	}
	if !ok {
		return Message{}, invalidMessage(m.Type, "invalid branch or group")
	}
	return m, nil
}

func readSnapshot(r *permission.Reader) access.Snapshot {
	s := access.Snapshot{UserID: r.ReadUint64()}
	for n := int(r.ReadUint16()); n > 0 && !r.HasFailed(); n-- {
		if g, ok := r.ReadGroup(); ok {
			s.Groups = append(s.Groups, g)
		}
	}
	for n := int(r.ReadUint16()); n > 0 && !r.HasFailed(); n-- {
		if b, ok := r.ReadBranch(); ok {
			s.Permissions = append(s.Permissions, b)
		}
	}
	for n := int(r.ReadUint16()); n > 0 && !r.HasFailed(); n-- {
		s.GroupIDs = append(s.GroupIDs, r.ReadString())
	}
	return s
}

func invalidMessage(t Type, reason string) error {
	return oops.In("replication").Code("INVALID_MESSAGE").With("type", t.String()).Errorf("invalid %s message: %s", t, reason)
}
