// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package replication

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

// Client is the client side of replication. It introduces the local user and
// applies everything the hub sends to an access.Mirror.
type Client struct {
	mirror  *access.Mirror
	name    string
	c       *conn
	closing atomic.Bool

	onReply func(text string)
	onChat  func(userID uint64, name, text string)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithReplyFunc is called with every command reply sent to the local user.
func WithReplyFunc(fn func(text string)) ClientOption {
	return func(c *Client) { c.onReply = fn }
}

// WithChatFunc is called with chat relayed from other users.
func WithChatFunc(fn func(userID uint64, name, text string)) ClientOption {
	return func(c *Client) { c.onChat = fn }
}

// Dial connects to the hub at url as the mirror's user.
func Dial(ctx context.Context, url string, mirror *access.Mirror, name string, opts ...ClientOption) (*Client, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, oops.In("replication").Code("DIAL_FAILED").With("url", url).Wrap(err)
	}

	cl := &Client{mirror: mirror, name: name, c: newConn(ws)}
	for _, opt := range opts {
		opt(cl)
	}
	cl.c.userID, cl.c.name = mirror.UserID(), name
	go cl.c.writePump()

	if err := cl.c.enqueue(Message{Type: TypeHello, UserID: mirror.UserID(), Name: name}); err != nil {
		cl.Close()
		return nil, err
	}
	return cl, nil
}

// Run applies inbound messages until the connection ends. It returns nil
// when the client or the hub closed the connection normally, or ctx ended.
func (cl *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, cl.Close)
	defer stop()

	for {
		data, err := cl.c.readFrame()
		if err != nil {
			if cl.closing.Load() || ctx.Err() != nil ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cl.Close()
				return nil
			}
			cl.Close()
			return oops.In("replication").Code("CONNECTION_LOST").With("user_id", cl.mirror.UserID()).Wrap(err)
		}
		m, err := Decode(data)
		if err != nil {
			errutil.LogWarn(slog.Default(), "dropping replicated message", err)
			continue
		}
		if err := cl.apply(ctx, m); err != nil {
			if ctx.Err() != nil {
				cl.Close()
				return nil
			}
			errutil.LogWarn(slog.Default(), "failed to apply replicated message", err, "type", m.Type.String())
		}
	}
}

func (cl *Client) apply(ctx context.Context, m Message) error {
	if isUserMessage(m.Type) && m.UserID != cl.mirror.UserID() {
		slog.Debug("ignoring message for another user", "type", m.Type.String(), "user_id", m.UserID)
		return nil
	}

	switch m.Type {
	case TypeSnapshot:
		return cl.mirror.ReceivePermissions(ctx, m.Snapshot)
	case TypePermissionState:
		return cl.mirror.ReceivePermissionState(ctx, m.Branch, m.Granted)
	case TypeGroupState:
		return cl.mirror.ReceivePermissionGroupState(ctx, m.GroupID, m.Granted)
	case TypeClearPermissions:
		return cl.mirror.ReceiveClearPermissions(ctx)
	case TypeClearGroups:
		return cl.mirror.ReceiveClearPermissionGroups(ctx)
	case TypeGroupRegistered:
		return cl.mirror.ReceiveGroupRegistered(ctx, m.Group)
	case TypeGroupUpdated:
		return cl.mirror.ReceivePermissionGroupUpdate(ctx, m.Group)
	case TypeGroupDeregistered:
		return cl.mirror.ReceiveGroupDeregistered(ctx, m.GroupID)
	case TypeReply:
		if cl.onReply != nil {
			cl.onReply(m.Text)
		}
	case TypeChat:
		if cl.onChat != nil {
			cl.onChat(m.UserID, m.Name, m.Text)
		}
	default:
		slog.Debug("ignoring unexpected message from hub", "type", m.Type.String())
	}
	return nil
}

func isUserMessage(t Type) bool {
	switch t {
	case TypeSnapshot, TypePermissionState, TypeGroupState, TypeClearPermissions, TypeClearGroups:
		return true
	}
	return false
}

// Chat sends text as the local user. Text starting with "/" runs a command.
func (cl *Client) Chat(text string) error {
	return cl.c.enqueue(Message{Type: TypeChat, UserID: cl.mirror.UserID(), Name: cl.name, Text: text})
}

// Close ends the connection. It is safe to call more than once.
func (cl *Client) Close() {
	cl.closing.Store(true)
	cl.c.close()
}
