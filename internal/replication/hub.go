// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package replication

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/command"
	"github.com/devkitserver/devkitserver/internal/core"
	"github.com/devkitserver/devkitserver/internal/permission"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

// ChatHandler receives chat from connected users. It returns true when the
// text was consumed as a command.
type ChatHandler interface {
	OnChatProcessing(ctx context.Context, caller command.Caller, text string) bool
}

// Hub is the server side of replication. It serves websocket clients,
// replicates permission changes to them, delivers command replies, and
// feeds their chat to the dispatcher on the main loop.
type Hub struct {
	server   *access.Server
	users    *core.Users
	loop     *core.Loop
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	chat   ChatHandler
	conns  map[uint64]*conn
	all    map[*conn]struct{}
	closed bool
}

// NewHub creates a hub. Register it with server.SetReplicator to start
// replicating.
func NewHub(server *access.Server, users *core.Users, loop *core.Loop) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		server: server,
		users:  users,
		loop:   loop,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[uint64]*conn),
		all:    make(map[*conn]struct{}),
	}
}

// SetChatHandler sets where chat is dispatched. Chat that is not a command
// is relayed to every client.
func (h *Hub) SetChatHandler(ch ChatHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chat = ch
}

// ServeHTTP upgrades the request and serves the client until it leaves. The
// first frame must be a Hello naming the user.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("replication upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(ws)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.all[c] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	go c.writePump()
	h.serve(c)
}

func (h *Hub) serve(c *conn) {
	defer h.wg.Done()
	defer func() {
		h.mu.Lock()
		delete(h.all, c)
		h.mu.Unlock()
		c.close()
	}()

	c.prepareRead()
	data, err := c.readFrame()
	if err != nil {
		return
	}
	hello, err := Decode(data)
	if err != nil || hello.Type != TypeHello || hello.UserID == 0 {
		slog.Warn("replication client did not introduce itself", "type", hello.Type.String(), "error", err)
		return
	}
	c.userID, c.name = hello.UserID, hello.Name

	if err := h.connect(c); err != nil {
		errutil.LogWarn(slog.Default(), "rejecting replication client", err, "user_id", c.userID)
		return
	}
	defer h.disconnect(c)

	for {
		data, err := c.readFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("replication client read failed", "user_id", c.userID, "error", err)
			}
			return
		}
		m, err := Decode(data)
		if err != nil {
			errutil.LogWarn(slog.Default(), "dropping message from client", err, "user_id", c.userID)
			continue
		}
		h.handle(c, m)
	}
}

// connect makes the user online and sends their snapshot. Both happen on
// the main loop so no delta can overtake the snapshot.
func (h *Hub) connect(c *conn) error {
	return h.loop.Do(h.ctx, func(ctx context.Context) error {
		h.mu.Lock()
		if _, dup := h.conns[c.userID]; dup {
			h.mu.Unlock()
			return oops.In("replication").
				Code("ALREADY_CONNECTED").
				With("user_id", c.userID).
				Errorf("user %d is already connected", c.userID)
		}
		h.conns[c.userID] = c
		h.mu.Unlock()

		h.users.Connect(c.userID, c.name)
		snap, err := h.server.Snapshot(ctx, c.userID)
		if err != nil {
			h.forget(c)
			_ = h.users.Disconnect(c.userID)
			return err
		}
		connectedClients.Inc()
		slog.Info("replication client connected", "user_id", c.userID, "name", c.name)
		return c.enqueue(Message{Type: TypeSnapshot, UserID: c.userID, Snapshot: snap})
	})
}

func (h *Hub) forget(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.userID] == c {
		delete(h.conns, c.userID)
	}
}

// disconnect takes the user offline on the main loop. The connection slot is
// held until then so a reconnect cannot be overtaken by this user leaving.
func (h *Hub) disconnect(c *conn) {
	connectedClients.Dec()

	leave := func(context.Context) {
		if err := h.users.Disconnect(c.userID); err != nil {
			slog.Debug("user already offline", "user_id", c.userID)
		}
		h.forget(c)
	}
	if h.ctx.Err() != nil || !h.loop.Post(h.ctx, leave) {
		leave(h.ctx)
	}
	slog.Info("replication client disconnected", "user_id", c.userID)
}

func (h *Hub) handle(c *conn, m Message) {
	if m.Type != TypeChat {
		slog.Debug("ignoring unexpected message from client", "user_id", c.userID, "type", m.Type.String())
		return
	}
	caller := command.Caller{ID: c.userID, Name: c.name, Source: command.SourceChat}
	text := m.Text
	h.loop.Post(h.ctx, func(ctx context.Context) {
		h.mu.RLock()
		ch := h.chat
		h.mu.RUnlock()
		if ch != nil && ch.OnChatProcessing(ctx, caller, text) {
			return
		}
		h.broadcast(Message{Type: TypeChat, UserID: caller.ID, Name: caller.Name, Text: text})
	})
}

func (h *Hub) sendTo(userID uint64, m Message) {
	h.mu.RLock()
	c := h.conns[userID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	h.enqueue(c, m)
}

func (h *Hub) broadcast(m Message) {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.enqueue(c, m)
	}
}

func (h *Hub) enqueue(c *conn, m Message) {
	if err := c.enqueue(m); err != nil {
		slog.Warn("failed to queue replicated message", "user_id", c.userID, "type", m.Type.String(), "error", err)
		return
	}
	sentMessages.WithLabelValues(m.Type.String()).Inc()
}

// Connected reports whether userID holds a replication connection. The slot
// is released once the user has left on the main loop.
func (h *Hub) Connected(userID uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// Close disconnects every client and waits for their handlers to return.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	open := make([]*conn, 0, len(h.all))
	for c := range h.all {
		open = append(open, c)
	}
	h.mu.Unlock()

	h.cancel()
	for _, c := range open {
		c.close()
	}
	h.wg.Wait()
}

// Send implements command.Output for chat callers.
func (h *Hub) Send(_ context.Context, to command.Caller, message string) {
	h.sendTo(to.ID, Message{Type: TypeReply, Text: message})
}

// SendPermissionState implements access.Replicator.
func (h *Hub) SendPermissionState(_ context.Context, userID uint64, b permission.Branch, granted bool) {
	h.sendTo(userID, Message{Type: TypePermissionState, UserID: userID, Branch: b, Granted: granted})
}

// SendPermissionGroupState implements access.Replicator.
func (h *Hub) SendPermissionGroupState(_ context.Context, userID uint64, groupID string, granted bool) {
	h.sendTo(userID, Message{Type: TypeGroupState, UserID: userID, GroupID: groupID, Granted: granted})
}

// SendClearPermissions implements access.Replicator.
func (h *Hub) SendClearPermissions(_ context.Context, userID uint64) {
	h.sendTo(userID, Message{Type: TypeClearPermissions, UserID: userID})
}

// SendClearPermissionGroups implements access.Replicator.
func (h *Hub) SendClearPermissionGroups(_ context.Context, userID uint64) {
	h.sendTo(userID, Message{Type: TypeClearGroups, UserID: userID})
}

// SendGroupRegistered implements access.Replicator.
func (h *Hub) SendGroupRegistered(_ context.Context, g *permission.Group) {
	h.broadcast(Message{Type: TypeGroupRegistered, Group: g})
}

// SendGroupUpdated implements access.Replicator.
func (h *Hub) SendGroupUpdated(_ context.Context, g *permission.Group) {
	h.broadcast(Message{Type: TypeGroupUpdated, Group: g})
}

// SendGroupDeregistered implements access.Replicator.
func (h *Hub) SendGroupDeregistered(_ context.Context, groupID string) {
	h.broadcast(Message{Type: TypeGroupDeregistered, GroupID: groupID})
}

var (
	_ access.Replicator = (*Hub)(nil)
	_ command.Output    = (*Hub)(nil)
	_ http.Handler      = (*Hub)(nil)
)
