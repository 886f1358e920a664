// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package replication

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a peer may stay silent before it is dropped.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize limits inbound frames. Snapshots only travel outbound.
	maxMessageSize = 16 * 1024
	// sendBuffer is the per-connection outbound queue length.
	sendBuffer = 256
)

var errSendBufferFull = errors.New("send buffer full")

// conn is one websocket peer with a dedicated writer goroutine.
type conn struct {
	ws     *websocket.Conn
	userID uint64
	name   string

	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue queues m for the writer. A slow peer loses messages rather than
// blocking the main loop.
func (c *conn) enqueue(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	select {
	case c.send <- data:
		return nil
	default:
		droppedMessages.Inc()
		return errSendBufferFull
	}
}

// writePump drains the send queue and keeps the peer alive with pings. It
// returns when the queue is closed or a write fails.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				slog.Debug("replication write failed", "user_id", c.userID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readFrame returns the next binary frame.
func (c *conn) readFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// prepareRead applies the read limit and pong deadline handling.
func (c *conn) prepareRead() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// close stops the writer after it flushes what is queued, and waits for it.
func (c *conn) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	<-c.done
}
