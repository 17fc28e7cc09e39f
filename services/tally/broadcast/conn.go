// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// outboxSize bounds per-connection buffering. A connection that cannot
	// drain this many pending events gets deliveries dropped, not retried;
	// its next sync snapshot reconciles the state.
	outboxSize = 64

	// writeWait is the per-message write deadline.
	writeWait = 10 * time.Second

	// pingPeriod is the keepalive interval. Must be shorter than the read
	// deadline the handler sets from pongWait.
	pingPeriod = 45 * time.Second

	// PongWait is how long the reader waits for a pong before giving up on
	// the connection. Exported for the handler's read deadline.
	PongWait = 60 * time.Second
)

// Conn is one live push connection, transient and process-local.
//
// A Conn carries the identity resolved at connect time (possibly none) and a
// buffered outbox the router publishes into. It is destroyed on disconnect
// and never persisted.
type Conn struct {
	// ID identifies the connection in logs only.
	ID string

	identityID string

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// NewConn creates a connection owned by identityID (empty when the session
// resolver could not attach an identity).
func NewConn(identityID string) *Conn {
	return &Conn{
		ID:         uuid.NewString(),
		identityID: identityID,
		send:       make(chan []byte, outboxSize),
	}
}

// IdentityID returns the identity this connection authenticated as, or "".
func (c *Conn) IdentityID() string {
	return c.identityID
}

// Outbox returns the channel the write pump drains.
func (c *Conn) Outbox() <-chan []byte {
	return c.send
}

// Close closes the outbox. Idempotent. After Close, pending and future
// deliveries are dropped.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// trySend enqueues msg without blocking. Returns false when the outbox is
// full or the connection is closed; the delivery is simply dropped.
func (c *Conn) trySend(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// WritePump drains the outbox into ws until the outbox closes or a write
// fails. Runs on its own goroutine per connection; the reader goroutine owns
// teardown via Router.Unregister.
func (c *Conn) WritePump(ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("websocket write failed", "conn", c.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
