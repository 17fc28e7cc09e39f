// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jinterlante1206/LiveTally/services/tally/broadcast"
	"github.com/jinterlante1206/LiveTally/services/tally/datatypes"
	"github.com/jinterlante1206/LiveTally/services/tally/middleware"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// HandleWebSocket handles GET /ws, the push transport.
//
// # Description
//
// Upgrades the connection, registers it with the broadcast router under the
// identity the session resolver attached (possibly none), and then loops over
// client subscribe/unsubscribe commands. The write side runs on its own
// goroutine draining the connection's outbox; disconnect tears down every
// channel membership immediately.
func HandleWebSocket(router *broadcast.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		ident, _ := middleware.GetIdentity(c)
		conn := broadcast.NewConn(ident.ID)
		router.Register(conn)
		defer router.Unregister(conn)

		go conn.WritePump(ws)

		_ = ws.SetReadDeadline(time.Now().Add(broadcast.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(broadcast.PongWait))
		})

		for {
			var msg datatypes.ClientMessage
			if err := ws.ReadJSON(&msg); err != nil {
				slog.Debug("websocket read ended", "conn", conn.ID, "error", err.Error())
				return
			}

			switch msg.Action {
			case datatypes.ActionSubscribe:
				router.Subscribe(c.Request.Context(), conn, msg.Channel)
			case datatypes.ActionUnsubscribe:
				router.Unsubscribe(conn, msg.Channel)
			default:
				slog.Debug("ignoring unknown websocket action",
					"conn", conn.ID, "action", msg.Action)
			}
		}
	}
}
