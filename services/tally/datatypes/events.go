// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Push event names emitted by the server over the WebSocket transport.
const (
	// EventCreated announces a newly created counter on its scope channel.
	EventCreated = "created"

	// EventUpdated announces a counter's new value after an increment.
	EventUpdated = "updated"

	// EventSync carries the initial full snapshot for a channel. Sent once on
	// subscribe to "public" or "private:<id>" so a fresh connection sees
	// current state before the next mutation arrives.
	EventSync = "sync"
)

// Event is the envelope for every server-to-client push message.
//
// Delivery is at-least-once with no guarantee beyond "reaches connections
// subscribed at publish time"; clients reconcile against the sync snapshot
// they receive on (re)subscribe.
type Event struct {
	Name    string `json:"event"`
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// CounterView is the counter shape returned by list endpoints and carried in
// push events. CreatedAt is a YYYY-MM-DD date string.
type CounterView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Value     uint64 `json:"value"`
	CreatedAt string `json:"created_at"`
}

// ClientMessage is a subscribe/unsubscribe command received from a WebSocket
// client. Channel is "public", "counter:<id>", or "private:<identityId>".
type ClientMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// WebSocket client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)
