// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package broadcast implements the in-process broadcast router: channel
// membership for live connections and fire-and-forget event fan-out.
//
// Channels are logical names derived on demand from membership — they have no
// persistent existence. Three kinds exist:
//
//	"public"               every viewer of the public board
//	"counter:<id>"         every viewer of one specific counter
//	"private:<identityId>" every connection authenticated as that identity
//
// The router is the single owner of the membership table; all access goes
// through its mutex. Publish never blocks on a subscriber: slow or dead
// connections get deliveries dropped and reconcile via their next snapshot.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/jinterlante1206/LiveTally/services/tally/datatypes"
	"github.com/jinterlante1206/LiveTally/services/tally/observability"
)

// ChannelPublic is the public board channel.
const ChannelPublic = "public"

const (
	counterPrefix = "counter:"
	privatePrefix = "private:"
)

// CounterChannel returns the channel name for one counter's viewers.
func CounterChannel(counterID string) string {
	return counterPrefix + counterID
}

// PrivateChannel returns the channel name for one identity's private stream.
func PrivateChannel(identityID string) string {
	return privatePrefix + identityID
}

// SnapshotSource produces the initial state a new subscriber receives.
// Implemented by the service layer over the counter store.
type SnapshotSource interface {
	// PublicSnapshot returns the current public counter list.
	PublicSnapshot(ctx context.Context) ([]datatypes.CounterView, error)

	// PrivateSnapshot returns the private counters identityID may see.
	PrivateSnapshot(ctx context.Context, identityID string) ([]datatypes.CounterView, error)
}

// Router maintains live-connection channel membership and delivers events.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The membership table is owned by
// the router and guarded by one mutex; no caller ever touches it directly.
type Router struct {
	snapshots SnapshotSource

	mu sync.RWMutex
	// channels maps channel name -> member set.
	channels map[string]map[*Conn]struct{}
	// members maps connection -> subscribed channel names, for O(channels)
	// teardown on disconnect.
	members map[*Conn]map[string]struct{}
}

// NewRouter creates a router drawing snapshots from snapshots.
func NewRouter(snapshots SnapshotSource) *Router {
	return &Router{
		snapshots: snapshots,
		channels:  make(map[string]map[*Conn]struct{}),
		members:   make(map[*Conn]map[string]struct{}),
	}
}

// Register adds a freshly connected Conn to the router's accounting.
func (r *Router) Register(c *Conn) {
	r.mu.Lock()
	r.members[c] = make(map[string]struct{})
	r.mu.Unlock()

	observability.ConnectionsActive.Inc()
	slog.Info("websocket client connected", "conn", c.ID, "identity", c.identityID)
}

// Unregister removes c from every channel and closes its outbox. Called once
// on disconnect; in-flight publishes to this connection are dropped.
func (r *Router) Unregister(c *Conn) {
	r.mu.Lock()
	subscribed, ok := r.members[c]
	if ok {
		for name := range subscribed {
			r.removeLocked(c, name)
		}
		delete(r.members, c)
	}
	r.mu.Unlock()

	if ok {
		c.Close()
		observability.ConnectionsActive.Dec()
		slog.Info("websocket client disconnected", "conn", c.ID)
	}
}

// Subscribe attaches c to the named channel.
//
// # Description
//
// Subscribing to another identity's "private:<id>" channel is silently
// ignored — not an error — so a connection cannot eavesdrop by guessing
// channel names. "public" and "counter:<id>" are unrestricted; a counter's
// existence is not secret once its id is known through a share flow.
//
// Subscribing to "public" or to the caller's own private channel immediately
// sends a sync snapshot, so a newly connected viewer does not wait for the
// next mutation to see current state.
func (r *Router) Subscribe(ctx context.Context, c *Conn, channel string) {
	if channel == "" {
		return
	}
	if strings.HasPrefix(channel, privatePrefix) &&
		strings.TrimPrefix(channel, privatePrefix) != c.identityID {
		slog.Debug("rejected foreign private subscription",
			"conn", c.ID, "channel", channel)
		return
	}

	r.mu.Lock()
	if _, registered := r.members[c]; !registered {
		r.mu.Unlock()
		return
	}
	set, ok := r.channels[channel]
	if !ok {
		set = make(map[*Conn]struct{})
		r.channels[channel] = set
	}
	set[c] = struct{}{}
	r.members[c][channel] = struct{}{}
	r.mu.Unlock()

	r.sendSnapshot(ctx, c, channel)
}

// Unsubscribe detaches c from the named channel.
func (r *Router) Unsubscribe(c *Conn, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subscribed, ok := r.members[c]; ok {
		delete(subscribed, channel)
	}
	r.removeLocked(c, channel)
}

// Publish delivers ev to every connection subscribed to channel at publish
// time. Fire and forget: no delivery guarantee beyond that, and a full or
// closed outbox drops the delivery for that connection only.
func (r *Router) Publish(channel string, ev datatypes.Event) {
	ev.Channel = channel
	msg, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to encode event", "event", ev.Name, "error", err)
		return
	}

	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.channels[channel]))
	for c := range r.channels[channel] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	observability.EventsPublished.WithLabelValues(ev.Name).Inc()
	for _, c := range conns {
		if !c.trySend(msg) {
			observability.EventsDropped.Inc()
		}
	}
}

// removeLocked removes c from one channel set, dropping the set when empty.
// Caller holds r.mu.
func (r *Router) removeLocked(c *Conn, channel string) {
	set, ok := r.channels[channel]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.channels, channel)
	}
}

// sendSnapshot pushes the initial sync event for snapshot-bearing channels.
func (r *Router) sendSnapshot(ctx context.Context, c *Conn, channel string) {
	var (
		views []datatypes.CounterView
		err   error
	)
	switch {
	case channel == ChannelPublic:
		views, err = r.snapshots.PublicSnapshot(ctx)
	case strings.HasPrefix(channel, privatePrefix):
		views, err = r.snapshots.PrivateSnapshot(ctx, c.identityID)
	default:
		return
	}
	if err != nil {
		// The client still gets mutation events; its next resubscribe
		// recovers the snapshot.
		slog.Error("snapshot fetch failed", "channel", channel, "error", err)
		return
	}
	if views == nil {
		views = []datatypes.CounterView{}
	}

	msg, err := json.Marshal(datatypes.Event{
		Name:    datatypes.EventSync,
		Channel: channel,
		Data:    views,
	})
	if err != nil {
		slog.Error("failed to encode snapshot", "channel", channel, "error", err)
		return
	}
	if !c.trySend(msg) {
		observability.EventsDropped.Inc()
	}
}
