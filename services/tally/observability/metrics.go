// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability exposes the service's Prometheus collectors.
//
// Collectors are registered on the default registry and served by the
// /metrics endpoint wired in routes.SetupRoutes.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks currently registered WebSocket connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tally_ws_connections_active",
		Help: "Number of live WebSocket connections.",
	})

	// EventsPublished counts push events fanned out, by event name.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_events_published_total",
		Help: "Push events published to channels, by event name.",
	}, []string{"event"})

	// EventsDropped counts per-connection deliveries dropped because the
	// connection's outbox was full or closed.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tally_events_dropped_total",
		Help: "Per-connection event deliveries dropped.",
	})

	// IncrementsTotal counts committed counter increments.
	IncrementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tally_increments_total",
		Help: "Committed counter increments.",
	})

	// RateLimitedTotal counts requests rejected by admission control.
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tally_rate_limited_total",
		Help: "Requests rejected by the admission rate limiter.",
	})
)
