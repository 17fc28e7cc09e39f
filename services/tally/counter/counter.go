// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package counter implements the counter data model and its persistent store,
// including access grants for private counters.
package counter

import (
	"math"
	"sort"
	"time"

	"github.com/jinterlante1206/LiveTally/services/tally/datatypes"
)

// Visibility is a counter's broadcast scope.
type Visibility string

const (
	// Public counters appear on the public board and need no grant.
	Public Visibility = "public"

	// Private counters are visible only to identities holding a grant.
	Private Visibility = "private"
)

// Counter is a named increment-only counter.
//
// Value is monotonically non-decreasing: the store exposes no decrement or
// reset, and counters are never deleted.
type Counter struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Value      uint64     `json:"value"`
	Visibility Visibility `json:"visibility"`
	OwnerID    string     `json:"owner_id"`

	// CreatedAt is Unix milliseconds.
	CreatedAt int64 `json:"created_at"`
}

// View returns the wire shape of the counter.
func (c Counter) View() datatypes.CounterView {
	return datatypes.CounterView{
		ID:        c.ID,
		Name:      c.Name,
		Value:     c.Value,
		CreatedAt: time.UnixMilli(c.CreatedAt).UTC().Format("2006-01-02"),
	}
}

// =============================================================================
// List Ordering
// =============================================================================

// Order selects the sort applied by ListPublic.
type Order string

const (
	// OrderTrending is the default: a freshness/popularity blend scoring
	// value / age_seconds^1.7, descending. New busy counters float to the
	// top and cold ones decay away.
	OrderTrending Order = "trending"

	// OrderValue sorts by current value, ascending.
	OrderValue Order = "value"

	// OrderName sorts by name, ascending.
	OrderName Order = "name"
)

// ParseOrder maps a query-string value onto an Order, defaulting to
// OrderTrending for empty or unknown values.
func ParseOrder(s string) Order {
	switch Order(s) {
	case OrderValue:
		return OrderValue
	case OrderName:
		return OrderName
	default:
		return OrderTrending
	}
}

// decayExponent tunes how fast trending scores age.
const decayExponent = 1.7

// trendingScore returns the decaying popularity score at time now.
func trendingScore(c Counter, now time.Time) float64 {
	age := now.Sub(time.UnixMilli(c.CreatedAt)).Seconds()
	if age < 1 {
		age = 1
	}
	return float64(c.Value) / math.Pow(age, decayExponent)
}

// sortCounters sorts in place according to order.
func sortCounters(counters []Counter, order Order, now time.Time) {
	switch order {
	case OrderValue:
		sort.Slice(counters, func(i, j int) bool {
			return counters[i].Value < counters[j].Value
		})
	case OrderName:
		sort.Slice(counters, func(i, j int) bool {
			return counters[i].Name < counters[j].Name
		})
	default:
		sort.Slice(counters, func(i, j int) bool {
			return trendingScore(counters[i], now) > trendingScore(counters[j], now)
		})
	}
}
