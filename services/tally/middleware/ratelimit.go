// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jinterlante1206/LiveTally/services/tally/observability"
)

// AdmissionConfig configures ingress admission control for mutation
// endpoints. It shapes traffic in two stages: a soft progressive-delay tier
// that slows abusive polling down, then a hard token-bucket rejection tier.
type AdmissionConfig struct {
	// RequestsPerMinute is the hard per-caller budget. Default: 120.
	RequestsPerMinute int

	// Burst is the token-bucket burst size. Default: 20.
	Burst int

	// SoftThreshold is the request count within SoftWindow beyond which
	// artificial latency is added instead of rejecting. Default: 300.
	SoftThreshold int

	// SoftWindow is the observation window for the soft tier. Default: 5m.
	SoftWindow time.Duration

	// DelayStep is the added latency per request over the soft threshold.
	// Default: 50ms.
	DelayStep time.Duration

	// MaxDelay caps the artificial latency. Default: 3s.
	MaxDelay time.Duration
}

// DefaultAdmissionConfig returns production defaults.
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		RequestsPerMinute: 120,
		Burst:             20,
		SoftThreshold:     300,
		SoftWindow:        5 * time.Minute,
		DelayStep:         50 * time.Millisecond,
		MaxDelay:          3 * time.Second,
	}
}

// callerState tracks one caller's bucket and soft-tier window.
type callerState struct {
	limiter     *rate.Limiter
	windowStart time.Time
	windowCount int
	lastSeen    time.Time
}

// Admission is the per-caller rate/backpressure shaper in front of the
// mutation pipeline. It applies only to HTTP-facing write entry points, not
// to the push transport's message stream.
//
// # Thread Safety
//
// Safe for concurrent use; the caller table is guarded by a mutex.
type Admission struct {
	cfg AdmissionConfig

	mu      sync.Mutex
	callers map[string]*callerState

	// sleep is swapped in tests to avoid real delays.
	sleep func(time.Duration)
}

// NewAdmission creates admission control with cfg, filling zero fields from
// DefaultAdmissionConfig.
func NewAdmission(cfg AdmissionConfig) *Admission {
	def := DefaultAdmissionConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.SoftThreshold <= 0 {
		cfg.SoftThreshold = def.SoftThreshold
	}
	if cfg.SoftWindow <= 0 {
		cfg.SoftWindow = def.SoftWindow
	}
	if cfg.DelayStep <= 0 {
		cfg.DelayStep = def.DelayStep
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Admission{
		cfg:     cfg,
		callers: make(map[string]*callerState),
		sleep:   time.Sleep,
	}
}

// Middleware returns the gin middleware enforcing admission control.
//
// The caller key is the resolved identity id when present, else the client
// IP, so the budget follows the session rather than the address where
// possible. Excess requests are rejected with 429; sustained high volume
// below rejection gets progressively delayed first.
func (a *Admission) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if ident, ok := GetIdentity(c); ok && ident.ID != "" {
			key = ident.ID
		}

		delay, allowed := a.admit(key, time.Now())
		if delay > 0 {
			a.sleep(delay)
		}
		if !allowed {
			observability.RateLimitedTotal.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limited",
			})
			return
		}
		c.Next()
	}
}

// admit records one request for key and returns the soft-tier delay to apply
// and whether the hard tier admits the request.
func (a *Admission) admit(key string, now time.Time) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.callers[key]
	if !ok {
		st = &callerState{
			limiter:     rate.NewLimiter(rate.Limit(float64(a.cfg.RequestsPerMinute)/60.0), a.cfg.Burst),
			windowStart: now,
			lastSeen:    now, // must predate pruneLocked or the new entry evicts itself
		}
		a.callers[key] = st
		a.pruneLocked(now)
	}
	st.lastSeen = now

	if now.Sub(st.windowStart) > a.cfg.SoftWindow {
		st.windowStart = now
		st.windowCount = 0
	}
	st.windowCount++

	var delay time.Duration
	if over := st.windowCount - a.cfg.SoftThreshold; over > 0 {
		delay = time.Duration(over) * a.cfg.DelayStep
		if delay > a.cfg.MaxDelay {
			delay = a.cfg.MaxDelay
		}
	}
	return delay, st.limiter.AllowN(now, 1)
}

// pruneLocked drops callers idle for two soft windows. Called with a.mu held,
// only on the new-caller path so the steady state pays nothing.
func (a *Admission) pruneLocked(now time.Time) {
	cutoff := now.Add(-2 * a.cfg.SoftWindow)
	for key, st := range a.callers {
		if st.lastSeen.Before(cutoff) {
			delete(a.callers, key)
		}
	}
}
