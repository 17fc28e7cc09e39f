// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jointoken

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SweeperConfig holds configuration for the background token sweeper.
type SweeperConfig struct {
	// Interval is how often to run a sweep cycle. Default: 1 hour.
	Interval time.Duration
}

// DefaultSweeperConfig returns production defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{Interval: 1 * time.Hour}
}

// Sweeper periodically removes expired join tokens.
//
// # Description
//
// Runs the registry's Sweep on a fixed interval, fully decoupled from request
// handling. Uses the ticker + done channel pattern for graceful shutdown.
//
// # Thread Safety
//
// All public methods are thread-safe; a mutex protects the running state.
type Sweeper struct {
	registry *Registry
	config   SweeperConfig
	done     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSweeper creates a sweeper over registry. Not started until Start().
func NewSweeper(registry *Registry, config SweeperConfig) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweeperConfig().Interval
	}
	return &Sweeper{
		registry: registry,
		config:   config,
		done:     make(chan struct{}),
	}
}

// Start begins background sweeping.
//
// Returns an error if the sweeper is already running. The loop stops when
// Stop() is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{}) // reset for potential restart
	s.mu.Unlock()

	slog.Info("join token sweeper starting",
		"interval", s.config.Interval.String(),
		"ttl", s.registry.TTL().String(),
	)

	go s.runLoop(ctx)
	return nil
}

// Stop signals the sweeper to stop. Safe to call multiple times. Does not
// interrupt an in-progress sweep cycle.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	slog.Info("join token sweeper stopping")
	close(s.done)
	s.running = false
}

func (s *Sweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Sweeper) runCycle(ctx context.Context) {
	start := time.Now()
	removed, err := s.registry.Sweep(ctx)
	if err != nil {
		slog.Error("join token sweep failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("join token sweep completed",
			"removed", removed,
			"duration", time.Since(start).String(),
		)
	}
}
