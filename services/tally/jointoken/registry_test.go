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
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jinterlante1206/LiveTally/services/tally/storage/badger"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRegistry_IssueAndLookup(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newTestDB(t), DefaultTTL)

	token, err := reg.Issue(ctx, "My Counter", "counter-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Slugified name plus a 4-digit numeric suffix.
	if ok, _ := regexp.MatchString(`^my-counter-\d{4}$`, token); !ok {
		t.Errorf("token %q does not match the slug-suffix shape", token)
	}

	counterID, err := reg.Lookup(ctx, token)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if counterID != "counter-1" {
		t.Errorf("Lookup returned %q, want counter-1", counterID)
	}
}

func TestRegistry_LookupUnknownToken(t *testing.T) {
	reg := NewRegistry(newTestDB(t), DefaultTTL)

	_, err := reg.Lookup(context.Background(), "does-not-exist-0000")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRegistry_LookupExpiredToken(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newTestDB(t), time.Millisecond)

	token, err := reg.Issue(ctx, "short lived", "counter-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// Expired even though the sweeper has not removed the row yet.
	_, err = reg.Lookup(ctx, token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestRegistry_TokenSurvivesRedemption(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newTestDB(t), DefaultTTL)

	token, err := reg.Issue(ctx, "shared", "counter-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Multiple identities may redeem the same link until it expires.
	for i := 0; i < 3; i++ {
		if _, err := reg.Lookup(ctx, token); err != nil {
			t.Fatalf("Lookup %d failed: %v", i, err)
		}
	}
}

func TestRegistry_Sweep(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newTestDB(t), 50*time.Millisecond)

	stale, err := reg.Issue(ctx, "stale", "counter-1")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	live, err := reg.Issue(ctx, "live", "counter-2")
	if err != nil {
		t.Fatal(err)
	}

	removed, err := reg.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep removed %d tokens, want 1", removed)
	}

	if _, err := reg.Lookup(ctx, stale); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected swept token to be invalid, got %v", err)
	}
	if _, err := reg.Lookup(ctx, live); err != nil {
		t.Errorf("live token should survive the sweep: %v", err)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newTestDB(t), DefaultTTL)

	sweeper := NewSweeper(reg, SweeperConfig{Interval: 5 * time.Millisecond})
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sweeper.Start(ctx); err == nil {
		t.Error("second Start should fail while running")
	}
	time.Sleep(20 * time.Millisecond) // let a few cycles run

	sweeper.Stop()
	sweeper.Stop() // idempotent

	// Stopped sweepers can be restarted.
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	sweeper.Stop()
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"My Counter", "my-counter"},
		{"demo", "demo"},
		{"  spaced  out  ", "spaced-out"},
		{"CAPS 123", "caps-123"},
	}
	for _, tc := range cases {
		if got := slugify(tc.in); got != tc.want {
			t.Errorf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
