// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package service implements the mutation pipeline: every write operation on
// counters runs through here as one sequential unit — validate, authorize,
// persist, then publish — with a single error path.
//
// Authorization failures return before any side effect. Store failures after
// the write (a missed broadcast) are non-corrupting: the store is the source
// of truth and a client's next snapshot reconciles.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jinterlante1206/LiveTally/services/tally/broadcast"
	"github.com/jinterlante1206/LiveTally/services/tally/counter"
	"github.com/jinterlante1206/LiveTally/services/tally/datatypes"
	"github.com/jinterlante1206/LiveTally/services/tally/identity"
	"github.com/jinterlante1206/LiveTally/services/tally/jointoken"
	"github.com/jinterlante1206/LiveTally/services/tally/observability"
)

// Service is the mutation pipeline over the counter store, the join-token
// registry, and the broadcast router.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the injected components.
type Service struct {
	counters *counter.Store
	tokens   *jointoken.Registry
	router   *broadcast.Router

	// commitMu serializes increment commit + event enqueue per counter, so
	// updated events leave in commit order. Holding it across Publish is fine:
	// Publish never blocks on a subscriber.
	mu       sync.Mutex
	commitMu map[string]*sync.Mutex
}

// New creates the service. The router may be nil only in tests that do not
// exercise publishing.
func New(counters *counter.Store, tokens *jointoken.Registry, router *broadcast.Router) *Service {
	return &Service{
		counters: counters,
		tokens:   tokens,
		router:   router,
		commitMu: make(map[string]*sync.Mutex),
	}
}

// counterLock returns the commit-order lock for counterID, creating it on
// first use. Locks are never removed; counters are never deleted either.
func (s *Service) counterLock(counterID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.commitMu[counterID]
	if !ok {
		mu = &sync.Mutex{}
		s.commitMu[counterID] = mu
	}
	return mu
}

// SetRouter attaches the broadcast router. The router needs the service as
// its snapshot source, so wiring is a two-step dance at startup.
func (s *Service) SetRouter(router *broadcast.Router) {
	s.router = router
}

// CreateCounter creates a counter owned by ident and announces it.
//
// # Description
//
// Name format is validated at the HTTP layer; this method requires only a
// resolved identity. Public counters are announced on "public", private ones
// on the owner's private channel. Create-then-grant is one store transaction;
// the publish follows on the same goroutine.
func (s *Service) CreateCounter(ctx context.Context, ident identity.Identity, name string, visibility counter.Visibility) (counter.Counter, error) {
	if ident.ID == "" {
		return counter.Counter{}, ErrUnauthenticated
	}

	c, err := s.counters.Create(ctx, name, visibility, ident.ID)
	if err != nil {
		return counter.Counter{}, err
	}

	ev := datatypes.Event{Name: datatypes.EventCreated, Data: c.View()}
	if c.Visibility == counter.Public {
		s.router.Publish(broadcast.ChannelPublic, ev)
	} else {
		s.router.Publish(broadcast.PrivateChannel(ident.ID), ev)
	}

	slog.Info("counter created",
		"counter", c.ID, "name", c.Name, "visibility", c.Visibility, "owner", ident.ID)
	return c, nil
}

// IncrementCounter adds one to the counter and broadcasts the new state.
//
// # Description
//
// Private counters require a grant held by ident; the check happens before
// the write, so a Forbidden request has no side effects. The committed
// post-state is always published to "counter:<id>", and additionally to
// "public" for public counters or to every current grantee's private channel
// for private ones. A per-counter lock spans commit and enqueue: without it
// a goroutine could commit value n, lose the CPU, and publish after the
// goroutine that committed n+1 already did.
func (s *Service) IncrementCounter(ctx context.Context, ident identity.Identity, counterID string) (counter.Counter, error) {
	c, err := s.counters.Get(ctx, counterID)
	if err != nil {
		return counter.Counter{}, err
	}

	if c.Visibility == counter.Private {
		if err := s.requireGrant(ctx, ident, counterID); err != nil {
			return counter.Counter{}, err
		}
	}

	mu := s.counterLock(counterID)
	mu.Lock()
	defer mu.Unlock()

	c, err = s.counters.Increment(ctx, counterID)
	if err != nil {
		return counter.Counter{}, err
	}
	observability.IncrementsTotal.Inc()

	ev := datatypes.Event{Name: datatypes.EventUpdated, Data: c.View()}
	s.router.Publish(broadcast.CounterChannel(c.ID), ev)

	if c.Visibility == counter.Public {
		s.router.Publish(broadcast.ChannelPublic, ev)
		return c, nil
	}

	// Grants can change over the counter's lifetime, so enumerate them at
	// publish time.
	grantees, err := s.counters.Grantees(ctx, c.ID)
	if err != nil {
		// The increment is committed; a missed broadcast is recoverable by
		// the client's next snapshot, never by retrying the write.
		slog.Error("grantee enumeration failed after increment",
			"counter", c.ID, "error", err)
		return c, nil
	}
	for _, granteeID := range grantees {
		s.router.Publish(broadcast.PrivateChannel(granteeID), ev)
	}
	return c, nil
}

// ShareCounter issues a join token for counterID.
//
// Public counters are always shareable; private ones require ident to be the
// owner or an existing grantee.
func (s *Service) ShareCounter(ctx context.Context, ident identity.Identity, counterID string) (string, error) {
	c, err := s.counters.Get(ctx, counterID)
	if err != nil {
		return "", err
	}

	if c.Visibility == counter.Private {
		if err := s.requireGrant(ctx, ident, counterID); err != nil {
			return "", err
		}
	}

	token, err := s.tokens.Issue(ctx, c.Name, c.ID)
	if err != nil {
		return "", err
	}
	slog.Info("counter shared", "counter", c.ID, "by", ident.ID)
	return token, nil
}

// JoinCounter redeems a join token for ident.
//
// Idempotent: redeeming a token for an identity that already holds the grant
// succeeds without duplicating it. The token itself is not consumed; it stays
// redeemable until it expires.
func (s *Service) JoinCounter(ctx context.Context, ident identity.Identity, token string) (counter.Counter, error) {
	if ident.ID == "" {
		return counter.Counter{}, ErrUnauthenticated
	}

	counterID, err := s.tokens.Lookup(ctx, token)
	if err != nil {
		return counter.Counter{}, err
	}

	c, err := s.counters.Get(ctx, counterID)
	if err != nil {
		// Token outlived its counter; treat as an invalid link rather than
		// leaking the dangling id.
		return counter.Counter{}, jointoken.ErrInvalidToken
	}

	if err := s.counters.Grant(ctx, ident.ID, counterID); err != nil {
		return counter.Counter{}, fmt.Errorf("redeem token: %w", err)
	}
	slog.Info("counter joined", "counter", counterID, "identity", ident.ID)
	return c, nil
}

// =============================================================================
// Snapshots (broadcast.SnapshotSource)
// =============================================================================

// PublicSnapshot returns the public counter list in the default order.
func (s *Service) PublicSnapshot(ctx context.Context) ([]datatypes.CounterView, error) {
	counters, err := s.counters.ListPublic(ctx, counter.OrderTrending)
	if err != nil {
		return nil, err
	}
	return views(counters), nil
}

// PrivateSnapshot returns the private counters identityID holds grants for.
func (s *Service) PrivateSnapshot(ctx context.Context, identityID string) ([]datatypes.CounterView, error) {
	if identityID == "" {
		return []datatypes.CounterView{}, nil
	}
	counters, err := s.counters.ListPrivateFor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return views(counters), nil
}

// ListPublic returns public counters for the HTTP list endpoint.
func (s *Service) ListPublic(ctx context.Context, order counter.Order) ([]datatypes.CounterView, error) {
	counters, err := s.counters.ListPublic(ctx, order)
	if err != nil {
		return nil, err
	}
	return views(counters), nil
}

func (s *Service) requireGrant(ctx context.Context, ident identity.Identity, counterID string) error {
	if ident.ID == "" {
		return ErrUnauthenticated
	}
	ok, err := s.counters.HasGrant(ctx, ident.ID, counterID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func views(counters []counter.Counter) []datatypes.CounterView {
	out := make([]datatypes.CounterView, 0, len(counters))
	for _, c := range counters {
		out = append(out, c.View())
	}
	return out
}
