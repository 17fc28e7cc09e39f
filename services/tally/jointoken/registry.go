// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jointoken implements the short-lived share-token registry.
//
// A join token converts into an access grant when redeemed. Tokens are not
// consumed by redemption — any number of identities may redeem the same link —
// but they expire after a fixed TTL and a background sweeper removes them.
package jointoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/jinterlante1206/LiveTally/services/tally/storage/badger"
)

// Sentinel errors for the jointoken package.
var (
	// ErrInvalidToken indicates the token does not exist or has expired.
	ErrInvalidToken = errors.New("invalid or expired join token")

	// ErrExhausted indicates token generation kept colliding with existing
	// tokens beyond the retry budget.
	ErrExhausted = errors.New("could not generate a unique join token")
)

// prefixToken namespaces token rows inside the shared database.
const prefixToken = "token/"

// issueRetries bounds suffix regeneration when a generated token collides
// with an existing row. Collisions are tolerated by design: the token space
// is only guarded by the primary-key check here.
const issueRetries = 5

// DefaultTTL is how long a join token stays redeemable.
const DefaultTTL = 7 * 24 * time.Hour

// record is the persisted token row.
type record struct {
	CounterID string `json:"counter_id"`
	CreatedAt int64  `json:"created_at"`
}

// Registry is the persistent join-token registry.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	db  *badger.DB
	ttl time.Duration
}

// NewRegistry creates a registry over db. A non-positive ttl means DefaultTTL.
func NewRegistry(db *badger.DB, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{db: db, ttl: ttl}
}

// TTL returns the configured token lifetime.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Issue creates a token for counterID and returns it.
//
// # Description
//
// The token is the slugified counter name plus a short random numeric suffix,
// so share links stay human-readable. On the rare true collision the insert
// is retried with a fresh suffix.
func (r *Registry) Issue(ctx context.Context, counterName, counterID string) (string, error) {
	slug := slugify(counterName)
	rec, err := json.Marshal(record{CounterID: counterID, CreatedAt: time.Now().UnixMilli()})
	if err != nil {
		return "", fmt.Errorf("encode token record: %w", err)
	}

	for attempt := 0; attempt < issueRetries; attempt++ {
		token := fmt.Sprintf("%s-%04d", slug, rand.Intn(10000))
		collided := false

		err := r.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
			_, err := txn.Get([]byte(prefixToken + token))
			if err == nil {
				collided = true
				return nil
			}
			if !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return err
			}
			return txn.Set([]byte(prefixToken+token), rec)
		})
		if err != nil {
			return "", fmt.Errorf("issue join token: %w", err)
		}
		if !collided {
			return token, nil
		}
	}
	return "", ErrExhausted
}

// Lookup resolves a token to its counter id.
//
// Returns ErrInvalidToken for unknown tokens and for tokens past their TTL,
// even if the sweeper has not removed the row yet.
func (r *Registry) Lookup(ctx context.Context, token string) (string, error) {
	var rec record
	err := r.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(prefixToken + token))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return "", err
	}
	if r.expired(rec, time.Now()) {
		return "", ErrInvalidToken
	}
	return rec.CounterID, nil
}

// Sweep deletes expired tokens and returns how many were removed.
//
// Runs decoupled from request handling; an in-flight Lookup racing a Sweep
// sees either the live row or ErrInvalidToken, never a partial state.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	var stale []string

	err := r.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixToken)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode token %s: %w", it.Item().Key(), err)
			}
			if r.expired(rec, now) {
				stale = append(stale, string(it.Item().Key()))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan join tokens: %w", err)
	}

	for _, key := range stale {
		err := r.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
			return txn.Delete([]byte(key))
		})
		if err != nil {
			return 0, fmt.Errorf("delete expired token: %w", err)
		}
	}
	return len(stale), nil
}

func (r *Registry) expired(rec record, now time.Time) bool {
	return now.Sub(time.UnixMilli(rec.CreatedAt)) > r.ttl
}

// slugify lowercases name and replaces runs of non-alphanumerics with single
// dashes: "My Counter" -> "my-counter".
func slugify(name string) string {
	var b strings.Builder
	lastDash := true // suppress leading dash
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
