// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package counter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/jinterlante1206/LiveTally/services/tally/storage/badger"
)

// Key prefixes inside the shared database.
//
//	counter/<id>                  -> Counter JSON
//	grant/<identityId>/<counterId> -> empty (forward index: list for identity)
//	cgrant/<counterId>/<identityId> -> empty (reverse index: grantees)
//
// Grants are written under both orderings so "which private counters can X
// see" and "who must hear about counter C" are each a single prefix scan.
const (
	prefixCounter      = "counter/"
	prefixGrant        = "grant/"
	prefixGrantReverse = "cgrant/"
)

// incrementRetries bounds transaction retries under write contention for a
// single counter. Each retry re-reads the committed value, so no update is
// ever lost; the bound only caps latency under pathological contention.
const incrementRetries = 64

// Store is the persistent counter and grant store.
//
// # Thread Safety
//
// Safe for concurrent use. Increment is atomic per counter: concurrent
// read-modify-writes of the same row are serialized by Badger's transaction
// conflict detection plus retry. Increments to different counters never
// contend.
type Store struct {
	db *badger.DB
}

// NewStore creates a counter store over db.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// Create persists a new counter owned by ownerID.
//
// For private counters the owner's access grant is written in the same
// transaction: a private counter never exists without its owner already able
// to see it.
func (s *Store) Create(ctx context.Context, name string, visibility Visibility, ownerID string) (Counter, error) {
	c := Counter{
		ID:         uuid.NewString(),
		Name:       name,
		Value:      0,
		Visibility: visibility,
		OwnerID:    ownerID,
		CreatedAt:  time.Now().UnixMilli(),
	}

	err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		if err := writeCounter(txn, c); err != nil {
			return err
		}
		if visibility == Private {
			return writeGrant(txn, ownerID, c.ID)
		}
		return nil
	})
	if err != nil {
		return Counter{}, fmt.Errorf("create counter: %w", err)
	}
	return c, nil
}

// Get returns the counter with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Counter, error) {
	var c Counter
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		var err error
		c, err = readCounter(txn, id)
		return err
	})
	if err != nil {
		return Counter{}, err
	}
	return c, nil
}

// Increment atomically adds one to the counter's value and returns the
// committed post-state.
//
// # Description
//
// The read-modify-write runs inside one Badger transaction. When a concurrent
// increment commits first, Commit fails with ErrConflict and the whole
// transaction is retried against the new committed value, so N concurrent
// increments always net exactly +N.
//
// # Outputs
//
//   - Counter: The state as committed by THIS increment. Publishing this
//     value preserves commit order for a single counter.
//   - error: ErrNotFound, ErrContention, or a wrapped store error.
func (s *Store) Increment(ctx context.Context, id string) (Counter, error) {
	var c Counter
	for attempt := 0; attempt < incrementRetries; attempt++ {
		err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
			var err error
			c, err = readCounter(txn, id)
			if err != nil {
				return err
			}
			c.Value++
			return writeCounter(txn, c)
		})
		if errors.Is(err, badgerdb.ErrConflict) {
			continue
		}
		if err != nil {
			return Counter{}, err
		}
		return c, nil
	}
	return Counter{}, ErrContention
}

// ListPublic returns all public counters in the given order.
func (s *Store) ListPublic(ctx context.Context, order Order) ([]Counter, error) {
	var counters []Counter
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		return scanCounters(txn, func(c Counter) {
			if c.Visibility == Public {
				counters = append(counters, c)
			}
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list public counters: %w", err)
	}
	sortCounters(counters, order, time.Now())
	return counters, nil
}

// ListPrivateFor returns the private counters identityID holds a grant for.
func (s *Store) ListPrivateFor(ctx context.Context, identityID string) ([]Counter, error) {
	var counters []Counter
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		ids, err := scanIndex(txn, prefixGrant+identityID+"/")
		if err != nil {
			return err
		}
		for _, id := range ids {
			c, err := readCounter(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue // dangling grant; counter rows are never deleted today
			}
			if err != nil {
				return err
			}
			counters = append(counters, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list private counters: %w", err)
	}
	sortCounters(counters, OrderTrending, time.Now())
	return counters, nil
}

// =============================================================================
// Grants
// =============================================================================

// Grant records that identityID may view and increment counterID.
// Idempotent: granting twice leaves a single grant.
func (s *Store) Grant(ctx context.Context, identityID, counterID string) error {
	err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return writeGrant(txn, identityID, counterID)
	})
	if err != nil {
		return fmt.Errorf("write grant: %w", err)
	}
	return nil
}

// HasGrant reports whether identityID holds a grant for counterID.
func (s *Store) HasGrant(ctx context.Context, identityID, counterID string) (bool, error) {
	var found bool
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(prefixGrant + identityID + "/" + counterID))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("read grant: %w", err)
	}
	return found, nil
}

// Grantees returns the identity ids currently granted access to counterID.
// Queried at publish time, since grants can change over a counter's lifetime.
func (s *Store) Grantees(ctx context.Context, counterID string) ([]string, error) {
	var ids []string
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		var err error
		ids, err = scanIndex(txn, prefixGrantReverse+counterID+"/")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list grantees: %w", err)
	}
	return ids, nil
}

// =============================================================================
// Transaction Helpers
// =============================================================================

func writeCounter(txn *badgerdb.Txn, c Counter) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode counter: %w", err)
	}
	return txn.Set([]byte(prefixCounter+c.ID), raw)
}

func readCounter(txn *badgerdb.Txn, id string) (Counter, error) {
	item, err := txn.Get([]byte(prefixCounter + id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return Counter{}, ErrNotFound
	}
	if err != nil {
		return Counter{}, err
	}

	var c Counter
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &c)
	})
	if err != nil {
		return Counter{}, fmt.Errorf("decode counter %s: %w", id, err)
	}
	return c, nil
}

func writeGrant(txn *badgerdb.Txn, identityID, counterID string) error {
	if err := txn.Set([]byte(prefixGrant+identityID+"/"+counterID), nil); err != nil {
		return err
	}
	return txn.Set([]byte(prefixGrantReverse+counterID+"/"+identityID), nil)
}

// scanCounters iterates every counter row, decoding each into fn.
func scanCounters(txn *badgerdb.Txn, fn func(Counter)) error {
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = []byte(prefixCounter)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var c Counter
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
		if err != nil {
			return fmt.Errorf("decode counter %s: %w", it.Item().Key(), err)
		}
		fn(c)
	}
	return nil
}

// scanIndex returns the trailing key segment for every key under prefix.
func scanIndex(txn *badgerdb.Txn, prefix string) ([]string, error) {
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Rewind(); it.Valid(); it.Next() {
		key := string(it.Item().Key())
		out = append(out, strings.TrimPrefix(key, prefix))
	}
	return out, nil
}
