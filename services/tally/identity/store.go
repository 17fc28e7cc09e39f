// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/jinterlante1206/LiveTally/services/tally/storage/badger"
)

// Key prefixes inside the shared database.
//
//	identity/<id>    -> Identity JSON
//	cred/<secret>    -> identity id
//	name/<display>   -> identity id (uniqueness index, case-sensitive)
const (
	prefixIdentity   = "identity/"
	prefixCredential = "cred/"
	prefixName       = "name/"
)

// escalateRetries bounds transaction retries when two callers race for the
// same display name.
const escalateRetries = 3

// Store is the persistent identity store.
//
// # Thread Safety
//
// Safe for concurrent use; all mutations run inside Badger transactions.
type Store struct {
	db     *badger.DB
	hasher PasswordHasher
}

// NewStore creates an identity store over db. If hasher is nil, BcryptHasher
// is used.
func NewStore(db *badger.DB, hasher PasswordHasher) *Store {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &Store{db: db, hasher: hasher}
}

// Provision creates and persists a fresh anonymous identity.
//
// # Description
//
// Generates a new id and credential, writes the identity row and the
// credential index in one transaction, and returns the identity. This is the
// only write the session resolver performs, and only on first contact.
//
// # Outputs
//
//   - Identity: The new anonymous identity.
//   - error: Non-nil if persistence fails; the caller degrades to "no
//     identity resolved" for that request rather than aborting it.
func (s *Store) Provision(ctx context.Context) (Identity, error) {
	cred, err := newCredential()
	if err != nil {
		return Identity{}, fmt.Errorf("generate credential: %w", err)
	}
	ident := Identity{
		ID:         uuid.NewString(),
		Credential: cred,
		CreatedAt:  nowMillis(),
	}

	err = s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return writeIdentity(txn, ident)
	})
	if err != nil {
		return Identity{}, fmt.Errorf("provision identity: %w", err)
	}
	return ident, nil
}

// ResolveCredential returns the identity the credential resolves to, or
// ErrNotFound if the credential is unknown.
func (s *Store) ResolveCredential(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrNotFound
	}

	var ident Identity
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		id, err := readIndex(txn, prefixCredential+credential)
		if err != nil {
			return err
		}
		ident, err = readIdentity(txn, id)
		return err
	})
	if err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// Get returns the identity with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Identity, error) {
	var ident Identity
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		var err error
		ident, err = readIdentity(txn, id)
		return err
	})
	if err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// Escalate binds displayName and password to the given anonymous identity.
//
// # Description
//
// The identity keeps its id, so counters and grants already tied to it are
// unaffected. The display name uniqueness index is checked and written in the
// same transaction; a losing racer observes ErrNameTaken, never a duplicate.
//
// # Inputs
//
//   - ctx: Request context.
//   - ident: The caller's current identity, as resolved by the session layer.
//   - displayName: Already format-validated by the HTTP layer.
//   - password: Already length-validated by the HTTP layer.
//
// # Outputs
//
//   - Identity: The named identity (same id, display name and hash bound).
//   - error: ErrNameTaken, ErrAlreadyNamed, or a wrapped store error.
func (s *Store) Escalate(ctx context.Context, ident Identity, displayName, password string) (Identity, error) {
	if ident.IsNamed() {
		return Identity{}, ErrAlreadyNamed
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}
	named := ident.Escalate(displayName, hash)

	for attempt := 0; attempt < escalateRetries; attempt++ {
		err = s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
			_, err := readIndex(txn, prefixName+displayName)
			switch {
			case err == nil:
				return ErrNameTaken
			case !errors.Is(err, ErrNotFound):
				return err
			}
			if err := writeIdentity(txn, named); err != nil {
				return err
			}
			return txn.Set([]byte(prefixName+displayName), []byte(named.ID))
		})
		if !errors.Is(err, badgerdb.ErrConflict) {
			break
		}
	}
	if err != nil {
		return Identity{}, err
	}
	return named, nil
}

// Login resolves displayName and verifies password against the stored hash.
//
// Unknown names and wrong passwords both return ErrInvalidCredentials; the
// two causes are indistinguishable to the caller by design.
func (s *Store) Login(ctx context.Context, displayName, password string) (Identity, error) {
	var ident Identity
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		id, err := readIndex(txn, prefixName+displayName)
		if err != nil {
			return err
		}
		ident, err = readIdentity(txn, id)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, err
	}
	if !s.hasher.Verify(password, ident.PasswordHash) {
		return Identity{}, ErrInvalidCredentials
	}
	return ident, nil
}

// =============================================================================
// Transaction Helpers
// =============================================================================

func writeIdentity(txn *badgerdb.Txn, ident Identity) error {
	raw, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := txn.Set([]byte(prefixIdentity+ident.ID), raw); err != nil {
		return err
	}
	return txn.Set([]byte(prefixCredential+ident.Credential), []byte(ident.ID))
}

func readIdentity(txn *badgerdb.Txn, id string) (Identity, error) {
	item, err := txn.Get([]byte(prefixIdentity + id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, err
	}

	var ident Identity
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ident)
	})
	if err != nil {
		return Identity{}, fmt.Errorf("decode identity %s: %w", id, err)
	}
	return ident, nil
}

// readIndex reads a single-value index key, mapping key-not-found onto
// ErrNotFound.
func readIndex(txn *badgerdb.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// newCredential returns a 32-hex-char secret bearer value.
func newCredential() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
