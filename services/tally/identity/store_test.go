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
	"errors"
	"testing"

	"github.com/jinterlante1206/LiveTally/services/tally/storage/badger"
)

// plainHasher is a cheap PasswordHasher for tests.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }
func (plainHasher) Verify(password, hash string) bool    { return hash == "plain:"+password }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, plainHasher{})
}

func TestStore_ProvisionAndResolve(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ident, err := store.Provision(ctx)
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if ident.ID == "" || ident.Credential == "" {
		t.Fatalf("expected id and credential to be set, got %+v", ident)
	}
	if ident.IsNamed() {
		t.Error("freshly provisioned identity should be anonymous")
	}

	resolved, err := store.ResolveCredential(ctx, ident.Credential)
	if err != nil {
		t.Fatalf("ResolveCredential failed: %v", err)
	}
	if resolved.ID != ident.ID {
		t.Errorf("credential resolved to %q, want %q", resolved.ID, ident.ID)
	}
}

func TestStore_ResolveUnknownCredential(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ResolveCredential(context.Background(), "no-such-credential")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = store.ResolveCredential(context.Background(), "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty credential, got %v", err)
	}
}

func TestStore_Escalate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	anon, err := store.Provision(ctx)
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	t.Run("preserves id and credential", func(t *testing.T) {
		named, err := store.Escalate(ctx, anon, "alice_01", "hunter22")
		if err != nil {
			t.Fatalf("Escalate failed: %v", err)
		}
		if named.ID != anon.ID {
			t.Errorf("escalation changed id: got %q, want %q", named.ID, anon.ID)
		}
		if named.Credential != anon.Credential {
			t.Errorf("escalation changed credential")
		}
		if !named.IsNamed() {
			t.Error("escalated identity should be named")
		}

		// The same credential must now resolve to the named identity.
		resolved, err := store.ResolveCredential(ctx, anon.Credential)
		if err != nil {
			t.Fatalf("ResolveCredential failed: %v", err)
		}
		if resolved.DisplayName != "alice_01" {
			t.Errorf("resolved display name %q, want %q", resolved.DisplayName, "alice_01")
		}
	})

	t.Run("rejects taken display name", func(t *testing.T) {
		other, err := store.Provision(ctx)
		if err != nil {
			t.Fatalf("Provision failed: %v", err)
		}
		_, err = store.Escalate(ctx, other, "alice_01", "password")
		if !errors.Is(err, ErrNameTaken) {
			t.Errorf("expected ErrNameTaken, got %v", err)
		}
	})

	t.Run("display names are case sensitive", func(t *testing.T) {
		other, err := store.Provision(ctx)
		if err != nil {
			t.Fatalf("Provision failed: %v", err)
		}
		if _, err := store.Escalate(ctx, other, "Alice_01", "password"); err != nil {
			t.Errorf("expected different-cased name to be available, got %v", err)
		}
	})

	t.Run("rejects escalating a named identity", func(t *testing.T) {
		named, err := store.ResolveCredential(ctx, anon.Credential)
		if err != nil {
			t.Fatalf("ResolveCredential failed: %v", err)
		}
		_, err = store.Escalate(ctx, named, "bob_02", "password")
		if !errors.Is(err, ErrAlreadyNamed) {
			t.Errorf("expected ErrAlreadyNamed, got %v", err)
		}
	})
}

func TestStore_Login(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	anon, err := store.Provision(ctx)
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if _, err := store.Escalate(ctx, anon, "carol", "secret99"); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}

	t.Run("success returns the existing credential", func(t *testing.T) {
		ident, err := store.Login(ctx, "carol", "secret99")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if ident.ID != anon.ID {
			t.Errorf("login resolved id %q, want %q", ident.ID, anon.ID)
		}
		if ident.Credential != anon.Credential {
			t.Error("login must return the identity's existing credential")
		}
	})

	t.Run("wrong password and unknown name are indistinguishable", func(t *testing.T) {
		_, errWrongPass := store.Login(ctx, "carol", "wrong")
		_, errNoUser := store.Login(ctx, "nobody", "secret99")

		if !errors.Is(errWrongPass, ErrInvalidCredentials) {
			t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", errWrongPass)
		}
		if !errors.Is(errNoUser, ErrInvalidCredentials) {
			t.Errorf("unknown name: expected ErrInvalidCredentials, got %v", errNoUser)
		}
		if errWrongPass.Error() != errNoUser.Error() {
			t.Error("the two failure causes must produce identical errors")
		}
	})
}

func TestIdentity_EscalateValue(t *testing.T) {
	anon := Identity{ID: "id-1", Credential: "cred-1", CreatedAt: 42}
	named := anon.Escalate("dave", "hash")

	if named.ID != anon.ID || named.Credential != anon.Credential || named.CreatedAt != anon.CreatedAt {
		t.Errorf("Escalate must preserve id, credential and creation time: %+v", named)
	}
	if anon.IsNamed() {
		t.Error("Escalate must not mutate the receiver")
	}
}
