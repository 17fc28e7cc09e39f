// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity implements the identity model and its persistent store.
//
// An identity is either anonymous (auto-provisioned on first contact, no
// display name) or named (a display name and password hash are bound to it).
// Escalation turns an anonymous identity into a named one WITHOUT changing
// its id, which is what lets counters created before registration stay owned
// by the caller. Identities are never deleted; logout simply provisions a new
// anonymous identity for the session.
package identity

import "time"

// Identity is an immutable identity value.
//
// The zero value is not a valid identity; use Store.Provision or
// Store.ResolveCredential to obtain one. Escalation produces a new value with
// the same ID rather than mutating fields in place.
type Identity struct {
	// ID is the stable opaque id. Ownership and grants reference it, so it
	// must survive escalation.
	ID string `json:"id"`

	// Credential is the secret bearer value that resolves to this identity.
	Credential string `json:"credential"`

	// DisplayName is set only for named identities. Unique across the store,
	// case-sensitive.
	DisplayName string `json:"display_name,omitempty"`

	// PasswordHash is set only for named identities.
	PasswordHash string `json:"password_hash,omitempty"`

	// CreatedAt is when the identity was first provisioned, Unix milliseconds.
	CreatedAt int64 `json:"created_at"`
}

// IsNamed reports whether a display name has been bound to this identity.
func (i Identity) IsNamed() bool {
	return i.DisplayName != ""
}

// Escalate returns the named identity produced by binding displayName and
// passwordHash to this identity. The id and credential are preserved.
func (i Identity) Escalate(displayName, passwordHash string) Identity {
	return Identity{
		ID:           i.ID,
		Credential:   i.Credential,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    i.CreatedAt,
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
