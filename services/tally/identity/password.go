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

import "golang.org/x/crypto/bcrypt"

// PasswordHasher abstracts password hashing and verification so the store can
// be tested with a cheap implementation and the hashing primitive can be
// swapped without touching login/escalation logic.
type PasswordHasher interface {
	// Hash returns the hash to persist for password.
	Hash(password string) (string, error)

	// Verify reports whether password matches hash.
	Verify(password, hash string) bool
}

// BcryptHasher is the production PasswordHasher.
type BcryptHasher struct {
	// Cost is the bcrypt cost parameter. Zero means bcrypt.DefaultCost.
	Cost int
}

// Hash hashes password with bcrypt.
func (b BcryptHasher) Hash(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches the bcrypt hash.
func (b BcryptHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
