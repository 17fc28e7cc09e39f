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

import "errors"

// Sentinel errors for the identity package.
var (
	// ErrNameTaken indicates the display name is already bound to another
	// identity. Surfaced as 409 Conflict.
	ErrNameTaken = errors.New("display name already taken")

	// ErrInvalidCredentials indicates login failed. Deliberately covers both
	// "no such display name" and "wrong password" so callers cannot enumerate
	// registered names.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotFound indicates no identity matches the given id or credential.
	ErrNotFound = errors.New("identity not found")

	// ErrAlreadyNamed indicates an escalation attempt on an identity that
	// already has a display name bound.
	ErrAlreadyNamed = errors.New("identity already registered")
)
