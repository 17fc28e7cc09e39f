// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package service

import "errors"

// Sentinel errors for the service layer.
var (
	// ErrUnauthenticated indicates no identity could be resolved where one
	// is required. Surfaced as 401.
	ErrUnauthenticated = errors.New("no identity resolved")

	// ErrForbidden indicates the resolved identity lacks the grant or
	// ownership the operation requires. Surfaced as 403.
	ErrForbidden = errors.New("identity lacks access to this counter")
)
