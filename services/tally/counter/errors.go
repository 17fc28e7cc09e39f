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

import "errors"

// Sentinel errors for the counter package.
var (
	// ErrNotFound indicates no counter exists with the given id.
	ErrNotFound = errors.New("counter not found")

	// ErrContention indicates an increment kept losing the transaction
	// conflict race beyond the retry budget. Callers may retry the request.
	ErrContention = errors.New("counter under too much contention")
)
