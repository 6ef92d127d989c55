// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package journal

import "errors"

var (
	// ErrJournalClosed is returned when operating on a closed journal.
	ErrJournalClosed = errors.New("journal is closed")

	// ErrInvalidConfig is returned when the journal configuration is invalid.
	ErrInvalidConfig = errors.New("invalid journal config")

	// ErrCorruptEntry is returned when a stored entry cannot be decoded.
	ErrCorruptEntry = errors.New("journal entry corrupted")
)
