// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recognition

import (
	"errors"

	"github.com/AleutianAI/goalrec/services/recognition/hypothesis"
)

var (
	// ErrUnknownEstimate is returned when no finite estimate of the steps
	// remaining exists. Callers are expected to fall back to their own guess.
	ErrUnknownEstimate = errors.New("steps remaining unknown")

	// ErrTerminated is returned by a terminated Recognizer.
	ErrTerminated = errors.New("recognizer terminated")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid recognizer config")

	// ErrInvalidBound is returned by BoundedHypotheses for k < 1.
	ErrInvalidBound = hypothesis.ErrInvalidBound
)
