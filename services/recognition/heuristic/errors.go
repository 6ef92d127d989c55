// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package heuristic

import "errors"

var (
	// ErrUnreachable is returned by an Estimator for a goal with no path.
	ErrUnreachable = errors.New("goal unreachable")

	// ErrTerminated is returned after Manager.Terminate.
	ErrTerminated = errors.New("heuristic manager terminated")

	// ErrNilEstimator indicates a Manager built without an estimator.
	ErrNilEstimator = errors.New("estimator must not be nil")
)
