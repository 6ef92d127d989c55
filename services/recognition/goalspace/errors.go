// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package goalspace

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/goalrec/services/recognition/fact"
)

var (
	// ErrInconsistentGoalSpace indicates a group whose probabilities do not
	// sum to one, or a hypothesis whose members exclude each other.
	ErrInconsistentGoalSpace = errors.New("inconsistent goal space")

	// ErrProbabilityRange indicates a write outside [0, 1].
	ErrProbabilityRange = errors.New("probability out of range")

	// ErrUnknownFact indicates a fact that no group owns.
	ErrUnknownFact = errors.New("fact not in goal space")

	// ErrUnknownGroup indicates a group index out of range.
	ErrUnknownGroup = errors.New("unknown mutex group")
)

// InconsistencyError describes a verification failure.
//
// It unwraps to ErrInconsistentGoalSpace.
type InconsistencyError struct {
	// Group is the offending group, or -1 for a hypothesis conflict.
	Group GroupID

	// Sum is the group's probability mass when Group >= 0.
	Sum float64

	// Facts are the facts involved.
	Facts []fact.ID

	// Reason is a short description.
	Reason string
}

// Error implements error.
func (e *InconsistencyError) Error() string {
	if e.Group >= 0 {
		return fmt.Sprintf("%s: group %d sums to %.9f (%s)", ErrInconsistentGoalSpace, e.Group, e.Sum, e.Reason)
	}
	return fmt.Sprintf("%s: facts %v (%s)", ErrInconsistentGoalSpace, e.Facts, e.Reason)
}

// Unwrap returns ErrInconsistentGoalSpace.
func (e *InconsistencyError) Unwrap() error {
	return ErrInconsistentGoalSpace
}
