// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package domain

import "github.com/AleutianAI/goalrec/services/recognition/fact"

// Action is a grounded, fully observed operator.
type Action struct {
	// Name is the grounded signature, e.g. "drive truck1 a b".
	Name string

	// Pre, Add and Del are the precondition, add and delete lists.
	Pre []fact.ID
	Add []fact.ID
	Del []fact.ID

	// Cost is the action cost. Zero is read as unit cost.
	Cost float64
}

// EffectiveCost returns Cost, or 1 when no cost was given.
func (a Action) EffectiveCost() float64 {
	if a.Cost <= 0 {
		return 1
	}
	return a.Cost
}

// State is an immutable snapshot of the facts that hold.
type State struct {
	facts fact.Set
}

// NewState creates a State in which exactly ids hold.
func NewState(ids ...fact.ID) State {
	return State{facts: fact.NewSet(ids...)}
}

// Has reports whether id holds.
func (s State) Has(id fact.ID) bool {
	return s.facts.Has(id)
}

// Len returns the number of facts that hold.
func (s State) Len() int {
	return len(s.facts)
}

// Facts returns the facts that hold in ascending ID order.
func (s State) Facts() []fact.ID {
	return s.facts.Sorted()
}

// Satisfies reports whether every precondition of a holds.
func (s State) Satisfies(a Action) bool {
	for _, p := range a.Pre {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Apply returns the successor of s under a. Deletes are applied before adds.
// The receiver is not modified.
func (s State) Apply(a Action) State {
	next := s.facts.Clone()
	for _, d := range a.Del {
		next.Remove(d)
	}
	for _, ad := range a.Add {
		next.Add(ad)
	}
	return State{facts: next}
}

// Equal reports whether both states hold the same facts.
func (s State) Equal(o State) bool {
	return s.facts.Equal(o.facts)
}
