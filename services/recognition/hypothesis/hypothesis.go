// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hypothesis extracts one consistent conjunctive goal from the goal
// space.
//
// # Description
//
// Extraction is greedy and deterministic:
//
//  1. Each group nominates its most probable member among the valid facts.
//  2. NoneOfGroup nominees are dropped; they exclude their group.
//  3. Nominees that exclude each other through another group are resolved
//     pairwise by the TieBreaker, in ascending fact order. Losers are marked
//     inferior and skipped.
//  4. Durably achieved facts are added and everything mutex with them is
//     removed.
//
// The hypothesis probability is the mean aggregated probability of its
// members.
package hypothesis

import (
	"slices"

	"github.com/AleutianAI/goalrec/services/recognition/fact"
	"github.com/AleutianAI/goalrec/services/recognition/goalspace"
)

// Hypothesis is a conjunction of goal facts.
type Hypothesis struct {
	// Facts are the members in ascending ID order.
	Facts []fact.ID

	// Probability is the mean probability of the members.
	Probability float64

	// Horizon is the distance bound the hypothesis was restricted to, or 0
	// for an unrestricted hypothesis.
	Horizon int
}

// Empty reports whether the hypothesis has no members.
func (h Hypothesis) Empty() bool {
	return len(h.Facts) == 0
}

// Contains reports whether f is a member.
func (h Hypothesis) Contains(f fact.ID) bool {
	_, found := slices.BinarySearch(h.Facts, f)
	return found
}

// Options tunes an Extractor.
type Options struct {
	// MinimumProbability excludes members below this probability from
	// nomination.
	MinimumProbability float64

	// Verify enables the pairwise-mutex consistency check.
	Verify bool
}

// Extractor builds hypotheses from a goal space.
//
// Thread Safety: not safe for concurrent use with writers of the space.
type Extractor struct {
	space *goalspace.GoalSpace
	facts *fact.Table
	tie   *TieBreaker
	opts  Options
}

// NewExtractor creates an Extractor reading space.
func NewExtractor(space *goalspace.GoalSpace, facts *fact.Table, tie *TieBreaker, opts Options) *Extractor {
	return &Extractor{space: space, facts: facts, tie: tie, opts: opts}
}

// Extract returns the best consistent hypothesis.
//
// Inputs:
//
//	valid - Facts eligible for nomination; nil means every fact.
//	durable - Facts achieved for good; always included.
//	excluded - Facts mutex with a durable fact; always removed.
//
// Outputs:
//
//	Hypothesis - Possibly empty.
//	error - *goalspace.InconsistencyError in verification mode when two
//	        members of the result exclude each other.
func (e *Extractor) Extract(valid, durable, excluded fact.Set) (Hypothesis, error) {
	nominees := e.nominate(valid)
	survivors := e.resolve(nominees)

	members := fact.NewSet(survivors...)
	for f := range durable {
		members.Add(f)
	}
	for f := range excluded {
		members.Remove(f)
	}

	h := Hypothesis{Facts: members.Sorted()}
	if e.opts.Verify {
		if err := e.verify(h.Facts); err != nil {
			return Hypothesis{}, err
		}
	}
	if len(h.Facts) > 0 {
		var sum float64
		for _, f := range h.Facts {
			sum += e.space.Probability(f)
		}
		h.Probability = sum / float64(len(h.Facts))
	}
	return h, nil
}

// verify rejects a member list containing two facts that share a group.
func (e *Extractor) verify(members []fact.ID) error {
	for i, a := range members {
		for _, b := range members[i+1:] {
			if e.space.Mutex(a, b) {
				return &goalspace.InconsistencyError{
					Group:  -1,
					Facts:  []fact.ID{a, b},
					Reason: "hypothesis members are mutex",
				}
			}
		}
	}
	return nil
}

// nominate picks each group's winner and drops NoneOfGroup winners.
func (e *Extractor) nominate(valid fact.Set) []fact.ID {
	winners := fact.NewSet()
	for _, g := range e.space.Groups() {
		best := fact.None
		var bestP float64
		for _, m := range e.space.Members(g) {
			if valid != nil && !valid.Has(m) {
				continue
			}
			p, _ := e.space.GroupProbability(g, m)
			if p < e.opts.MinimumProbability {
				continue
			}
			if best == fact.None || e.beats(m, best, p, bestP) {
				best, bestP = m, p
			}
		}
		if best != fact.None && !e.facts.IsNoneOf(best) {
			winners.Add(best)
		}
	}
	return winners.Sorted()
}

// beats orders two members of one group.
func (e *Extractor) beats(m, best fact.ID, pm, pb float64) bool {
	if pm != pb {
		return pm > pb
	}
	mNone, bNone := e.facts.IsNoneOf(m), e.facts.IsNoneOf(best)
	if mNone != bNone {
		return bNone
	}
	return e.tie.Better(m, best, pm, pb, true)
}

// resolve removes nominees that lose a mutex conflict.
func (e *Extractor) resolve(queue []fact.ID) []fact.ID {
	inferior := fact.NewSet()
	var survivors []fact.ID
	for i, goal := range queue {
		if inferior.Has(goal) {
			continue
		}
		pg := e.space.Probability(goal)
		kept := true
		for _, other := range queue[i+1:] {
			if inferior.Has(other) || !e.space.Mutex(goal, other) {
				continue
			}
			if e.tie.Better(goal, other, pg, e.space.Probability(other), false) {
				inferior.Add(other)
				continue
			}
			kept = false
			break
		}
		if kept {
			survivors = append(survivors, goal)
		}
	}
	return survivors
}

// Bounded extracts one hypothesis per horizon 1..k.
//
// Description:
//
//	For horizon h the valid facts are every NoneOfGroup member plus every
//	positive fact whose current distance is at most h.
//
// Inputs:
//
//	k - Number of horizons. Must be at least 1.
//	distance - Current distance of a fact; false when unknown.
//	durable, excluded - As for Extract.
func (e *Extractor) Bounded(k int, distance func(fact.ID) (float64, bool), durable, excluded fact.Set) ([]Hypothesis, error) {
	if k < 1 {
		return nil, ErrInvalidBound
	}
	facts := e.space.Facts()
	out := make([]Hypothesis, 0, k)
	for horizon := 1; horizon <= k; horizon++ {
		valid := fact.NewSet()
		for _, f := range facts {
			if e.facts.IsNoneOf(f) {
				valid.Add(f)
				continue
			}
			if d, ok := distance(f); ok && d <= float64(horizon) {
				valid.Add(f)
			}
		}
		h, err := e.Extract(valid, durable, excluded)
		if err != nil {
			return nil, err
		}
		h.Horizon = horizon
		out = append(out, h)
	}
	return out, nil
}
