// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hypothesis

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/AleutianAI/goalrec/services/recognition/fact"
)

// Direction selects which distance wins step 4 of the tie-break.
type Direction int

const (
	// PreferNearer favours the candidate closer to completion.
	PreferNearer Direction = iota

	// PreferFurther favours the candidate further from completion.
	PreferFurther
)

// String returns the configuration name of the direction.
func (d Direction) String() string {
	switch d {
	case PreferNearer:
		return "prefer-nearer"
	case PreferFurther:
		return "prefer-further"
	default:
		return "unknown"
	}
}

// ParseDirection maps a configuration name to a Direction.
func ParseDirection(name string) (Direction, error) {
	switch name {
	case "prefer-nearer", "":
		return PreferNearer, nil
	case "prefer-further":
		return PreferFurther, nil
	default:
		return 0, fmt.Errorf("unknown tie-break direction %q", name)
	}
}

// Evidence is what the tie-break cascade reads about a candidate.
type Evidence interface {
	// MovedToward is the cumulative moved-toward total.
	MovedToward(f fact.ID) int

	// Distance is the current heuristic distance.
	Distance(f fact.ID) (float64, bool)
}

// TieBreaker orders two candidates when probability does not.
//
// Description:
//
//	Candidates from the same group with different probabilities are
//	ordered by probability. Otherwise the first decisive rule wins:
//
//	  1. higher moved-toward total
//	  2. a positive literal beats NoneOfGroup
//	  3. lower causal-graph layer
//	  4. distance, by Direction
//	  5. a per-fact rank drawn once from a seeded generator
//
//	The rank makes the order total and reproducible for a given seed.
type TieBreaker struct {
	facts     *fact.Table
	evidence  Evidence
	layer     func(fact.ID) float64
	direction Direction
	rank      []uint64
}

// NewTieBreaker creates a TieBreaker and draws a rank for every fact of
// facts in ID order.
func NewTieBreaker(facts *fact.Table, evidence Evidence, layer func(fact.ID) float64, direction Direction, seed uint64) *TieBreaker {
	if layer == nil {
		layer = func(fact.ID) float64 { return 0 }
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	rank := make([]uint64, facts.Len())
	for i := range rank {
		rank[i] = rng.Uint64()
	}
	return &TieBreaker{facts: facts, evidence: evidence, layer: layer, direction: direction, rank: rank}
}

// Better reports whether a beats b.
//
// Inputs:
//
//	a, b - The candidates.
//	pa, pb - Their probabilities.
//	sameGroup - Whether the comparison happens inside one group.
func (t *TieBreaker) Better(a, b fact.ID, pa, pb float64, sameGroup bool) bool {
	if sameGroup && pa != pb {
		return pa > pb
	}

	if ta, tb := t.evidence.MovedToward(a), t.evidence.MovedToward(b); ta != tb {
		return ta > tb
	}

	if na, nb := t.facts.IsNoneOf(a), t.facts.IsNoneOf(b); na != nb {
		return nb
	}

	if la, lb := t.layer(a), t.layer(b); la != lb {
		return la < lb
	}

	if da, db := t.distance(a), t.distance(b); da != db {
		if t.direction == PreferFurther {
			return da > db
		}
		return da < db
	}

	if ra, rb := t.rankOf(a), t.rankOf(b); ra != rb {
		return ra < rb
	}
	return a < b
}

func (t *TieBreaker) distance(f fact.ID) float64 {
	d, ok := t.evidence.Distance(f)
	if !ok {
		return math.Inf(1)
	}
	return d
}

func (t *TieBreaker) rankOf(f fact.ID) uint64 {
	if f < 0 || int(f) >= len(t.rank) {
		return math.MaxUint64
	}
	return t.rank[f]
}
