// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bayes

import (
	"slices"

	"github.com/AleutianAI/goalrec/services/recognition/fact"
	"github.com/AleutianAI/goalrec/services/recognition/goalspace"
)

// Ledger is the append-only probability history of every group member.
type Ledger struct {
	series map[goalspace.GroupID]map[fact.ID][]float64
	rounds int
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{series: make(map[goalspace.GroupID]map[fact.ID][]float64)}
}

// Record appends the current probability of every member of every group.
// Members removed from the space keep the series they already have.
func (l *Ledger) Record(space *goalspace.GoalSpace) {
	for _, g := range space.Groups() {
		bySeries, ok := l.series[g]
		if !ok {
			bySeries = make(map[fact.ID][]float64)
			l.series[g] = bySeries
		}
		for _, m := range space.Members(g) {
			p, _ := space.GroupProbability(g, m)
			bySeries[m] = append(bySeries[m], p)
		}
	}
	l.rounds++
}

// Rounds returns how many times Record ran.
func (l *Ledger) Rounds() int {
	return l.rounds
}

// Series returns a copy of f's probability series in every group that has
// ever owned it. The map is empty when f was never recorded.
func (l *Ledger) Series(f fact.ID) map[goalspace.GroupID][]float64 {
	out := make(map[goalspace.GroupID][]float64)
	for g, bySeries := range l.series {
		if s, ok := bySeries[f]; ok {
			out[g] = slices.Clone(s)
		}
	}
	return out
}
