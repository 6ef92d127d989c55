// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history records what the observed agent did and how every
// candidate goal moved because of it.
//
// # Description
//
// History is an append-only log with one Record per step, including the
// initial state at step 0, and one distance trace per candidate fact. On
// every observation each candidate's movement is re-derived for every step
// from its distance samples:
//
//	dist[j] < dist[j-1]  nearer    moved-toward +1
//	dist[j] > dist[j-1]  further   moved-away   +1
//	otherwise            unmoved
//
// An unmoved step whose samples are both 0 also credits moved-toward when
// zero-steps-helpful is enabled and the fact has been true for more than one
// consecutive step counted back from the latest record (the plateau bonus).
// The bonus depends on the latest record, which is why the whole log is
// reclassified each time.
//
// Record j holds the classification of the transition from j-1 to j.
//
// # Thread Safety
//
// History is not safe for concurrent use.
package history

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/AleutianAI/goalrec/services/recognition/domain"
	"github.com/AleutianAI/goalrec/services/recognition/fact"
)

// Movement is the classification of one fact at one step.
type Movement uint8

const (
	// Unmoved means the distance did not change.
	Unmoved Movement = iota

	// Nearer means the distance decreased.
	Nearer

	// Further means the distance increased.
	Further
)

// String returns the movement name.
func (m Movement) String() string {
	switch m {
	case Unmoved:
		return "unmoved"
	case Nearer:
		return "nearer"
	case Further:
		return "further"
	default:
		return "unknown"
	}
}

// Record is the log entry of one step.
type Record struct {
	// Step is 0 for the initial state.
	Step int

	// State is the snapshot after the step's action.
	State domain.State

	// Action is the observed action; nil at step 0.
	Action *domain.Action

	// Timestamp is when the step was recorded.
	Timestamp time.Time

	Nearer  fact.Set
	Further fact.Set
	Unmoved fact.Set

	// Bonus holds the unmoved facts credited by the plateau bonus.
	Bonus fact.Set
}

// Movement returns how g moved at this step.
func (r *Record) Movement(g fact.ID) Movement {
	switch {
	case r.Nearer.Has(g):
		return Nearer
	case r.Further.Has(g):
		return Further
	default:
		return Unmoved
	}
}

// Credited reports whether g was nearer or plateau-credited at this step.
func (r *Record) Credited(g fact.ID) bool {
	return r.Nearer.Has(g) || r.Bonus.Has(g)
}

func newRecord(step int, state domain.State, action *domain.Action, at time.Time) Record {
	return Record{
		Step:      step,
		State:     state,
		Action:    action,
		Timestamp: at,
		Nearer:    fact.NewSet(),
		Further:   fact.NewSet(),
		Unmoved:   fact.NewSet(),
		Bonus:     fact.NewSet(),
	}
}

// Option configures a History.
type Option func(*History)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *History) {
		h.now = now
	}
}

// History is the observation log.
type History struct {
	records          []Record
	traces           map[fact.ID][]float64
	towards          map[fact.ID]int
	away             map[fact.ID]int
	zeroStepsHelpful bool
	now              func() time.Time
}

// New starts a history at step 0.
//
// Inputs:
//
//	initial - State before any observation.
//	dists - Initial distance of every candidate fact. Its keys become the
//	        candidate set; synthetic facts must not be included.
//	zeroStepsHelpful - Enables the plateau bonus.
func New(initial domain.State, dists map[fact.ID]float64, zeroStepsHelpful bool, opts ...Option) *History {
	h := &History{
		traces:           make(map[fact.ID][]float64, len(dists)),
		towards:          make(map[fact.ID]int, len(dists)),
		away:             make(map[fact.ID]int, len(dists)),
		zeroStepsHelpful: zeroStepsHelpful,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	for g, d := range dists {
		h.traces[g] = []float64{d}
	}
	h.records = append(h.records, newRecord(0, initial, nil, h.now()))
	return h
}

// Observe appends step t and reclassifies every step.
//
// Inputs:
//
//	state - State after the action.
//	action - The observed action.
//	dists - Distance of every current candidate in state.
//
// Outputs:
//
//	error - ErrMissingDistance if a candidate has no sample. Nothing is
//	        appended on error.
func (h *History) Observe(state domain.State, action domain.Action, dists map[fact.ID]float64) error {
	for g := range h.traces {
		if _, ok := dists[g]; !ok {
			return fmt.Errorf("%w: fact %d", ErrMissingDistance, g)
		}
	}
	for g := range h.traces {
		h.traces[g] = append(h.traces[g], dists[g])
	}
	step := len(h.records)
	h.records = append(h.records, newRecord(step, state, &action, h.now()))
	h.reclassify()
	return nil
}

func (h *History) reclassify() {
	clear(h.towards)
	clear(h.away)

	candidates := h.Candidates()
	consecutive := make(map[fact.ID]int, len(candidates))
	for _, g := range candidates {
		consecutive[g] = h.ConsecutiveTrue(g)
	}

	for j := 1; j < len(h.records); j++ {
		rec := &h.records[j]
		clear(rec.Nearer)
		clear(rec.Further)
		clear(rec.Unmoved)
		clear(rec.Bonus)

		for _, g := range candidates {
			trace := h.traces[g]
			prev, cur := trace[j-1], trace[j]
			switch {
			case cur < prev:
				rec.Nearer.Add(g)
				h.towards[g]++
			case cur > prev:
				rec.Further.Add(g)
				h.away[g]++
			default:
				rec.Unmoved.Add(g)
				if h.zeroStepsHelpful && prev == 0 && cur == 0 && consecutive[g] > 1 {
					rec.Bonus.Add(g)
					h.towards[g]++
				}
			}
		}
	}
}

// Drop removes g from the candidate set. Its past classifications stay in
// the records until the next observation.
func (h *History) Drop(g fact.ID) {
	delete(h.traces, g)
	delete(h.towards, g)
	delete(h.away, g)
}

// Candidates returns the tracked facts in ascending ID order.
func (h *History) Candidates() []fact.ID {
	return slices.Sorted(maps.Keys(h.traces))
}

// IsCandidate reports whether g is tracked.
func (h *History) IsCandidate(g fact.ID) bool {
	_, ok := h.traces[g]
	return ok
}

// Steps returns the number of observed actions.
func (h *History) Steps() int {
	return len(h.records) - 1
}

// Record returns the record of step, or nil when out of range.
func (h *History) Record(step int) *Record {
	if step < 0 || step >= len(h.records) {
		return nil
	}
	return &h.records[step]
}

// Latest returns the newest record.
func (h *History) Latest() *Record {
	return &h.records[len(h.records)-1]
}

// State returns the newest state.
func (h *History) State() domain.State {
	return h.Latest().State
}

// Trace returns a copy of g's distance samples.
func (h *History) Trace(g fact.ID) []float64 {
	return slices.Clone(h.traces[g])
}

// Distance returns g's latest distance sample.
func (h *History) Distance(g fact.ID) (float64, bool) {
	trace, ok := h.traces[g]
	if !ok || len(trace) == 0 {
		return 0, false
	}
	return trace[len(trace)-1], true
}

// MovedToward returns g's cumulative moved-toward total, bonus included.
func (h *History) MovedToward(g fact.ID) int {
	return h.towards[g]
}

// MovedAway returns g's cumulative moved-away total.
func (h *History) MovedAway(g fact.ID) int {
	return h.away[g]
}

// ConsecutiveTrue counts the records, newest first, in which g holds.
// It is 0 when g is false in the latest state.
func (h *History) ConsecutiveTrue(g fact.ID) int {
	n := 0
	for i := len(h.records) - 1; i >= 0; i-- {
		if !h.records[i].State.Has(g) {
			break
		}
		n++
	}
	return n
}
