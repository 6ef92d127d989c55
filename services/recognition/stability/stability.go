// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stability tracks how often each candidate fact changes truth value.
//
// A fact that is achieved and then kept looks like a goal; a fact that keeps
// flipping looks like a means to an end. Stability is 1/max(flips, 1).
package stability

import (
	"github.com/AleutianAI/goalrec/services/recognition/domain"
	"github.com/AleutianAI/goalrec/services/recognition/fact"
)

// Counter is the flip record of one fact.
type Counter struct {
	Flips uint32
	Last  bool
}

// Value returns the stability of the counter.
func (c Counter) Value() float64 {
	if c.Flips == 0 {
		return 1
	}
	return 1 / float64(c.Flips)
}

// Tracker holds a Counter per tracked fact.
//
// Thread Safety: not safe for concurrent use.
type Tracker struct {
	counters map[fact.ID]*Counter
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{counters: make(map[fact.ID]*Counter)}
}

// Track starts tracking f with its initial truth value. Tracking an
// already tracked fact leaves its counter alone.
func (t *Tracker) Track(f fact.ID, value bool) {
	if _, ok := t.counters[f]; ok {
		return
	}
	t.counters[f] = &Counter{Last: value}
}

// Set records a new truth value for f and counts a flip when it differs.
// Untracked facts are ignored.
func (t *Tracker) Set(f fact.ID, value bool) {
	c, ok := t.counters[f]
	if !ok {
		return
	}
	if c.Last != value {
		c.Flips++
		c.Last = value
	}
}

// Observe records the truth value of every tracked fact in state.
func (t *Tracker) Observe(state domain.State) {
	for f := range t.counters {
		t.Set(f, state.Has(f))
	}
}

// Stability returns 1/max(flips, 1) for a tracked fact and 0 otherwise.
func (t *Tracker) Stability(f fact.ID) float64 {
	c, ok := t.counters[f]
	if !ok {
		return 0
	}
	return c.Value()
}

// Flips returns the flip count of f.
func (t *Tracker) Flips(f fact.ID) uint32 {
	if c, ok := t.counters[f]; ok {
		return c.Flips
	}
	return 0
}

// Untrack stops tracking f.
func (t *Tracker) Untrack(f fact.ID) {
	delete(t.counters, f)
}
