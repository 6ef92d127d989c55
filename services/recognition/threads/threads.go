// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package threads clusters the observed action stream into plan threads:
// subsequences linked by the facts one action produces for the next.
//
// Only the threaded maximum-likelihood work function consumes threads.
// Callers may plug in their own Scheduler; CausalScheduler is the default.
package threads

import (
	"fmt"
	"slices"

	"github.com/AleutianAI/goalrec/services/recognition/domain"
	"github.com/AleutianAI/goalrec/services/recognition/fact"
)

// Thread is an ordered, causally linked sequence of observed actions.
type Thread interface {
	// ID is unique within one Scheduler.
	ID() int

	// Actions returns the thread's actions in observation order.
	Actions() []domain.Action

	// Steps returns the observation step of each action, aligned with Actions.
	Steps() []int

	// Cost returns the summed cost of the thread's actions.
	Cost() float64
}

// Scheduler assigns every observed action to a thread.
type Scheduler interface {
	// Assign appends action, observed at step, to a thread and returns it.
	// A rejected action yields an error wrapping ErrScheduling.
	Assign(step int, action domain.Action) (Thread, error)

	// TouchedSince returns the threads that received an action at or after
	// step, ordered by ID.
	TouchedSince(step int) []Thread
}

type thread struct {
	id       int
	actions  []domain.Action
	steps    []int
	cost     float64
	produced fact.Set
	last     int
}

func (t *thread) ID() int                  { return t.id }
func (t *thread) Actions() []domain.Action { return slices.Clone(t.actions) }
func (t *thread) Steps() []int             { return slices.Clone(t.steps) }
func (t *thread) Cost() float64            { return t.cost }

func (t *thread) append(step int, a domain.Action) {
	t.actions = append(t.actions, a)
	t.steps = append(t.steps, step)
	t.cost += a.EffectiveCost()
	t.last = step
	for _, d := range a.Del {
		t.produced.Remove(d)
	}
	for _, ad := range a.Add {
		t.produced.Add(ad)
	}
}

// CausalScheduler appends an action to the most recently touched thread
// whose actions produced one of its preconditions, or opens a new thread.
//
// Thread Safety: not safe for concurrent use.
type CausalScheduler struct {
	model    *domain.Model
	threads  []*thread
	lastStep int
}

// NewCausalScheduler creates a scheduler. A non-nil model makes Assign
// reject actions the model does not define.
func NewCausalScheduler(model *domain.Model) *CausalScheduler {
	return &CausalScheduler{model: model, lastStep: -1}
}

// Assign implements Scheduler.
func (s *CausalScheduler) Assign(step int, action domain.Action) (Thread, error) {
	if step <= s.lastStep {
		return nil, fmt.Errorf("%w: step %d after step %d", ErrScheduling, step, s.lastStep)
	}
	if s.model != nil {
		if _, ok := s.model.Action(action.Name); !ok {
			return nil, fmt.Errorf("%w: %w %q", ErrScheduling, domain.ErrUnknownAction, action.Name)
		}
	}

	var best *thread
	for _, t := range s.threads {
		if !linked(t, action) {
			continue
		}
		if best == nil || t.last > best.last {
			best = t
		}
	}
	if best == nil {
		best = &thread{id: len(s.threads), produced: fact.NewSet()}
		s.threads = append(s.threads, best)
	}
	best.append(step, action)
	s.lastStep = step
	return best, nil
}

// TouchedSince implements Scheduler.
func (s *CausalScheduler) TouchedSince(step int) []Thread {
	var out []Thread
	for _, t := range s.threads {
		if t.last >= step {
			out = append(out, t)
		}
	}
	return out
}

// Threads returns every thread ordered by ID.
func (s *CausalScheduler) Threads() []Thread {
	out := make([]Thread, len(s.threads))
	for i, t := range s.threads {
		out[i] = t
	}
	return out
}

func linked(t *thread, a domain.Action) bool {
	for _, p := range a.Pre {
		if t.produced.Has(p) {
			return true
		}
	}
	return false
}
