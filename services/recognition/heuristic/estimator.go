// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package heuristic estimates how far the observed agent is from each
// candidate goal.
//
// # Description
//
// Distance estimators are supplied by the caller behind the Estimator
// capability interface. The Manager evaluates them for a whole set of
// candidates per observation step on a bounded pool of goroutines and
// caches the results until the state advances.
//
// The only property of an estimator the Manager cares about is whether a
// query consumes its internal state (RequiresIsolation). Such estimators are
// branched once per concurrently submitted fact; all others are shared.
//
// # Thread Safety
//
// Manager methods are safe for concurrent use. Estimators that do not
// require isolation must be safe for concurrent Distance calls.
package heuristic

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/AleutianAI/goalrec/services/recognition/domain"
	"github.com/AleutianAI/goalrec/services/recognition/fact"
)

// Unreachable is the distance reported for a goal with no path.
var Unreachable = math.Inf(1)

// IsUnreachable reports whether d is the Unreachable sentinel.
func IsUnreachable(d float64) bool {
	return math.IsInf(d, 1)
}

// Estimator estimates the remaining effort to reach a set of goal facts.
type Estimator interface {
	// Distance returns the estimated steps from the current state until
	// every goal holds. It returns ErrUnreachable when no path exists.
	Distance(ctx context.Context, goals []fact.ID) (float64, error)

	// Reset moves the estimator to a new current state.
	Reset(state domain.State)

	// Branch returns an estimator that answers the same queries but shares
	// no mutable state with the receiver.
	Branch() Estimator

	// RequiresIsolation reports whether a Distance call consumes state
	// another concurrent call would observe.
	RequiresIsolation() bool
}

// GoalCount estimates the distance as the number of goals that do not hold.
//
// It is domain independent and reentrant.
type GoalCount struct {
	mu    sync.RWMutex
	state domain.State
}

// NewGoalCount creates a GoalCount estimator positioned at state.
func NewGoalCount(state domain.State) *GoalCount {
	return &GoalCount{state: state}
}

// Distance implements Estimator.
func (g *GoalCount) Distance(ctx context.Context, goals []fact.ID) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	missing := 0
	for _, f := range goals {
		if !g.state.Has(f) {
			missing++
		}
	}
	return float64(missing), nil
}

// Reset implements Estimator.
func (g *GoalCount) Reset(state domain.State) {
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()
}

// Branch implements Estimator.
func (g *GoalCount) Branch() Estimator {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return &GoalCount{state: g.state}
}

// RequiresIsolation implements Estimator.
func (g *GoalCount) RequiresIsolation() bool { return false }

// Random returns a uniformly drawn integer distance in [0, max).
//
// It exists as a baseline to compare informed estimators against. Draws
// are serialized so a shared instance stays reproducible for a given seed
// and query order.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
	max int
}

// NewRandom creates a Random estimator. A non-positive max defaults to 100.
func NewRandom(seed uint64, max int) *Random {
	if max <= 0 {
		max = 100
	}
	return &Random{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), max: max}
}

// Distance implements Estimator.
func (r *Random) Distance(ctx context.Context, _ []fact.ID) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(r.rng.IntN(r.max)), nil
}

// Reset implements Estimator. The draw sequence is not restarted.
func (r *Random) Reset(domain.State) {}

// Branch implements Estimator. Random is shared, so it returns itself.
func (r *Random) Branch() Estimator { return r }

// RequiresIsolation implements Estimator.
func (r *Random) RequiresIsolation() bool { return false }

// Func adapts a plain function of the current state to an Estimator.
//
// Reset may run concurrently with Distance; fn receives the state current
// when the call started.
type Func struct {
	fn       func(ctx context.Context, state domain.State, goals []fact.ID) (float64, error)
	isolated bool

	mu    sync.RWMutex
	state domain.State
}

// NewFunc wraps fn. isolated marks fn as consuming per-query state.
func NewFunc(state domain.State, isolated bool, fn func(ctx context.Context, state domain.State, goals []fact.ID) (float64, error)) *Func {
	return &Func{fn: fn, state: state, isolated: isolated}
}

// Distance implements Estimator.
func (f *Func) Distance(ctx context.Context, goals []fact.ID) (float64, error) {
	f.mu.RLock()
	state := f.state
	f.mu.RUnlock()
	return f.fn(ctx, state, goals)
}

// Reset implements Estimator.
func (f *Func) Reset(state domain.State) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

// Branch implements Estimator.
func (f *Func) Branch() Estimator {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &Func{fn: f.fn, state: f.state, isolated: f.isolated}
}

// RequiresIsolation implements Estimator.
func (f *Func) RequiresIsolation() bool { return f.isolated }
