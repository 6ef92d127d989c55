// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bayes updates the goal distribution after every observation.
//
// # Description
//
// For every member g of every group:
//
//	workRight = (1 - λ) / |group|
//	workLeft  = λ · stability(g) · work(g)
//	posterior(g) ∝ prior(g) · (workLeft + workRight)
//
// The posteriors of a group are then renormalized. The synthetic NoneOfGroup
// member always has stability 1. λ weighs movement evidence against a
// uniform floor that keeps any member from collapsing to exactly zero.
//
// After each round every member's probability is appended to the Ledger,
// which is read-only reporting and never feeds back into the distribution.
package bayes

import (
	"fmt"

	"github.com/AleutianAI/goalrec/services/recognition/stability"
	"github.com/AleutianAI/goalrec/services/recognition/work"
)

// DefaultLambda is the default evidence weight.
const DefaultLambda = 0.8

// Engine applies the update rule.
//
// Thread Safety: not safe for concurrent use.
type Engine struct {
	lambda    float64
	fn        work.Function
	stability *stability.Tracker
	ledger    *Ledger
}

// NewEngine creates an Engine.
//
// Inputs:
//
//	lambda - Evidence weight in [0, 1].
//	fn - The work function. Must not be nil.
//	tracker - Stability source for positive members. Must not be nil.
//
// Outputs:
//
//	*Engine - The engine with an empty Ledger.
//	error - Non-nil if an input is invalid.
func NewEngine(lambda float64, fn work.Function, tracker *stability.Tracker) (*Engine, error) {
	if lambda < 0 || lambda > 1 {
		return nil, fmt.Errorf("lambda must be in [0, 1], got %v", lambda)
	}
	if fn == nil {
		return nil, fmt.Errorf("work function must not be nil")
	}
	if tracker == nil {
		return nil, fmt.Errorf("stability tracker must not be nil")
	}
	return &Engine{lambda: lambda, fn: fn, stability: tracker, ledger: NewLedger()}, nil
}

// Lambda returns the evidence weight.
func (e *Engine) Lambda() float64 {
	return e.lambda
}

// WorkFunction returns the configured work function.
func (e *Engine) WorkFunction() work.Function {
	return e.fn
}

// Ledger returns the historical probability ledger.
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// Update recomputes every group of c.Space in place and records the result.
//
// Description:
//
//	Scores are computed for all members of a group before any of them is
//	written, so a group's update only sees its own priors.
//
// Outputs:
//
//	error - Non-nil only if a computed value could not be written.
func (e *Engine) Update(c *work.Context) error {
	space := c.Space
	for _, g := range space.Groups() {
		members := space.Members(g)
		if len(members) == 0 {
			continue
		}
		workRight := (1 - e.lambda) / float64(len(members))
		noneOf := space.NoneOf(g)

		posterior := make([]float64, len(members))
		for i, m := range members {
			prior, _ := space.GroupProbability(g, m)
			stab := 1.0
			if m != noneOf {
				stab = e.stability.Stability(m)
			}
			workLeft := e.lambda * stab * e.fn.Score(c, m, g)
			posterior[i] = prior * (workLeft + workRight)
		}

		for i, m := range members {
			if err := space.SetInGroup(g, m, posterior[i]); err != nil {
				return fmt.Errorf("update group %d: %w", g, err)
			}
		}
		space.Normalize(g)
	}
	e.ledger.Record(space)
	return nil
}
