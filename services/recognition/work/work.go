// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package work turns movement evidence into the likelihood term of the
// Bayesian update.
//
// # Description
//
// A work function scores how much the observed behaviour supports one member
// of a mutex group. Three strategies share the Function interface:
//
//   - MaximumLikelihood: share of all steps that moved toward the fact.
//   - MaximumLikelihoodThreaded: the same share, counted over the plan
//     thread the latest action joined.
//   - SingleAction: credit from the latest step only, split between the
//     group members that were credited at that step.
//
// Scores lie in [0, 1].
package work

import (
	"fmt"

	"github.com/AleutianAI/goalrec/services/recognition/fact"
	"github.com/AleutianAI/goalrec/services/recognition/goalspace"
	"github.com/AleutianAI/goalrec/services/recognition/history"
	"github.com/AleutianAI/goalrec/services/recognition/threads"
)

// Kind names a work function strategy.
type Kind string

const (
	// KindMaximumLikelihood scores moved-toward steps over all steps.
	KindMaximumLikelihood Kind = "ml"

	// KindMaximumLikelihoodThreaded restricts ML to the latest plan thread.
	KindMaximumLikelihoodThreaded Kind = "mlt"

	// KindSingleAction scores the latest step only.
	KindSingleAction Kind = "single-action"
)

// ParseKind validates a configured strategy name.
func ParseKind(name string) (Kind, error) {
	switch k := Kind(name); k {
	case KindMaximumLikelihood, KindMaximumLikelihoodThreaded, KindSingleAction:
		return k, nil
	default:
		return "", fmt.Errorf("unknown work function %q", name)
	}
}

// NeedsThreads reports whether the strategy consumes plan threads.
func (k Kind) NeedsThreads() bool {
	return k == KindMaximumLikelihoodThreaded
}

// Context is the evidence available to a work function for one update.
type Context struct {
	Space   *goalspace.GoalSpace
	History *history.History

	// Thread is the plan thread of the latest action. Only the threaded
	// strategy reads it and it may be nil for the others.
	Thread threads.Thread
}

// Function scores one member of one group.
type Function interface {
	Kind() Kind

	// Score returns the support for g as a member of group, in [0, 1].
	Score(c *Context, g fact.ID, group goalspace.GroupID) float64
}

// New returns the Function for kind.
func New(kind Kind) (Function, error) {
	switch kind {
	case KindMaximumLikelihood:
		return MaximumLikelihood{}, nil
	case KindMaximumLikelihoodThreaded:
		return MaximumLikelihoodThreaded{}, nil
	case KindSingleAction:
		return SingleAction{}, nil
	default:
		return nil, fmt.Errorf("unknown work function %q", kind)
	}
}

// MaximumLikelihood scores a fact by the share of steps that moved toward it.
type MaximumLikelihood struct{}

// Kind implements Function.
func (MaximumLikelihood) Kind() Kind { return KindMaximumLikelihood }

// Score implements Function.
//
// For a NoneOfGroup member the score is the share of steps at which no
// positive sibling was nearer. Plateau credit does not count there.
func (MaximumLikelihood) Score(c *Context, g fact.ID, group goalspace.GroupID) float64 {
	steps := c.History.Steps()
	if steps <= 0 {
		return 0
	}
	if g != c.Space.NoneOf(group) {
		return float64(c.History.MovedToward(g)) / float64(steps)
	}

	siblings := c.Space.Positive(group)
	idle := 0
	for j := 1; j <= steps; j++ {
		rec := c.History.Record(j)
		moved := false
		for _, s := range siblings {
			if rec.Nearer.Has(s) {
				moved = true
				break
			}
		}
		if !moved {
			idle++
		}
	}
	return float64(idle) / float64(steps)
}

// MaximumLikelihoodThreaded scores a fact over the latest plan thread.
type MaximumLikelihoodThreaded struct{}

// Kind implements Function.
func (MaximumLikelihoodThreaded) Kind() Kind { return KindMaximumLikelihoodThreaded }

// Score implements Function.
//
// A positive fact scores the share of the thread's actions whose step
// credited it. NoneOfGroup members are scored as in MaximumLikelihood.
func (MaximumLikelihoodThreaded) Score(c *Context, g fact.ID, group goalspace.GroupID) float64 {
	if g == c.Space.NoneOf(group) {
		return MaximumLikelihood{}.Score(c, g, group)
	}
	if c.Thread == nil {
		return 0
	}
	steps := c.Thread.Steps()
	if len(steps) == 0 {
		return 0
	}
	helpful := 0
	for _, s := range steps {
		if rec := c.History.Record(s); rec != nil && rec.Credited(g) {
			helpful++
		}
	}
	return float64(helpful) / float64(len(steps))
}

// SingleAction scores the latest step only.
type SingleAction struct{}

// Kind implements Function.
func (SingleAction) Kind() Kind { return KindSingleAction }

// Score implements Function.
//
// A positive fact scores 0 unless it was credited at the latest step, and
// otherwise 1 over the number of credited positive members of the group.
// A NoneOfGroup member scores 0 if any sibling earned plateau credit, 1 if
// every sibling moved further, and 0 otherwise. A NoneOfGroup member with
// no positive sibling left scores 1.
func (SingleAction) Score(c *Context, g fact.ID, group goalspace.GroupID) float64 {
	if c.History.Steps() <= 0 {
		return 0
	}
	rec := c.History.Latest()
	siblings := c.Space.Positive(group)

	if g == c.Space.NoneOf(group) {
		if len(siblings) == 0 {
			// Only NoneOfGroup is left; it scores as in MaximumLikelihood.
			return 1
		}
		allFurther := true
		for _, s := range siblings {
			if rec.Bonus.Has(s) {
				return 0
			}
			if !rec.Further.Has(s) {
				allFurther = false
			}
		}
		if allFurther {
			return 1
		}
		return 0
	}

	if !rec.Credited(g) {
		return 0
	}
	credited := 0
	for _, s := range siblings {
		if rec.Credited(s) {
			credited++
		}
	}
	return 1 / float64(credited)
}
