// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recognition

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/goalrec/services/recognition/domain"
	"github.com/AleutianAI/goalrec/services/recognition/fact"
	"github.com/AleutianAI/goalrec/services/recognition/goalspace"
	"github.com/AleutianAI/goalrec/services/recognition/heuristic"
	"github.com/AleutianAI/goalrec/services/recognition/hypothesis"
)

// GoalSpace returns the live goal space. Callers must not modify it.
func (r *Recognizer) GoalSpace() *goalspace.GoalSpace {
	return r.space
}

// Steps returns the number of observed actions.
func (r *Recognizer) Steps() int {
	return r.history.Steps()
}

// State returns the current state.
func (r *Recognizer) State() domain.State {
	return r.history.State()
}

// Facts returns the fact table for naming hypothesis members.
func (r *Recognizer) Facts() *fact.Table {
	return r.facts
}

// ImmediateHypothesis returns the most probable consistent conjunction of
// goals regardless of distance.
//
// Outputs:
//
//	hypothesis.Hypothesis - Possibly empty.
//	error - *goalspace.InconsistencyError in verification mode.
func (r *Recognizer) ImmediateHypothesis() (hypothesis.Hypothesis, error) {
	return r.extract(context.Background(), "immediate", nil)
}

// InitialHypothesis returns the hypothesis extracted before any observation.
func (r *Recognizer) InitialHypothesis() hypothesis.Hypothesis {
	return r.initial
}

// BoundedHypotheses returns one hypothesis per horizon 1..k, each limited to
// goals whose current distance is at most the horizon.
//
// Outputs:
//
//	[]hypothesis.Hypothesis - k hypotheses, horizon ascending.
//	error - ErrInvalidBound for k < 1.
func (r *Recognizer) BoundedHypotheses(k int) ([]hypothesis.Hypothesis, error) {
	_, span := r.tracer.Start(context.Background(), "hypothesis.extract",
		trace.WithAttributes(
			attribute.String("kind", "bounded"),
			attribute.Int("bound", k),
		),
	)
	defer span.End()

	out, err := r.extractor.Bounded(k, r.history.Distance, r.durable, r.excluded)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	r.metrics.extractions.WithLabelValues("bounded").Add(float64(len(out)))
	return out, nil
}

// FinalHypothesis returns the candidate goals true in the current state
// whose stability reaches Config.StabilityThreshold.
func (r *Recognizer) FinalHypothesis() hypothesis.Hypothesis {
	state := r.history.State()
	var h hypothesis.Hypothesis
	var sum float64
	for _, f := range r.space.Facts() {
		if r.facts.IsNoneOf(f) || !state.Has(f) {
			continue
		}
		if r.tracker.Stability(f) < r.cfg.StabilityThreshold {
			continue
		}
		h.Facts = append(h.Facts, f)
		sum += r.space.Probability(f)
	}
	if len(h.Facts) > 0 {
		h.Probability = sum / float64(len(h.Facts))
	}
	r.metrics.extractions.WithLabelValues("final").Inc()
	return h
}

// HistoricalProbabilities returns f's probability after initialization and
// after every observation, per group that has owned it.
//
// Outputs:
//
//	map[goalspace.GroupID][]float64 - Series of length Steps()+1 for facts
//	    never pruned; pruned facts keep the series up to their removal.
//	error - goalspace.ErrUnknownFact if f was never in the goal space.
func (r *Recognizer) HistoricalProbabilities(f fact.ID) (map[goalspace.GroupID][]float64, error) {
	series := r.engine.Ledger().Series(f)
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: %s", goalspace.ErrUnknownFact, r.facts.Name(f))
	}
	return series, nil
}

// EstimatedStepsRemaining estimates the distance to the immediate
// hypothesis as a whole.
//
// Outputs:
//
//	float64 - The estimate.
//	error - ErrUnknownEstimate when the hypothesis is empty or unreachable,
//	        ErrTerminated after Terminate.
func (r *Recognizer) EstimatedStepsRemaining(ctx context.Context) (float64, error) {
	if r.terminated.Load() {
		return 0, ErrTerminated
	}
	h, err := r.ImmediateHypothesis()
	if err != nil {
		return 0, err
	}
	if h.Empty() {
		return 0, ErrUnknownEstimate
	}
	d, err := r.manager.Conjunction(ctx, h.Facts)
	if err != nil {
		if errors.Is(err, heuristic.ErrTerminated) {
			return 0, fmt.Errorf("%w: %w", ErrTerminated, err)
		}
		return 0, err
	}
	if heuristic.IsUnreachable(d) {
		return 0, ErrUnknownEstimate
	}
	return d, nil
}

// extract runs an unrestricted extraction under a span.
func (r *Recognizer) extract(ctx context.Context, kind string, valid fact.Set) (hypothesis.Hypothesis, error) {
	_, span := r.tracer.Start(ctx, "hypothesis.extract",
		trace.WithAttributes(attribute.String("kind", kind)))
	defer span.End()

	h, err := r.extractor.Extract(valid, r.durable, r.excluded)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return hypothesis.Hypothesis{}, err
	}
	span.SetAttributes(attribute.Int("hypothesis.size", len(h.Facts)))
	r.metrics.extractions.WithLabelValues(kind).Inc()
	return h, nil
}
