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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/goalrec/services/recognition/domain"
	"github.com/AleutianAI/goalrec/services/recognition/fact"
	"github.com/AleutianAI/goalrec/services/recognition/heuristic"
	"github.com/AleutianAI/goalrec/services/recognition/journal"
	"github.com/AleutianAI/goalrec/services/recognition/telemetry"
	"github.com/AleutianAI/goalrec/services/recognition/work"
)

// OnActionObserved advances the recognizer by one observed action.
//
// Description:
//
//	Applies action to the current state and runs one step:
//
//	  1. estimate the distance of every candidate in the new state
//	  2. assign the action to a plan thread
//	  3. prune candidates that became unreachable
//	  4. append the step to the history and reclassify movement
//	  5. update stability counters
//	  6. record durable achievements and unstable activating deletions
//	  7. run the Bayesian update
//	  8. verify the goal space in verification mode
//	  9. append a journal entry
//
//	In verification mode the goal space is also verified before step 1,
//	so writes made through GoalSpace since the last step are caught before
//	the update renormalizes them. A failure there or in steps 1 or 2
//	leaves the recognizer unchanged and the estimator on the previous
//	state. An action whose preconditions do not hold is still applied and
//	logged at Warn.
//
// Inputs:
//
//	ctx - Bounds the heuristic batch.
//	action - The observed action.
//
// Outputs:
//
//	error - ErrTerminated, threads.ErrScheduling, a heuristic failure, or
//	        goalspace.ErrInconsistentGoalSpace in verification mode.
//
// Thread Safety: Not safe for concurrent use.
func (r *Recognizer) OnActionObserved(ctx context.Context, action domain.Action) (err error) {
	if r.terminated.Load() {
		return ErrTerminated
	}
	start := time.Now()
	step := r.history.Steps() + 1

	ctx, span := r.tracer.Start(ctx, "recognition.observe",
		trace.WithAttributes(
			attribute.String("session_id", r.sessionID),
			attribute.Int("step", step),
			attribute.String("action", action.Name),
		),
	)
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		r.metrics.observations.WithLabelValues(status).Inc()
		r.metrics.stepDuration.Observe(time.Since(start).Seconds())
		span.End()
	}()

	logger := telemetry.LoggerWithTrace(ctx, r.logger.With(slog.Int("step", step), slog.String("action", action.Name)))
	if r.cfg.VerifyGoalSpace {
		if err := r.space.Verify(r.cfg.Epsilon); err != nil {
			return err
		}
	}

	prev := r.history.State()
	if !prev.Satisfies(action) {
		logger.Warn("observed action preconditions do not hold")
	}
	next := prev.Apply(action)

	// Until the history accepts the step, a failure must leave the
	// estimator on the previous state.
	accepted := false
	r.manager.Advance(next)
	defer func() {
		if !accepted {
			r.manager.Advance(prev)
		}
	}()

	dists, err := r.manager.Estimates(ctx, r.history.Candidates())
	if err != nil {
		if errors.Is(err, heuristic.ErrTerminated) {
			return fmt.Errorf("%w: %w", ErrTerminated, err)
		}
		return fmt.Errorf("estimate step %d: %w", step, err)
	}

	thread, err := r.scheduler.Assign(step, action)
	if err != nil {
		return err
	}

	var pruned []fact.ID
	for _, g := range r.history.Candidates() {
		if heuristic.IsUnreachable(dists[g]) {
			r.prune(g, pruneUnreachable)
			delete(dists, g)
			pruned = append(pruned, g)
		}
	}
	if len(pruned) > 0 {
		logger.Info("pruned unreachable goals", slog.Any("goals", r.facts.Names(pruned)))
	}

	if err := r.history.Observe(next, action, dists); err != nil {
		return fmt.Errorf("record step %d: %w", step, err)
	}
	accepted = true
	r.tracker.Observe(next)

	for _, f := range action.Add {
		if !r.model.Terminal.Has(f) || !r.space.Contains(f) {
			continue
		}
		r.durable.Add(f)
		for m := range r.space.MutexWith(f) {
			r.excluded.Add(m)
		}
	}
	for _, f := range action.Del {
		if r.model.UnstableActivating.Has(f) && r.space.Contains(f) {
			r.prune(f, pruneUnstableActivating)
			pruned = append(pruned, f)
			logger.Info("removed deleted unstable activating fact", slog.String("fact", r.facts.Name(f)))
		}
	}

	wc := &work.Context{Space: r.space, History: r.history, Thread: thread}
	if err := r.engine.Update(wc); err != nil {
		return fmt.Errorf("update step %d: %w", step, err)
	}

	if r.cfg.VerifyGoalSpace {
		if err := r.space.Verify(r.cfg.Epsilon); err != nil {
			return err
		}
	}

	r.metrics.candidates.Set(float64(len(r.history.Candidates())))
	r.appendJournal(ctx, step, action, pruned, logger)

	logger.Debug("observation processed",
		slog.Int("thread", thread.ID()),
		slog.Int("nearer", r.history.Latest().Nearer.Len()),
		slog.Int("further", r.history.Latest().Further.Len()),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// prune removes g from candidacy and from the goal space.
func (r *Recognizer) prune(g fact.ID, reason string) {
	r.space.RemoveGoal(g)
	r.history.Drop(g)
	r.tracker.Untrack(g)
	r.metrics.goalsPruned.WithLabelValues(reason).Inc()
}

// appendJournal writes the step snapshot. Journal failures are logged and
// counted but never fail the observation.
func (r *Recognizer) appendJournal(ctx context.Context, step int, action domain.Action, pruned []fact.ID, logger *slog.Logger) {
	if r.journal == nil {
		return
	}
	rec := r.history.Latest()
	probs := make(map[string]float64)
	for _, f := range r.space.Facts() {
		probs[r.facts.Name(f)] = r.space.Probability(f)
	}

	entry := journal.Entry{
		SessionID:     r.sessionID,
		Step:          step,
		Action:        action.Name,
		Timestamp:     rec.Timestamp,
		Nearer:        r.facts.Names(rec.Nearer.Sorted()),
		Further:       r.facts.Names(rec.Further.Sorted()),
		Pruned:        r.facts.Names(pruned),
		Probabilities: probs,
	}
	if hyp, err := r.extractor.Extract(nil, r.durable, r.excluded); err == nil {
		entry.Hypothesis = r.facts.Names(hyp.Facts)
	}

	if err := r.journal.Append(ctx, entry); err != nil {
		r.metrics.journalFailure.Inc()
		logger.Warn("journal append failed", slog.String("error", err.Error()))
	}
}
