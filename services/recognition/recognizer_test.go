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
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/goalrec/services/recognition/domain"
	"github.com/AleutianAI/goalrec/services/recognition/fact"
	"github.com/AleutianAI/goalrec/services/recognition/goalspace"
	"github.com/AleutianAI/goalrec/services/recognition/heuristic"
	"github.com/AleutianAI/goalrec/services/recognition/journal"
	"github.com/AleutianAI/goalrec/services/recognition/telemetry"
	"github.com/AleutianAI/goalrec/services/recognition/threads"
)

const truckYAML = `
static: ["(road a b)", "(road b c)"]
initial: ["(at t a)", "(road a b)", "(road b c)"]
actions:
  - name: drive t a b
    pre: ["(at t a)", "(road a b)"]
    add: ["(at t b)"]
    del: ["(at t a)"]
  - name: drive t b c
    pre: ["(at t b)", "(road b c)"]
    add: ["(at t c)"]
    del: ["(at t b)"]
  - name: drive t b a
    pre: ["(at t b)", "(road a b)"]
    add: ["(at t a)"]
    del: ["(at t b)"]
groups:
  - ["(at t a)", "(at t b)", "(at t c)"]
layers:
  "(at t c)": 2
terminal: ["(at t c)"]
`

type fixture struct {
	model *domain.Model
	atA   fact.ID
	atB   fact.ID
	atC   fact.ID
	reg   *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	model, err := domain.Decode(strings.NewReader(truckYAML))
	require.NoError(t, err)
	f := &fixture{model: model, reg: prometheus.NewRegistry()}
	f.atA = f.lookup(t, "(at t a)")
	f.atB = f.lookup(t, "(at t b)")
	f.atC = f.lookup(t, "(at t c)")
	return f
}

func (f *fixture) lookup(t *testing.T, key string) fact.ID {
	t.Helper()
	id, ok := f.model.Facts.LookupKey(key)
	require.True(t, ok, key)
	return id
}

func (f *fixture) action(t *testing.T, name string) domain.Action {
	t.Helper()
	a, ok := f.model.Action(name)
	require.True(t, ok, name)
	return a
}

func (f *fixture) recognizer(t *testing.T, cfg Config, opts ...Option) *Recognizer {
	t.Helper()
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRegisterer(f.reg),
	}, opts...)
	r, err := New(context.Background(), f.model, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Terminate() })
	return r
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.Observability.TracingEnabled = false
	return cfg
}

func TestNew_BuildsUniformGoalSpace(t *testing.T) {
	f := newFixture(t)
	r := f.recognizer(t, testConfig())

	space := r.GoalSpace()
	require.Equal(t, 1, space.NumGroups())
	members := space.Members(0)
	require.Len(t, members, 4)
	for _, m := range members {
		p, ok := space.GroupProbability(0, m)
		require.True(t, ok)
		assert.InDelta(t, 0.25, p, 1e-12)
	}
	assert.True(t, r.Facts().IsNoneOf(space.NoneOf(0)))
	assert.False(t, space.Contains(f.lookup(t, "(road a b)")), "static facts are never candidates")
	assert.Equal(t, 0, r.Steps())
	assert.NotEmpty(t, r.SessionID())
}

func TestNew_InitialHypothesisUsesTieBreak(t *testing.T) {
	f := newFixture(t)
	r := f.recognizer(t, testConfig())

	// All members tie at 0.25. The positive literals beat NoneOfGroup,
	// (at t c) loses on layer and (at t a) is nearer than (at t b).
	h := r.InitialHypothesis()
	assert.Equal(t, []fact.ID{f.atA}, h.Facts)
	assert.InDelta(t, 0.25, h.Probability, 1e-12)
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := New(context.Background(), nil, testConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := testConfig()
	cfg.Lambda = 2
	_, err = New(context.Background(), f.model, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig()
	cfg.Heuristic = HeuristicExternal
	_, err = New(context.Background(), f.model, cfg, WithRegisterer(f.reg))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOnActionObserved_SingleAction(t *testing.T) {
	f := newFixture(t)
	r := f.recognizer(t, testConfig())
	ctx := context.Background()

	require.NoError(t, r.OnActionObserved(ctx, f.action(t, "drive t a b")))
	assert.Equal(t, 1, r.Steps())
	assert.True(t, r.State().Has(f.atB))

	// (at t b) is the only credited member: 0.25·(0.8+0.05) against
	// 0.25·0.05 for the three others, normalized.
	space := r.GoalSpace()
	assert.InDelta(t, 0.85, space.Probability(f.atB), 1e-9)
	assert.InDelta(t, 0.05, space.Probability(f.atA), 1e-9)
	assert.InDelta(t, 0.05, space.Probability(f.atC), 1e-9)
	assert.InDelta(t, 1.0, space.GroupSum(0), 1e-9)

	h, err := r.ImmediateHypothesis()
	require.NoError(t, err)
	assert.Equal(t, []fact.ID{f.atB}, h.Facts)
	assert.InDelta(t, 0.85, h.Probability, 1e-9)

	series, err := r.HistoricalProbabilities(f.atB)
	require.NoError(t, err)
	require.Contains(t, series, goalspace.GroupID(0))
	require.Len(t, series[0], 2)
	assert.InDelta(t, 0.25, series[0][0], 1e-12)
	assert.InDelta(t, 0.85, series[0][1], 1e-9)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.observations.WithLabelValues("ok")))
}

func TestOnActionObserved_DurableAchievement(t *testing.T) {
	f := newFixture(t)
	r := f.recognizer(t, testConfig())
	ctx := context.Background()

	require.NoError(t, r.OnActionObserved(ctx, f.action(t, "drive t a b")))
	require.NoError(t, r.OnActionObserved(ctx, f.action(t, "drive t b c")))

	h, err := r.ImmediateHypothesis()
	require.NoError(t, err)
	assert.Equal(t, []fact.ID{f.atC}, h.Facts)

	final := r.FinalHypothesis()
	assert.Equal(t, []fact.ID{f.atC}, final.Facts)

	// (at t b) flipped twice, so its stability is 1/2.
	assert.Equal(t, uint32(2), r.tracker.Flips(f.atB))
}

func TestOnActionObserved_SchedulingFaultLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	r := f.recognizer(t, testConfig())

	before := r.GoalSpace().Clone()
	err := r.OnActionObserved(context.Background(), domain.Action{Name: "teleport t c"})
	require.ErrorIs(t, err, threads.ErrScheduling)

	assert.Equal(t, 0, r.Steps())
	for _, m := range before.Facts() {
		assert.Equal(t, before.Probability(m), r.GoalSpace().Probability(m))
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.observations.WithLabelValues("error")))

	require.NoError(t, r.OnActionObserved(context.Background(), f.action(t, "drive t a b")))
	assert.Equal(t, 1, r.Steps())
}

// rejectingScheduler fails the first rejections Assign calls and delegates
// the rest.
type rejectingScheduler struct {
	threads.Scheduler
	rejections int
}

func (s *rejectingScheduler) Assign(step int, action domain.Action) (threads.Thread, error) {
	if s.rejections > 0 {
		s.rejections--
		return nil, threads.ErrScheduling
	}
	return s.Scheduler.Assign(step, action)
}

func TestOnActionObserved_SchedulingFaultKeepsEstimatorState(t *testing.T) {
	f := newFixture(t)
	sched := &rejectingScheduler{Scheduler: threads.NewCausalScheduler(f.model), rejections: 1}
	r := f.recognizer(t, testConfig(), WithScheduler(sched))
	ctx := context.Background()

	d, err := r.EstimatedStepsRemaining(ctx)
	require.NoError(t, err)
	require.Equal(t, 0.0, d)

	err = r.OnActionObserved(ctx, f.action(t, "drive t a b"))
	require.ErrorIs(t, err, threads.ErrScheduling)
	assert.Equal(t, 0, r.Steps())
	assert.True(t, r.State().Has(f.atA))

	d, err = r.EstimatedStepsRemaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)

	require.NoError(t, r.OnActionObserved(ctx, f.action(t, "drive t a b")))
	assert.Equal(t, 1, r.Steps())
	assert.True(t, r.State().Has(f.atB))
}

func TestOnActionObserved_EstimatorFailureKeepsEstimatorState(t *testing.T) {
	f := newFixture(t)
	errOffline := errors.New("estimator offline")
	var failing atomic.Bool
	est := heuristic.NewFunc(f.model.Initial, false, func(_ context.Context, s domain.State, goals []fact.ID) (float64, error) {
		if failing.Load() && s.Has(f.atB) {
			return 0, errOffline
		}
		missing := 0
		for _, g := range goals {
			if !s.Has(g) {
				missing++
			}
		}
		return float64(missing), nil
	})
	r := f.recognizer(t, testConfig(), WithEstimator(est))
	ctx := context.Background()

	failing.Store(true)
	err := r.OnActionObserved(ctx, f.action(t, "drive t a b"))
	require.ErrorIs(t, err, errOffline)
	assert.Equal(t, 0, r.Steps())

	failing.Store(false)
	d, err := r.EstimatedStepsRemaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d, "estimates must use the state before the failed step")
}

func TestOnActionObserved_VerificationFault(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.VerifyGoalSpace = true
	r := f.recognizer(t, cfg)

	// Fact-level writes do not renormalize, so the group now sums to 1.65.
	require.NoError(t, r.GoalSpace().SetProbability(f.atA, 0.9))

	err := r.OnActionObserved(context.Background(), f.action(t, "drive t a b"))
	require.Error(t, err)
	inc, ok := err.(*goalspace.InconsistencyError)
	require.True(t, ok, "got %T", err)
	assert.ErrorIs(t, err, goalspace.ErrInconsistentGoalSpace)
	assert.InDelta(t, 1.65, inc.Sum, 1e-9)

	assert.Equal(t, 0, r.Steps())
	assert.True(t, r.State().Has(f.atA))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.observations.WithLabelValues("error")))
}

func TestOnActionObserved_VerificationFaultIgnoredWhenDisabled(t *testing.T) {
	f := newFixture(t)
	r := f.recognizer(t, testConfig())

	require.NoError(t, r.GoalSpace().SetProbability(f.atA, 0.9))
	require.NoError(t, r.OnActionObserved(context.Background(), f.action(t, "drive t a b")))
	assert.NoError(t, r.GoalSpace().Verify(1e-6))
}

// unreachableEstimator counts missing goals but reports (at t c) as
// unreachable once the truck has left a.
func unreachableEstimator(f *fixture) heuristic.Estimator {
	return heuristic.NewFunc(f.model.Initial, false, func(ctx context.Context, state domain.State, goals []fact.ID) (float64, error) {
		if slices.Contains(goals, f.atC) && !state.Has(f.atA) {
			return 0, heuristic.ErrUnreachable
		}
		missing := 0
		for _, g := range goals {
			if !state.Has(g) {
				missing++
			}
		}
		return float64(missing), nil
	})
}

func TestOnActionObserved_PrunesUnreachable(t *testing.T) {
	f := newFixture(t)
	r := f.recognizer(t, testConfig(), WithEstimator(unreachableEstimator(f)))

	require.True(t, r.GoalSpace().Contains(f.atC))
	require.NoError(t, r.OnActionObserved(context.Background(), f.action(t, "drive t a b")))

	assert.False(t, r.GoalSpace().Contains(f.atC))
	assert.Len(t, r.GoalSpace().Members(0), 3)
	assert.InDelta(t, 1.0, r.GoalSpace().GroupSum(0), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.goalsPruned.WithLabelValues(pruneUnreachable)))

	// The series recorded before pruning survives.
	series, err := r.HistoricalProbabilities(f.atC)
	require.NoError(t, err)
	assert.Len(t, series[0], 1)
}

func TestNew_PrunesInitiallyUnreachable(t *testing.T) {
	f := newFixture(t)
	est := heuristic.NewFunc(f.model.Initial, false, func(_ context.Context, _ domain.State, goals []fact.ID) (float64, error) {
		if slices.Contains(goals, f.atC) {
			return 0, heuristic.ErrUnreachable
		}
		return 1, nil
	})
	r := f.recognizer(t, testConfig(), WithEstimator(est))

	assert.False(t, r.GoalSpace().Contains(f.atC))
	for _, m := range r.GoalSpace().Members(0) {
		p, _ := r.GoalSpace().GroupProbability(0, m)
		assert.InDelta(t, 1.0/3, p, 1e-12)
	}

	_, err := r.HistoricalProbabilities(f.atC)
	assert.ErrorIs(t, err, goalspace.ErrUnknownFact)
}

func TestBoundedHypotheses(t *testing.T) {
	f := newFixture(t)
	r := f.recognizer(t, testConfig())

	_, err := r.BoundedHypotheses(0)
	assert.ErrorIs(t, err, ErrInvalidBound)

	require.NoError(t, r.OnActionObserved(context.Background(), f.action(t, "drive t a b")))
	hs, err := r.BoundedHypotheses(2)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	for i, h := range hs {
		assert.Equal(t, i+1, h.Horizon)
		assert.Equal(t, []fact.ID{f.atB}, h.Facts)
	}
}

func TestEstimatedStepsRemaining(t *testing.T) {
	f := newFixture(t)
	r := f.recognizer(t, testConfig())
	ctx := context.Background()

	// The initial hypothesis (at t a) already holds.
	d, err := r.EstimatedStepsRemaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)

	require.NoError(t, r.OnActionObserved(ctx, f.action(t, "drive t a b")))
	d, err = r.EstimatedStepsRemaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
}

func TestEstimatedStepsRemaining_Unknown(t *testing.T) {
	f := newFixture(t)
	var blocked atomic.Bool
	est := heuristic.NewFunc(f.model.Initial, false, func(_ context.Context, _ domain.State, _ []fact.ID) (float64, error) {
		if blocked.Load() {
			return 0, heuristic.ErrUnreachable
		}
		return 0, nil
	})
	r := f.recognizer(t, testConfig(), WithEstimator(est))

	blocked.Store(true)
	_, err := r.EstimatedStepsRemaining(context.Background())
	assert.ErrorIs(t, err, ErrUnknownEstimate)

	require.NoError(t, r.Terminate())
	_, err = r.EstimatedStepsRemaining(context.Background())
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestTerminate(t *testing.T) {
	f := newFixture(t)
	r := f.recognizer(t, testConfig())

	require.NoError(t, r.Terminate())
	require.NoError(t, r.Terminate())

	err := r.OnActionObserved(context.Background(), f.action(t, "drive t a b"))
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestWorkFunctions(t *testing.T) {
	for _, kind := range []string{"single-action", "ml", "mlt"} {
		t.Run(kind, func(t *testing.T) {
			f := newFixture(t)
			cfg := testConfig()
			cfg.WorkFunction = kind
			cfg.VerifyGoalSpace = true
			r := f.recognizer(t, cfg)

			require.NoError(t, r.OnActionObserved(context.Background(), f.action(t, "drive t a b")))
			h, err := r.ImmediateHypothesis()
			require.NoError(t, err)
			assert.Equal(t, []fact.ID{f.atB}, h.Facts)
			assert.NoError(t, r.GoalSpace().Verify(cfg.Epsilon))
		})
	}
}

func TestCausalValueDistribution(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.InitialDistribution = DistributionCausalValue
	r := f.recognizer(t, cfg)

	space := r.GoalSpace()
	assert.InDelta(t, 1.0, space.GroupSum(0), 1e-9)

	// (at t c) is only ever added; (at t b) is deleted and required most.
	pa, pb, pc := space.Probability(f.atA), space.Probability(f.atB), space.Probability(f.atC)
	assert.Greater(t, pc, pa)
	assert.Greater(t, pa, pb)
}

func TestJournal(t *testing.T) {
	f := newFixture(t)
	j, err := journal.Open(journal.InMemoryConfig())
	require.NoError(t, err)
	defer j.Close()

	r := f.recognizer(t, testConfig(), WithJournal(j), WithSessionID("session-1"))
	ctx := context.Background()
	require.NoError(t, r.OnActionObserved(ctx, f.action(t, "drive t a b")))
	require.NoError(t, r.OnActionObserved(ctx, f.action(t, "drive t b c")))
	require.NoError(t, r.Terminate())

	// A shared journal stays open after Terminate.
	entries, err := j.Entries(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "drive t a b", entries[0].Action)
	assert.Equal(t, []string{"(at t b)"}, entries[0].Hypothesis)
	assert.Equal(t, []string{"(at t b)"}, entries[0].Nearer)
	assert.InDelta(t, 0.85, entries[0].Probabilities["(at t b)"], 1e-9)
	assert.Equal(t, 2, entries[1].Step)
}

func TestOwnedJournal(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.Journal.Enabled = true
	cfg.Journal.InMemory = true
	r := f.recognizer(t, cfg)

	require.NoError(t, r.OnActionObserved(context.Background(), f.action(t, "drive t a b")))
	require.NoError(t, r.Terminate())
	_, err := r.journal.Entries(context.Background(), r.SessionID())
	assert.ErrorIs(t, err, journal.ErrJournalClosed)
}

func TestMetricsSharedAcrossRecognizers(t *testing.T) {
	f := newFixture(t)
	r1 := f.recognizer(t, testConfig())
	r2 := f.recognizer(t, testConfig())

	require.NoError(t, r1.OnActionObserved(context.Background(), f.action(t, "drive t a b")))
	require.NoError(t, r2.OnActionObserved(context.Background(), f.action(t, "drive t a b")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r1.metrics.observations.WithLabelValues("ok")))
}

func TestTelemetry_OwnedPrometheusExport(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.Observability.MetricsExporter = string(telemetry.ExporterPrometheus)
	ctx := context.Background()

	r, err := New(ctx, f.model, cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, r.OnActionObserved(ctx, f.action(t, "drive t a b")))

	handler := r.MetricsHandler()
	require.NotNil(t, handler)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "goalrec_recognition_observations_total")
	assert.Contains(t, body, "heuristic_tasks_total")

	assert.NoError(t, r.Terminate())
}

func TestTelemetry_NoExporterHasNoHandler(t *testing.T) {
	f := newFixture(t)
	r := f.recognizer(t, testConfig())
	assert.Nil(t, r.MetricsHandler())
}

func TestTelemetry_SharedProvidersCarrySpans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var buf bytes.Buffer
	providers, err := telemetry.New(ctx, telemetry.Config{Traces: telemetry.ExporterStdout, Output: &buf})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Observability.TracingEnabled = true
	r := f.recognizer(t, cfg, WithTelemetry(providers))
	require.NoError(t, r.OnActionObserved(ctx, f.action(t, "drive t a b")))
	require.NoError(t, r.Terminate())

	// Terminate leaves shared providers running.
	_, span := providers.TracerProvider().Tracer("test").Start(ctx, "after")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, providers.Shutdown(ctx))
	assert.Contains(t, buf.String(), "recognition.observe")
	assert.Contains(t, buf.String(), "heuristic.batch")
}

func TestTelemetry_TracingDisabledIgnoresProviders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var buf bytes.Buffer
	providers, err := telemetry.New(ctx, telemetry.Config{Traces: telemetry.ExporterStdout, Output: &buf})
	require.NoError(t, err)

	r := f.recognizer(t, testConfig(), WithTelemetry(providers))
	require.NoError(t, r.OnActionObserved(ctx, f.action(t, "drive t a b")))

	require.NoError(t, providers.Shutdown(ctx))
	assert.NotContains(t, buf.String(), "recognition.observe")
}

func TestNew_InvalidExporter(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.Observability.TracesExporter = "jaeger"
	_, err := New(context.Background(), f.model, cfg, WithRegisterer(f.reg))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
