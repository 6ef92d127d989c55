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
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/AleutianAI/goalrec/pkg/logging"
	"github.com/AleutianAI/goalrec/services/recognition/bayes"
	"github.com/AleutianAI/goalrec/services/recognition/domain"
	"github.com/AleutianAI/goalrec/services/recognition/fact"
	"github.com/AleutianAI/goalrec/services/recognition/goalspace"
	"github.com/AleutianAI/goalrec/services/recognition/heuristic"
	"github.com/AleutianAI/goalrec/services/recognition/history"
	"github.com/AleutianAI/goalrec/services/recognition/hypothesis"
	"github.com/AleutianAI/goalrec/services/recognition/journal"
	"github.com/AleutianAI/goalrec/services/recognition/stability"
	"github.com/AleutianAI/goalrec/services/recognition/telemetry"
	"github.com/AleutianAI/goalrec/services/recognition/threads"
	"github.com/AleutianAI/goalrec/services/recognition/work"
)

const (
	tracerName = "goalrec.recognition"

	// shutdownTimeout bounds flushing owned telemetry in Terminate.
	shutdownTimeout = 5 * time.Second
)

// Option customizes a Recognizer.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	estimator     heuristic.Estimator
	scheduler     threads.Scheduler
	registerer    prometheus.Registerer
	registererSet bool
	telemetry     *telemetry.Providers
	journal       *journal.Journal
	sessionID     string
	now           func() time.Time
}

// WithLogger sets the logger. By default one is built from
// Config.Observability.LogLevel.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEstimator supplies the distance estimator. It overrides
// Config.Heuristic and is required when Heuristic is "external".
func WithEstimator(est heuristic.Estimator) Option {
	return func(o *options) { o.estimator = est }
}

// WithScheduler replaces the default causal plan-thread scheduler.
func WithScheduler(s threads.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithRegisterer sets where metrics are registered. The default is the
// telemetry registry when metrics export through Prometheus, otherwise
// prometheus.DefaultRegisterer. A nil reg leaves the collectors
// unregistered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
		o.registererSet = true
	}
}

// WithTelemetry shares trace and metric providers, overriding the
// exporters in Config.Observability. The Recognizer does not shut them
// down.
func WithTelemetry(p *telemetry.Providers) Option {
	return func(o *options) { o.telemetry = p }
}

// WithJournal shares an open journal. The Recognizer does not close it.
func WithJournal(j *journal.Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(o *options) { o.sessionID = id }
}

// WithClock overrides the observation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Recognizer is an online goal recognizer for one observed agent.
type Recognizer struct {
	cfg       Config
	model     *domain.Model
	facts     *fact.Table
	sessionID string

	space     *goalspace.GoalSpace
	history   *history.History
	tracker   *stability.Tracker
	engine    *bayes.Engine
	extractor *hypothesis.Extractor
	manager   *heuristic.Manager
	scheduler threads.Scheduler

	// durable holds terminal facts that have been achieved; excluded holds
	// the facts sharing a group with them.
	durable  fact.Set
	excluded fact.Set

	initial hypothesis.Hypothesis

	journal     *journal.Journal
	ownsJournal bool

	metrics       *metrics
	tracer        trace.Tracer
	logger        *slog.Logger
	telemetry     *telemetry.Providers
	ownsTelemetry bool

	terminated atomic.Bool
	termOnce   sync.Once
	termErr    error
}

// New builds a Recognizer for model.
//
// Description:
//
//	Builds the goal space from the model's mutex groups, adding a
//	NoneOfGroup member to each. Static, strictly activating and
//	unreachable facts are never candidates, and facts whose initial
//	distance is unreachable are pruned. Groups left without a positive
//	member are dropped. The initial distribution is then set and the
//	initial hypothesis extracted.
//
//	New interns the NoneOfGroup facts into model.Facts, so recognizers must
//	not be built from one model concurrently.
//
// Inputs:
//
//	ctx - Bounds the initial heuristic batch.
//	model - The grounded domain. Must pass Validate.
//	cfg - Settings. Must pass Validate.
//	opts - Optional collaborators.
//
// Outputs:
//
//	*Recognizer - Ready for observations. Call Terminate when done.
//	error - ErrInvalidConfig, domain.ErrInvalidModel, a telemetry exporter
//	        failure, or a heuristic failure.
func New(ctx context.Context, model *domain.Model, cfg Config, opts ...Option) (*Recognizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", ErrInvalidConfig)
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}

	r := &Recognizer{
		cfg:       cfg,
		model:     model,
		facts:     model.Facts,
		sessionID: o.sessionID,
		tracker:   stability.NewTracker(),
		durable:   fact.NewSet(),
		excluded:  fact.NewSet(),
	}
	r.logger = r.buildLogger(o.logger)
	if err := r.setupTelemetry(ctx, o.telemetry); err != nil {
		return nil, err
	}
	r.tracer = r.tracerProvider().Tracer(tracerName)

	if err := r.build(ctx, o); err != nil {
		_ = r.release()
		return nil, err
	}

	r.logger.Info("recognizer ready",
		slog.Int("groups", r.space.NumGroups()),
		slog.Int("candidates", len(r.history.Candidates())),
		slog.Int("workers", r.manager.Workers()),
		slog.String("work_function", cfg.WorkFunction))
	return r, nil
}

// build wires the metrics and the heuristic manager, then runs init.
func (r *Recognizer) build(ctx context.Context, o options) error {
	cfg := r.cfg
	registerer := o.registerer
	if !o.registererSet {
		registerer = prometheus.DefaultRegisterer
		if reg := r.telemetry.Registry(); reg != nil {
			registerer = reg
		}
	}
	if !cfg.Observability.MetricsEnabled {
		registerer = nil
	}
	m, err := newMetrics(registerer)
	if err != nil {
		return err
	}
	r.metrics = m

	est, err := r.buildEstimator(o.estimator)
	if err != nil {
		return err
	}
	managerOpts := []heuristic.ManagerOption{
		heuristic.WithLogger(r.logger),
		heuristic.WithTracerProvider(r.tracerProvider()),
	}
	if r.telemetry != nil {
		managerOpts = append(managerOpts, heuristic.WithMeterProvider(r.telemetry.MeterProvider()))
	}
	r.manager, err = heuristic.NewManager(est, heuristic.Config{
		Workers:        cfg.Workers,
		SingleThreaded: cfg.SingleThreaded,
	}, managerOpts...)
	if err != nil {
		return err
	}
	return r.init(ctx, o)
}

// init builds the goal space and every component that reads it.
func (r *Recognizer) init(ctx context.Context, o options) error {
	cfg := r.cfg
	agg, _ := goalspace.ParseAggregator(cfg.Aggregation)
	kind, _ := work.ParseKind(cfg.WorkFunction)
	direction, _ := hypothesis.ParseDirection(cfg.TieBreak)

	groups, candidates := r.candidateGroups()
	dists, err := r.manager.Estimates(ctx, candidates)
	if err != nil {
		return fmt.Errorf("initial estimates: %w", err)
	}

	r.space = goalspace.New(agg)
	initialDists := make(map[fact.ID]float64, len(dists))
	for i, members := range groups {
		var positives []fact.ID
		for _, f := range members {
			if heuristic.IsUnreachable(dists[f]) {
				continue
			}
			positives = append(positives, f)
			initialDists[f] = dists[f]
		}
		if len(positives) == 0 {
			continue
		}
		noneOf := r.facts.Intern(fact.NoneOf(i))
		r.space.AddGroup(noneOf, positives)
	}
	if r.space.NumGroups() == 0 {
		return fmt.Errorf("%w: no group has a reachable candidate", domain.ErrInvalidModel)
	}
	if pruned := len(dists) - len(initialDists); pruned > 0 {
		r.metrics.goalsPruned.WithLabelValues(pruneUnreachable).Add(float64(pruned))
		r.logger.Info("pruned unreachable goals", slog.Int("count", pruned), slog.Int("step", 0))
	}

	if cfg.InitialDistribution == DistributionCausalValue {
		r.applyCausalValue()
	}
	if cfg.VerifyGoalSpace {
		if err := r.space.Verify(cfg.Epsilon); err != nil {
			return err
		}
	}

	initial := r.model.Initial
	for f := range initialDists {
		r.tracker.Track(f, initial.Has(f))
	}
	r.history = history.New(initial, initialDists, cfg.ZeroStepsHelpful, history.WithClock(o.now))

	fn, err := work.New(kind)
	if err != nil {
		return err
	}
	r.engine, err = bayes.NewEngine(cfg.Lambda, fn, r.tracker)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	r.engine.Ledger().Record(r.space)

	tie := hypothesis.NewTieBreaker(r.facts, r.history, r.model.Layer, direction, cfg.Seed)
	r.extractor = hypothesis.NewExtractor(r.space, r.facts, tie, hypothesis.Options{
		MinimumProbability: cfg.MinimumProbability,
		Verify:             cfg.VerifyGoalSpace,
	})

	r.scheduler = o.scheduler
	if r.scheduler == nil {
		r.scheduler = threads.NewCausalScheduler(r.model)
	}

	if err := r.openJournal(o); err != nil {
		return err
	}

	r.initial, err = r.extract(context.Background(), "initial", nil)
	if err != nil {
		return err
	}
	return nil
}

// candidateGroups filters the model's groups down to candidate facts. The
// returned groups are indexed like model.Groups; candidates is their
// de-duplicated union.
func (r *Recognizer) candidateGroups() ([][]fact.ID, []fact.ID) {
	groups := make([][]fact.ID, len(r.model.Groups))
	seen := fact.NewSet()
	var candidates []fact.ID
	for i, members := range r.model.Groups {
		for _, f := range members {
			if r.facts.IsStatic(f) || r.facts.IsNoneOf(f) ||
				r.model.Activating.Has(f) || !r.model.IsReachable(f) {
				continue
			}
			groups[i] = append(groups[i], f)
			if !seen.Has(f) {
				seen.Add(f)
				candidates = append(candidates, f)
			}
		}
	}
	return groups, candidates
}

// applyCausalValue replaces the uniform prior of positive members with
// λ·value + (1-λ)/|group|, divided by the fact's causal-graph layer when it
// is positive. value is the share of action effects that add the fact.
func (r *Recognizer) applyCausalValue() {
	usage := r.model.Usage()
	lambda := r.cfg.Lambda
	for _, g := range r.space.Groups() {
		members := r.space.Members(g)
		floor := (1 - lambda) / float64(len(members))
		for _, f := range r.space.Positive(g) {
			u := usage[f]
			var value float64
			if total := u.Adds + u.Deletes + u.Requires; total > 0 {
				value = float64(u.Adds) / float64(total)
			}
			p := lambda*value + floor
			if layer := r.model.Layer(f); layer > 0 {
				p = min(p/layer, 1)
			}
			_ = r.space.SetInGroup(g, f, p)
		}
		r.space.Normalize(g)
	}
}

func (r *Recognizer) buildLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		level, _ := logging.ParseLevel(r.cfg.Observability.LogLevel)
		logger = logging.New(logging.Config{Level: level, Service: "goalrec"}).Slog()
	}
	return logger.With(
		slog.String("component", "recognizer"),
		slog.String("session_id", r.sessionID),
	)
}

// setupTelemetry adopts shared providers, or builds owned ones when an
// exporter is configured. Without either, the otel globals are used.
func (r *Recognizer) setupTelemetry(ctx context.Context, shared *telemetry.Providers) error {
	if shared != nil {
		r.telemetry = shared
		return nil
	}
	if !r.cfg.Observability.exporting() {
		return nil
	}
	p, err := telemetry.New(ctx, r.cfg.Observability.telemetryConfig())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	r.telemetry = p
	r.ownsTelemetry = true
	return nil
}

func (r *Recognizer) tracerProvider() trace.TracerProvider {
	switch {
	case !r.cfg.Observability.TracingEnabled:
		return noop.NewTracerProvider()
	case r.telemetry != nil:
		return r.telemetry.TracerProvider()
	default:
		return otel.GetTracerProvider()
	}
}

func (r *Recognizer) buildEstimator(injected heuristic.Estimator) (heuristic.Estimator, error) {
	if injected != nil {
		return injected, nil
	}
	switch r.cfg.Heuristic {
	case HeuristicGoalCount:
		return heuristic.NewGoalCount(r.model.Initial), nil
	case HeuristicRandom:
		return heuristic.NewRandom(r.cfg.Seed, r.cfg.RandomMaxDistance), nil
	default:
		return nil, fmt.Errorf("%w: heuristic %q requires WithEstimator", ErrInvalidConfig, r.cfg.Heuristic)
	}
}

func (r *Recognizer) openJournal(o options) error {
	if o.journal != nil {
		r.journal = o.journal
		return nil
	}
	if !r.cfg.Journal.Enabled {
		return nil
	}
	jcfg := journal.InMemoryConfig()
	if !r.cfg.Journal.InMemory {
		jcfg = journal.DefaultConfig(r.cfg.Journal.Path)
		jcfg.SyncWrites = r.cfg.Journal.SyncWrites
	}
	jcfg.Logger = r.logger
	j, err := journal.Open(jcfg)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	r.journal = j
	r.ownsJournal = true
	return nil
}

// Terminate cancels in-flight heuristic work, closes an owned journal and
// flushes owned telemetry. It is idempotent and safe to call from any
// goroutine.
func (r *Recognizer) Terminate() error {
	r.termOnce.Do(func() {
		r.terminated.Store(true)
		r.termErr = r.release()
		r.logger.Info("recognizer terminated", slog.Int("steps", r.history.Steps()))
	})
	return r.termErr
}

// release stops whatever New managed to build.
func (r *Recognizer) release() error {
	if r.manager != nil {
		r.manager.Terminate()
	}
	var errs []error
	if r.ownsJournal {
		errs = append(errs, r.journal.Close())
	}
	if r.ownsTelemetry {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errs = append(errs, r.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// MetricsHandler serves the telemetry registry, which holds the
// recognizer's collectors and the heuristic instruments. It is nil unless
// metrics export through Prometheus.
func (r *Recognizer) MetricsHandler() http.Handler {
	return r.telemetry.Handler()
}

// SessionID returns the id used for logs and journal entries.
func (r *Recognizer) SessionID() string {
	return r.sessionID
}
