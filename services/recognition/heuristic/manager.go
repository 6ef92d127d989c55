// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package heuristic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/goalrec/services/recognition/domain"
	"github.com/AleutianAI/goalrec/services/recognition/fact"
)

// Config sizes the Manager's worker pool.
type Config struct {
	// Workers bounds the number of concurrent estimates.
	// Zero or negative means runtime.GOMAXPROCS(0).
	Workers int

	// SingleThreaded forces a pool of one worker.
	SingleThreaded bool
}

// DefaultConfig returns a pool sized to the available parallelism.
func DefaultConfig() Config {
	return Config{}
}

// poolSize resolves the effective worker count.
func (c Config) poolSize() int {
	if c.SingleThreaded {
		return 1
	}
	if c.Workers > 0 {
		return c.Workers
	}
	return max(runtime.GOMAXPROCS(0), 1)
}

// Manager computes and caches distance estimates for one recognition
// session.
//
// Description:
//
//	Estimates submits one task per uncached fact to a pool bounded by the
//	configured worker count and blocks until all of them return. Results
//	are cached until Advance moves to the next state. Unreachable goals are
//	cached as the Unreachable sentinel instead of failing the batch.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	est     Estimator
	workers int
	logger  *slog.Logger

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	inst           *instruments

	mu    sync.Mutex
	step  int
	cache map[fact.ID]float64

	flight singleflight.Group

	ctx        context.Context
	cancel     context.CancelFunc
	terminated atomic.Bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the Manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTracerProvider sets where batch spans go. The default is the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) ManagerOption {
	return func(m *Manager) {
		if tp != nil {
			m.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets where pool metrics go. The default is the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) ManagerOption {
	return func(m *Manager) {
		if mp != nil {
			m.meterProvider = mp
		}
	}
}

// NewManager creates a Manager around est.
//
// Inputs:
//
//	est - The distance estimator. Must not be nil.
//	cfg - Pool sizing.
//
// Outputs:
//
//	*Manager - Ready for use. Call Terminate when done.
//	error - ErrNilEstimator when est is nil.
func NewManager(est Estimator, cfg Config, opts ...ManagerOption) (*Manager, error) {
	if est == nil {
		return nil, ErrNilEstimator
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		est:            est,
		workers:        cfg.poolSize(),
		logger:         slog.Default(),
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
		cache:          make(map[fact.ID]float64),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.tracer = m.tracerProvider.Tracer(instrumentationName)
	inst, err := newInstruments(m.meterProvider)
	if err != nil {
		m.logger.Warn("heuristic metrics disabled", slog.String("error", err.Error()))
		inst = noopInstruments()
	}
	m.inst = inst
	return m, nil
}

// Workers returns the pool bound.
func (m *Manager) Workers() int {
	return m.workers
}

// Advance moves the estimator to state and clears the per-step cache.
func (m *Manager) Advance(state domain.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.step++
	clear(m.cache)
	m.est.Reset(state)
}

// Cached returns the cached estimate for f in the current step.
func (m *Manager) Cached(f fact.ID) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.cache[f]
	return d, ok
}

// Estimates returns a distance for every fact in facts.
//
// Description:
//
//	Cached facts are answered directly. Every other fact becomes one task
//	on the pool; an isolating estimator is branched per task. The call
//	blocks until all tasks finish. A task reporting ErrUnreachable yields
//	Unreachable. Any other estimator error cancels the remaining tasks and
//	is returned.
//
// Inputs:
//
//	ctx - Cancels the batch. Terminate cancels it as well.
//	facts - Facts to estimate. Duplicates are estimated once.
//
// Outputs:
//
//	map[fact.ID]float64 - One entry per distinct fact.
//	error - ErrTerminated after Terminate, or the first estimator failure.
func (m *Manager) Estimates(ctx context.Context, facts []fact.ID) (map[fact.ID]float64, error) {
	if m.terminated.Load() {
		return nil, ErrTerminated
	}

	out := make(map[fact.ID]float64, len(facts))
	var pending []fact.ID
	m.mu.Lock()
	for _, f := range facts {
		if _, seen := out[f]; seen {
			continue
		}
		if d, ok := m.cache[f]; ok {
			out[f] = d
			continue
		}
		out[f] = 0
		pending = append(pending, f)
	}
	m.mu.Unlock()

	cached := len(out) - len(pending)
	if len(pending) == 0 {
		m.inst.batch(ctx, 0, cached, 0, true)
		return out, nil
	}

	ctx, span := m.tracer.Start(ctx, "heuristic.batch",
		trace.WithAttributes(
			attribute.Int("heuristic.submitted", len(pending)),
			attribute.Int("heuristic.cached", cached),
			attribute.Int("heuristic.workers", m.workers),
		),
	)
	defer span.End()

	start := time.Now()
	results, err := m.run(ctx, pending)
	m.inst.batch(ctx, len(pending), cached, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.mu.Lock()
	for i, f := range pending {
		m.cache[f] = results[i]
		out[f] = results[i]
	}
	m.mu.Unlock()

	m.logger.Debug("heuristic batch complete",
		slog.Int("submitted", len(pending)),
		slog.Int("cached", cached),
		slog.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// run evaluates pending on the bounded pool. results[i] belongs to pending[i].
func (m *Manager) run(ctx context.Context, pending []fact.ID) ([]float64, error) {
	ctx, stop := m.bind(ctx)
	defer stop()

	results := make([]float64, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	isolate := m.est.RequiresIsolation()
	for i, f := range pending {
		est := m.est
		if isolate {
			est = m.est.Branch()
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := est.Distance(gctx, []fact.ID{f})
			switch {
			case errors.Is(err, ErrUnreachable):
				m.inst.task(gctx, "unreachable")
				results[i] = Unreachable
				return nil
			case err != nil:
				m.inst.task(gctx, "error")
				return fmt.Errorf("estimate fact %d: %w", f, err)
			}
			m.inst.task(gctx, "ok")
			results[i] = d
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if m.terminated.Load() {
			return nil, ErrTerminated
		}
		return nil, err
	}
	return results, nil
}

// Conjunction estimates the distance until every fact in facts holds at
// once. Concurrent identical queries within a step share one evaluation.
//
// Outputs:
//
//	float64 - The estimate, or Unreachable.
//	error - ErrTerminated after Terminate, or an estimator failure.
func (m *Manager) Conjunction(ctx context.Context, facts []fact.ID) (float64, error) {
	if m.terminated.Load() {
		return 0, ErrTerminated
	}
	m.mu.Lock()
	key := conjunctionKey(m.step, facts)
	m.mu.Unlock()

	v, err, _ := m.flight.Do(key, func() (any, error) {
		ctx, stop := m.bind(ctx)
		defer stop()
		est := m.est
		if est.RequiresIsolation() {
			est = est.Branch()
		}
		d, err := est.Distance(ctx, facts)
		if errors.Is(err, ErrUnreachable) {
			return Unreachable, nil
		}
		if err != nil {
			if m.terminated.Load() {
				return 0.0, ErrTerminated
			}
			return 0.0, fmt.Errorf("estimate conjunction: %w", err)
		}
		return d, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Terminate cancels in-flight tasks and rejects new batches. It is
// idempotent.
func (m *Manager) Terminate() {
	if m.terminated.Swap(true) {
		return
	}
	m.cancel()
	m.logger.Info("heuristic manager terminated")
}

// Terminated reports whether Terminate has been called.
func (m *Manager) Terminated() bool {
	return m.terminated.Load()
}

// bind derives a context that is also cancelled by Terminate.
func (m *Manager) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func conjunctionKey(step int, facts []fact.ID) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(step))
	for _, f := range facts {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(int(f)))
	}
	return b.String()
}
