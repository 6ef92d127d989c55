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
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "goalrec"
	metricsSubsystem = "recognition"
)

// Prune reasons reported by goals_pruned_total.
const (
	pruneUnreachable        = "unreachable"
	pruneUnstableActivating = "unstable_activating"
)

// metrics are the recognizer's Prometheus collectors. Recognizers sharing a
// registerer share the collectors.
type metrics struct {
	observations   *prometheus.CounterVec
	goalsPruned    *prometheus.CounterVec
	extractions    *prometheus.CounterVec
	stepDuration   prometheus.Histogram
	candidates     prometheus.Gauge
	journalFailure prometheus.Counter
}

// newMetrics builds and registers the collectors. A nil registerer leaves
// them unregistered, which keeps them usable but unexported.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "observations_total",
			Help:      "Observed actions by outcome",
		}, []string{"status"}),
		goalsPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "goals_pruned_total",
			Help:      "Candidate goals removed from the goal space by reason",
		}, []string{"reason"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "hypothesis_extractions_total",
			Help:      "Hypothesis extractions by kind",
		}, []string{"kind"}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "step_duration_seconds",
			Help:      "Time to process one observed action",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "candidate_goals",
			Help:      "Candidate goals tracked by the most recently stepped recognizer",
		}),
		journalFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "journal_failures_total",
			Help:      "Journal appends that failed",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.observations, err = register(reg, m.observations); err != nil {
		return nil, err
	}
	if m.goalsPruned, err = register(reg, m.goalsPruned); err != nil {
		return nil, err
	}
	if m.extractions, err = register(reg, m.extractions); err != nil {
		return nil, err
	}
	if m.stepDuration, err = register(reg, m.stepDuration); err != nil {
		return nil, err
	}
	if m.candidates, err = register(reg, m.candidates); err != nil {
		return nil, err
	}
	if m.journalFailure, err = register(reg, m.journalFailure); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, or returns the collector already registered under
// the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register metrics: %w", err)
}
