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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "goalrec.heuristic"

// instruments are one Manager's OTel metric instruments.
type instruments struct {
	tasks     metric.Int64Counter
	latency   metric.Float64Histogram
	size      metric.Int64Histogram
	cacheHits metric.Int64Counter
}

// newInstruments creates the instruments on a meter from mp.
func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	meter := mp.Meter(instrumentationName)
	var (
		in  instruments
		err error
	)
	if in.tasks, err = meter.Int64Counter(
		"heuristic_tasks_total",
		metric.WithDescription("Heuristic estimates computed, by outcome"),
	); err != nil {
		return nil, err
	}
	if in.latency, err = meter.Float64Histogram(
		"heuristic_batch_duration_seconds",
		metric.WithDescription("Duration of one step's heuristic batch"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if in.size, err = meter.Int64Histogram(
		"heuristic_batch_size",
		metric.WithDescription("Uncached facts submitted per batch"),
	); err != nil {
		return nil, err
	}
	if in.cacheHits, err = meter.Int64Counter(
		"heuristic_cache_hits_total",
		metric.WithDescription("Estimates served from the per-step cache"),
	); err != nil {
		return nil, err
	}
	return &in, nil
}

// noopInstruments never fails.
func noopInstruments() *instruments {
	in, _ := newInstruments(metricnoop.NewMeterProvider())
	return in
}

func (in *instruments) task(ctx context.Context, outcome string) {
	in.tasks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (in *instruments) batch(ctx context.Context, submitted, cached int, duration time.Duration, success bool) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	in.latency.Record(ctx, duration.Seconds(), attrs)
	in.size.Record(ctx, int64(submitted), attrs)
	if cached > 0 {
		in.cacheHits.Add(ctx, int64(cached))
	}
}
