// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "zero value", cfg: Config{}},
		{name: "all stdout", cfg: Config{Traces: ExporterStdout, Metrics: ExporterStdout}},
		{name: "otlp and prometheus", cfg: Config{Traces: ExporterOTLP, Metrics: ExporterPrometheus}},
		{name: "prometheus traces", cfg: Config{Traces: ExporterPrometheus}, wantErr: ErrUnknownExporter},
		{name: "otlp metrics", cfg: Config{Metrics: ExporterOTLP}, wantErr: ErrUnknownExporter},
		{name: "unknown", cfg: Config{Traces: "zipkin"}, wantErr: ErrUnknownExporter},
		{name: "negative interval", cfg: Config{MetricInterval: -1}, wantErr: ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNew_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := New(nil, Config{})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), Config{Metrics: "statsd"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestNew_NoneHandsOutNoop(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{Traces: ExporterNone, Metrics: ExporterNone})
	require.NoError(t, err)

	_, span := p.TracerProvider().Tracer("test").Start(ctx, "step")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NotNil(t, p.MeterProvider())
	assert.Nil(t, p.Registry())
	assert.Nil(t, p.Handler())
	assert.NoError(t, p.Shutdown(ctx))
}

func TestProviders_NilReceiver(t *testing.T) {
	var p *Providers
	assert.NotNil(t, p.TracerProvider())
	assert.NotNil(t, p.MeterProvider())
	assert.Nil(t, p.Registry())
	assert.Nil(t, p.Handler())
	assert.NoError(t, p.Shutdown(context.Background()))
	p.Install()
}

func TestNew_StdoutFlushesOnShutdown(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	p, err := New(ctx, Config{
		Traces:         ExporterStdout,
		Metrics:        ExporterStdout,
		Output:         &buf,
		MetricInterval: DefaultMetricInterval,
	})
	require.NoError(t, err)

	_, span := p.TracerProvider().Tracer("test").Start(ctx, "recognition.observe")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	counter, err := p.MeterProvider().Meter("test").Int64Counter("observed_steps_total")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	require.NoError(t, p.Shutdown(ctx))
	assert.Contains(t, buf.String(), "recognition.observe")
	assert.Contains(t, buf.String(), "observed_steps_total")
}

func TestNew_PrometheusRegistryServesInstruments(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	p, err := New(ctx, Config{Metrics: ExporterPrometheus, Registry: reg})
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(ctx) }()
	require.Same(t, reg, p.Registry())

	counter, err := p.MeterProvider().Meter("test").Int64Counter("observed_steps_total")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "observed_steps_total")
}

func TestNew_PrometheusPrivateRegistry(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{Metrics: ExporterPrometheus})
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(ctx) }()
	assert.NotNil(t, p.Registry())
	assert.NotNil(t, p.Handler())
}

func TestProviders_Install(t *testing.T) {
	prevMetrics := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetTracerProvider(tracenoop.NewTracerProvider()) })

	ctx := context.Background()
	var buf bytes.Buffer
	p, err := New(ctx, Config{Traces: ExporterStdout, Output: &buf})
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(ctx) }()

	p.Install()
	assert.Same(t, p.TracerProvider(), otel.GetTracerProvider())
	assert.Same(t, prevMetrics, otel.GetMeterProvider(), "metrics set to none keep the global")
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LoggerWithTrace(context.Background(), logger).Info("plain")
	assert.NotContains(t, buf.String(), "trace_id")
	buf.Reset()

	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	spanID := trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	LoggerWithTrace(ctx, logger).Info("traced")
	assert.Contains(t, buf.String(), traceID.String())
	assert.Contains(t, buf.String(), spanID.String())

	assert.NotNil(t, LoggerWithTrace(context.Background(), nil))
}
