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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Exporter names a telemetry backend.
type Exporter string

const (
	// ExporterNone disables the signal.
	ExporterNone Exporter = "none"

	// ExporterStdout writes the signal to Config.Output.
	ExporterStdout Exporter = "stdout"

	// ExporterOTLP sends traces to an OTLP/gRPC collector.
	ExporterOTLP Exporter = "otlp"

	// ExporterPrometheus exposes metrics on Config.Registry.
	ExporterPrometheus Exporter = "prometheus"
)

// DefaultMetricInterval is the stdout metric export period.
const DefaultMetricInterval = 30 * time.Second

// Config selects the exporters for one recognition process.
type Config struct {
	// ServiceName is reported as service.name. Empty means "goalrec".
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// Traces is none, stdout or otlp. Empty means none.
	Traces Exporter

	// Metrics is none, stdout or prometheus. Empty means none.
	Metrics Exporter

	// Endpoint is the OTLP collector address. Empty uses the exporter's
	// default.
	Endpoint string

	// Insecure disables TLS towards the OTLP collector.
	Insecure bool

	// Registry receives the Prometheus exporter's collector. Nil creates a
	// private registry.
	Registry *prometheus.Registry

	// Output receives stdout exports. Nil means os.Stdout.
	Output io.Writer

	// MetricInterval is the stdout metric export period. Zero means
	// DefaultMetricInterval.
	MetricInterval time.Duration
}

// Validate reports an exporter that does not fit its signal.
func (c Config) Validate() error {
	switch c.Traces {
	case "", ExporterNone, ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("%w: traces %q", ErrUnknownExporter, c.Traces)
	}
	switch c.Metrics {
	case "", ExporterNone, ExporterStdout, ExporterPrometheus:
	default:
		return fmt.Errorf("%w: metrics %q", ErrUnknownExporter, c.Metrics)
	}
	if c.MetricInterval < 0 {
		return fmt.Errorf("%w: negative metric interval", ErrInvalidConfig)
	}
	return nil
}

// Providers owns the trace and metric providers built from a Config.
//
// A nil *Providers, or a signal configured as none, hands out no-op
// providers, so callers never branch on whether telemetry is on.
//
// Thread Safety: Safe for concurrent use.
type Providers struct {
	traces   *sdktrace.TracerProvider
	metrics  *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// New builds the providers named by cfg.
//
// Description:
//
//	Exporters are created eagerly so configuration mistakes surface here.
//	The providers are not installed globally; see Install.
//
// Inputs:
//
//	ctx - Context for exporter setup. Must not be nil.
//	cfg - Exporter selection. Must pass Validate.
//
// Outputs:
//
//	*Providers - Call Shutdown when done.
//	error - ErrNilContext, ErrUnknownExporter, or an exporter failure.
func New(ctx context.Context, cfg Config) (*Providers, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "goalrec"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	p := &Providers{}
	var err error
	if p.traces, err = newTraceProvider(ctx, cfg, res); err != nil {
		return nil, fmt.Errorf("trace provider: %w", err)
	}
	if p.metrics, p.registry, err = newMeterProvider(cfg, res); err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("meter provider: %w", err)
	}
	return p, nil
}

func newTraceProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Traces {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(cfg.Output))
	case ExporterOTLP:
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func newMeterProvider(cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, *prometheus.Registry, error) {
	switch cfg.Metrics {
	case ExporterStdout:
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Output))
		if err != nil {
			return nil, nil, err
		}
		interval := cfg.MetricInterval
		if interval == 0 {
			interval = DefaultMetricInterval
		}
		reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)), nil, nil
	case ExporterPrometheus:
		reg := cfg.Registry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return nil, nil, err
		}
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter)), reg, nil
	default:
		return nil, nil, nil
	}
}

// TracerProvider returns the trace provider, or a no-op one.
func (p *Providers) TracerProvider() trace.TracerProvider {
	if p == nil || p.traces == nil {
		return tracenoop.NewTracerProvider()
	}
	return p.traces
}

// MeterProvider returns the metric provider, or a no-op one.
func (p *Providers) MeterProvider() metric.MeterProvider {
	if p == nil || p.metrics == nil {
		return metricnoop.NewMeterProvider()
	}
	return p.metrics
}

// Registry returns the Prometheus registry, or nil unless metrics use the
// Prometheus exporter.
func (p *Providers) Registry() *prometheus.Registry {
	if p == nil {
		return nil
	}
	return p.registry
}

// Handler serves Registry in the Prometheus exposition format. It is nil
// when Registry is nil.
func (p *Providers) Handler() http.Handler {
	if p.Registry() == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Install makes the configured providers the otel globals. Signals
// configured as none keep the current global.
func (p *Providers) Install() {
	if p == nil {
		return
	}
	if p.traces != nil {
		otel.SetTracerProvider(p.traces)
	}
	if p.metrics != nil {
		otel.SetMeterProvider(p.metrics)
	}
}

// Shutdown flushes and stops both providers. It is safe to call more than
// once; later calls report the providers' own shutdown errors.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.traces != nil {
		errs = append(errs, p.traces.Shutdown(ctx))
	}
	if p.metrics != nil {
		errs = append(errs, p.metrics.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// LoggerWithTrace returns logger annotated with the trace and span ids in
// ctx. Without a valid span the logger is returned unchanged; a nil logger
// becomes slog.Default().
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
