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
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/goalrec/pkg/logging"
	"github.com/AleutianAI/goalrec/services/recognition/goalspace"
	"github.com/AleutianAI/goalrec/services/recognition/hypothesis"
	"github.com/AleutianAI/goalrec/services/recognition/telemetry"
	"github.com/AleutianAI/goalrec/services/recognition/work"
)

// Heuristic names accepted by Config.Heuristic.
const (
	HeuristicGoalCount = "goal-count"
	HeuristicRandom    = "random"
	HeuristicExternal  = "external"
)

// Initial distributions accepted by Config.InitialDistribution.
const (
	DistributionUniform     = "uniform"
	DistributionCausalValue = "causal-value"
)

// Config holds every recognizer setting. It is copied into the Recognizer
// by New and never changes afterwards.
type Config struct {
	// Lambda weighs movement evidence against the uniform floor, in [0, 1].
	Lambda float64 `yaml:"lambda" json:"lambda"`

	// WorkFunction is "single-action", "ml" or "mlt".
	WorkFunction string `yaml:"work_function" json:"work_function"`

	// ZeroStepsHelpful grants the plateau bonus to goals that stay achieved.
	ZeroStepsHelpful bool `yaml:"zero_steps_helpful" json:"zero_steps_helpful"`

	// StabilityThreshold is the minimum stability for FinalHypothesis.
	StabilityThreshold float64 `yaml:"stability_threshold" json:"stability_threshold"`

	// Epsilon is the group-sum tolerance used in verification mode.
	Epsilon float64 `yaml:"epsilon" json:"epsilon"`

	// MinimumProbability excludes members below it from hypotheses.
	MinimumProbability float64 `yaml:"minimum_probability" json:"minimum_probability"`

	// Workers bounds concurrent heuristic tasks. Zero means GOMAXPROCS.
	Workers int `yaml:"workers" json:"workers"`

	// SingleThreaded forces one heuristic worker.
	SingleThreaded bool `yaml:"single_threaded" json:"single_threaded"`

	// Heuristic is "goal-count", "random" or "external". "external"
	// requires WithEstimator.
	Heuristic string `yaml:"heuristic" json:"heuristic"`

	// RandomMaxDistance bounds the random heuristic's estimates.
	RandomMaxDistance int `yaml:"random_max_distance" json:"random_max_distance"`

	// TieBreak is "prefer-nearer" or "prefer-further".
	TieBreak string `yaml:"tie_break" json:"tie_break"`

	// Aggregation combines a fact's per-group probabilities: "average",
	// "max" or "min".
	Aggregation string `yaml:"aggregation" json:"aggregation"`

	// InitialDistribution is "uniform" or "causal-value".
	InitialDistribution string `yaml:"initial_distribution" json:"initial_distribution"`

	// VerifyGoalSpace checks group sums and hypothesis consistency after
	// every step and fails on violation.
	VerifyGoalSpace bool `yaml:"verify_goal_space" json:"verify_goal_space"`

	// Seed feeds the tie-break ranks and the random heuristic.
	Seed uint64 `yaml:"seed" json:"seed"`

	Journal       JournalConfig       `yaml:"journal" json:"journal"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// JournalConfig enables the per-step journal.
type JournalConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	InMemory   bool   `yaml:"in_memory" json:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes" json:"sync_writes"`
}

// ObservabilityConfig controls tracing, metrics and the default logger.
type ObservabilityConfig struct {
	TracingEnabled bool   `yaml:"tracing_enabled" json:"tracing_enabled"`
	MetricsEnabled bool   `yaml:"metrics_enabled" json:"metrics_enabled"`
	LogLevel       string `yaml:"log_level" json:"log_level"`

	// TracesExporter is "none", "stdout" or "otlp". Anything but "none"
	// makes New build its own providers unless WithTelemetry is given.
	TracesExporter string `yaml:"traces_exporter" json:"traces_exporter"`

	// MetricsExporter is "none", "stdout" or "prometheus".
	MetricsExporter string `yaml:"metrics_exporter" json:"metrics_exporter"`

	// OTLPEndpoint is the collector address for the otlp exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`

	// OTLPInsecure disables TLS towards the collector.
	OTLPInsecure bool `yaml:"otlp_insecure" json:"otlp_insecure"`
}

// telemetryConfig maps the exporter settings onto a telemetry.Config.
func (o ObservabilityConfig) telemetryConfig() telemetry.Config {
	return telemetry.Config{
		ServiceName: "goalrec",
		Traces:      telemetry.Exporter(o.TracesExporter),
		Metrics:     telemetry.Exporter(o.MetricsExporter),
		Endpoint:    o.OTLPEndpoint,
		Insecure:    o.OTLPInsecure,
	}
}

// exporting reports whether any exporter is configured.
func (o ObservabilityConfig) exporting() bool {
	none := func(e string) bool { return e == "" || e == string(telemetry.ExporterNone) }
	return !none(o.TracesExporter) || !none(o.MetricsExporter)
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		Lambda:              0.8,
		WorkFunction:        string(work.KindSingleAction),
		ZeroStepsHelpful:    true,
		StabilityThreshold:  1,
		Epsilon:             1e-6,
		MinimumProbability:  0,
		Workers:             0,
		SingleThreaded:      false,
		Heuristic:           HeuristicGoalCount,
		RandomMaxDistance:   10,
		TieBreak:            hypothesis.PreferNearer.String(),
		Aggregation:         "average",
		InitialDistribution: DistributionUniform,
		VerifyGoalSpace:     false,
		Seed:                1234,
		Journal: JournalConfig{
			Enabled:    false,
			SyncWrites: true,
		},
		Observability: ObservabilityConfig{
			TracingEnabled:  true,
			MetricsEnabled:  true,
			LogLevel:        "info",
			TracesExporter:  string(telemetry.ExporterNone),
			MetricsExporter: string(telemetry.ExporterNone),
		},
	}
}

// LoadConfig loads configuration with priority: env > file > defaults.
//
// Inputs:
//
//	path - YAML or JSON file. Optional; a missing file means defaults.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Non-nil if the file cannot be parsed or the result is invalid.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// YAML is a superset of JSON; the JSON attempt only improves the error.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(cfg *Config) {
	if v := os.Getenv("GOALREC_LAMBDA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Lambda = f
		}
	}
	if v := os.Getenv("GOALREC_WORK_FUNCTION"); v != "" {
		cfg.WorkFunction = v
	}
	if v := os.Getenv("GOALREC_ZERO_STEPS_HELPFUL"); v != "" {
		cfg.ZeroStepsHelpful = parseBool(v)
	}
	if v := os.Getenv("GOALREC_STABILITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.StabilityThreshold = f
		}
	}
	if v := os.Getenv("GOALREC_EPSILON"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Epsilon = f
		}
	}
	if v := os.Getenv("GOALREC_MINIMUM_PROBABILITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MinimumProbability = f
		}
	}
	if v := os.Getenv("GOALREC_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Workers = i
		}
	}
	if v := os.Getenv("GOALREC_SINGLE_THREADED"); v != "" {
		cfg.SingleThreaded = parseBool(v)
	}
	if v := os.Getenv("GOALREC_HEURISTIC"); v != "" {
		cfg.Heuristic = v
	}
	if v := os.Getenv("GOALREC_TIE_BREAK"); v != "" {
		cfg.TieBreak = v
	}
	if v := os.Getenv("GOALREC_AGGREGATION"); v != "" {
		cfg.Aggregation = v
	}
	if v := os.Getenv("GOALREC_INITIAL_DISTRIBUTION"); v != "" {
		cfg.InitialDistribution = v
	}
	if v := os.Getenv("GOALREC_VERIFY_GOAL_SPACE"); v != "" {
		cfg.VerifyGoalSpace = parseBool(v)
	}
	if v := os.Getenv("GOALREC_SEED"); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Seed = u
		}
	}

	// Journal
	if v := os.Getenv("GOALREC_JOURNAL_ENABLED"); v != "" {
		cfg.Journal.Enabled = parseBool(v)
	}
	if v := os.Getenv("GOALREC_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	// Observability
	if v := os.Getenv("GOALREC_TRACING_ENABLED"); v != "" {
		cfg.Observability.TracingEnabled = parseBool(v)
	}
	if v := os.Getenv("GOALREC_METRICS_ENABLED"); v != "" {
		cfg.Observability.MetricsEnabled = parseBool(v)
	}
	if v := os.Getenv("GOALREC_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("GOALREC_TRACES_EXPORTER"); v != "" {
		cfg.Observability.TracesExporter = v
	}
	if v := os.Getenv("GOALREC_METRICS_EXPORTER"); v != "" {
		cfg.Observability.MetricsExporter = v
	}
	if v := os.Getenv("GOALREC_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.OTLPEndpoint = v
	}
	if v := os.Getenv("GOALREC_OTLP_INSECURE"); v != "" {
		cfg.Observability.OTLPInsecure = parseBool(v)
	}
}

func parseBool(v string) bool {
	return v == "true" || v == "1"
}

// Validate checks that the configuration is usable.
//
// Outputs:
//
//	error - Wraps ErrInvalidConfig, naming the first offending field.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Lambda < 0 || c.Lambda > 1 {
		return invalid("lambda must be in [0, 1], got %v", c.Lambda)
	}
	if _, err := work.ParseKind(c.WorkFunction); err != nil {
		return invalid("work_function: %v", err)
	}
	if c.StabilityThreshold < 0 || c.StabilityThreshold > 1 {
		return invalid("stability_threshold must be in [0, 1], got %v", c.StabilityThreshold)
	}
	if c.Epsilon <= 0 {
		return invalid("epsilon must be > 0")
	}
	if c.MinimumProbability < 0 || c.MinimumProbability > 1 {
		return invalid("minimum_probability must be in [0, 1], got %v", c.MinimumProbability)
	}
	if c.Workers < 0 {
		return invalid("workers must be >= 0")
	}
	switch c.Heuristic {
	case HeuristicGoalCount, HeuristicExternal:
	case HeuristicRandom:
		if c.RandomMaxDistance < 1 {
			return invalid("random_max_distance must be >= 1")
		}
	default:
		return invalid("unknown heuristic %q", c.Heuristic)
	}
	if _, err := hypothesis.ParseDirection(c.TieBreak); err != nil {
		return invalid("tie_break: %v", err)
	}
	if _, err := goalspace.ParseAggregator(c.Aggregation); err != nil {
		return invalid("aggregation: %v", err)
	}
	switch c.InitialDistribution {
	case DistributionUniform, DistributionCausalValue:
	default:
		return invalid("unknown initial_distribution %q", c.InitialDistribution)
	}
	if c.Journal.Enabled && !c.Journal.InMemory && c.Journal.Path == "" {
		return invalid("journal.path is required for a persistent journal")
	}
	if _, err := logging.ParseLevel(c.Observability.LogLevel); err != nil {
		return invalid("log_level: %v", err)
	}
	if err := c.Observability.telemetryConfig().Validate(); err != nil {
		return invalid("observability: %v", err)
	}
	return nil
}
