// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads portfolio configuration and builds the components it
// describes (planner, models, journal, logger).
//
// Priority: environment (PORTFOLIO_*) > config file (YAML or JSON) > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Model kinds.
const (
	ModelTable       = "table"
	ModelMultinomial = "multinomial"
)

var configValidate = validator.New()

// Config contains all portfolio configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Planner selects and tunes the planner.
	Planner PlannerConfig `json:"planner" yaml:"planner"`

	// Model locates the model spec and picks the model kind.
	Model ModelConfig `json:"model" yaml:"model"`

	// Session contains simulated-run settings.
	Session SessionConfig `json:"session" yaml:"session"`

	// Journal contains transcript storage settings.
	Journal JournalConfig `json:"journal" yaml:"journal"`

	// Observability contains logging, tracing, and metrics settings.
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// PlannerConfig contains planner settings.
type PlannerConfig struct {
	Kind             string   `json:"kind" yaml:"kind" validate:"oneof=myopic horizon"`
	Horizon          int      `json:"horizon" yaml:"horizon" validate:"gte=1"`
	Discount         float64  `json:"discount" yaml:"discount" validate:"gt=0,lte=1"`
	DisabledActions  []string `json:"disabled_actions" yaml:"disabled_actions"`
	Workers          int      `json:"workers" yaml:"workers" validate:"gte=1"`
	ParallelDepth    int      `json:"parallel_depth" yaml:"parallel_depth" validate:"gte=1"`
	MaxNodes         int      `json:"max_nodes" yaml:"max_nodes" validate:"gte=0"`
	CompoundDiscount bool     `json:"compound_discount" yaml:"compound_discount"`
}

// ModelConfig contains model settings.
type ModelConfig struct {
	Path      string `json:"path" yaml:"path"`
	Kind      string `json:"kind" yaml:"kind" validate:"oneof=table multinomial"`
	Sampled   bool   `json:"sampled" yaml:"sampled"`
	TruthPath string `json:"truth_path" yaml:"truth_path"`
}

// SessionConfig contains simulated-run settings.
type SessionConfig struct {
	Budget      float64 `json:"budget" yaml:"budget" validate:"gte=0"`
	Sessions    int     `json:"sessions" yaml:"sessions" validate:"gte=1"`
	Parallelism int     `json:"parallelism" yaml:"parallelism" validate:"gte=1"`
	MaxSteps    int     `json:"max_steps" yaml:"max_steps" validate:"gte=0"`
	Seed        uint64  `json:"seed" yaml:"seed"`

	// StepRate caps executed actions per second across all sessions. Zero disables pacing.
	StepRate  float64 `json:"step_rate" yaml:"step_rate" validate:"gte=0"`
	StepBurst int     `json:"step_burst" yaml:"step_burst" validate:"gte=0"`
}

// JournalConfig contains journal settings.
type JournalConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Path           string        `json:"path" yaml:"path"`
	InMemory       bool          `json:"in_memory" yaml:"in_memory"`
	SyncWrites     bool          `json:"sync_writes" yaml:"sync_writes"`
	GCInterval     time.Duration `json:"gc_interval" yaml:"gc_interval"`
	GCDiscardRatio float64       `json:"gc_discard_ratio" yaml:"gc_discard_ratio" validate:"gte=0,lt=1"`
}

// ObservabilityConfig contains observability settings.
type ObservabilityConfig struct {
	TracingEnabled bool   `json:"tracing_enabled" yaml:"tracing_enabled"`
	TraceExporter  string `json:"trace_exporter" yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter" validate:"oneof=none prometheus stdout"`
	OTLPEndpoint   string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	LogLevel       string `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat      string `json:"log_format" yaml:"log_format" validate:"oneof=text json auto"`
	MetricsAddr    string `json:"metrics_addr" yaml:"metrics_addr"`
	ServiceName    string `json:"service_name" yaml:"service_name" validate:"required"`
}

// Default returns the default configuration.
//
// Outputs:
//   - Config: Default configuration with sensible values.
func Default() Config {
	return Config{
		Planner: PlannerConfig{
			Kind:          "horizon",
			Horizon:       2,
			Discount:      1.0,
			Workers:       1,
			ParallelDepth: 1,
		},
		Model: ModelConfig{
			Kind: ModelTable,
		},
		Session: SessionConfig{
			Budget:      100,
			Sessions:    1,
			Parallelism: 1,
			MaxSteps:    1000,
		},
		Journal: JournalConfig{
			Enabled:        false,
			Path:           "portfolio-journal",
			SyncWrites:     true,
			GCInterval:     5 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Observability: ObservabilityConfig{
			TracingEnabled: true,
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
			LogLevel:       "info",
			LogFormat:      "text",
			ServiceName:    "portfolio",
		},
	}
}

// Load loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - configPath: Path to YAML/JSON config file (optional, can be empty).
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if the file exists but is invalid, or the result fails validation.
func Load(configPath string) (Config, error) {
	config := Default()

	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(config *Config) {
	// Planner
	if v := os.Getenv("PORTFOLIO_PLANNER"); v != "" {
		config.Planner.Kind = v
	}
	if v := os.Getenv("PORTFOLIO_HORIZON"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Planner.Horizon = i
		}
	}
	if v := os.Getenv("PORTFOLIO_DISCOUNT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Planner.Discount = f
		}
	}
	if v := os.Getenv("PORTFOLIO_DISABLED_ACTIONS"); v != "" {
		config.Planner.DisabledActions = splitList(v)
	}
	if v := os.Getenv("PORTFOLIO_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Planner.Workers = i
		}
	}
	if v := os.Getenv("PORTFOLIO_MAX_NODES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Planner.MaxNodes = i
		}
	}
	if v := os.Getenv("PORTFOLIO_COMPOUND_DISCOUNT"); v != "" {
		config.Planner.CompoundDiscount = v == "true" || v == "1"
	}

	// Model
	if v := os.Getenv("PORTFOLIO_MODEL"); v != "" {
		config.Model.Path = v
	}
	if v := os.Getenv("PORTFOLIO_MODEL_KIND"); v != "" {
		config.Model.Kind = v
	}
	if v := os.Getenv("PORTFOLIO_MODEL_SAMPLED"); v != "" {
		config.Model.Sampled = v == "true" || v == "1"
	}
	if v := os.Getenv("PORTFOLIO_TRUTH"); v != "" {
		config.Model.TruthPath = v
	}

	// Session
	if v := os.Getenv("PORTFOLIO_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Session.Budget = f
		}
	}
	if v := os.Getenv("PORTFOLIO_SESSIONS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Session.Sessions = i
		}
	}
	if v := os.Getenv("PORTFOLIO_PARALLELISM"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Session.Parallelism = i
		}
	}
	if v := os.Getenv("PORTFOLIO_SEED"); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Session.Seed = u
		}
	}
	if v := os.Getenv("PORTFOLIO_STEP_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Session.StepRate = f
		}
	}

	// Journal
	if v := os.Getenv("PORTFOLIO_JOURNAL_ENABLED"); v != "" {
		config.Journal.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PORTFOLIO_JOURNAL_PATH"); v != "" {
		config.Journal.Path = v
	}

	// Observability
	if v := os.Getenv("PORTFOLIO_LOG_LEVEL"); v != "" {
		config.Observability.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("PORTFOLIO_LOG_FORMAT"); v != "" {
		config.Observability.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("PORTFOLIO_TRACING_ENABLED"); v != "" {
		config.Observability.TracingEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("OTEL_TRACES_EXPORTER"); v != "" {
		config.Observability.TraceExporter = v
	}
	if v := os.Getenv("OTEL_METRICS_EXPORTER"); v != "" {
		config.Observability.MetricExporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		config.Observability.OTLPEndpoint = v
	}
	if v := os.Getenv("PORTFOLIO_METRICS_ADDR"); v != "" {
		config.Observability.MetricsAddr = v
	}
}

// Validate checks that the configuration is valid.
//
// Outputs:
//   - error: Non-nil if configuration is invalid.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return err
	}
	if c.Journal.Enabled && !c.Journal.InMemory && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	if c.Model.Sampled && c.Model.Kind != ModelMultinomial {
		return fmt.Errorf("model.sampled requires model.kind %q", ModelMultinomial)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
