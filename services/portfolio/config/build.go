// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/journal"
	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/model"
	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/planner"
	"github.com/mattn/go-isatty"
	"golang.org/x/time/rate"
)

// ErrNoModel is returned when no model spec path is configured.
var ErrNoModel = errors.New("model path is required")

// ParseLogLevel maps debug, info, warn, and error to slog levels.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger builds the process logger described by the observability config.
func (c ObservabilityConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	format := c.LogFormat
	if format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("service", c.ServiceName)), nil
}

// Models holds the planning model and the ground truth used for simulation.
type Models struct {
	Spec  *model.Spec
	Model planner.Model
	Truth planner.Model
}

// LoadModels loads the configured model spec and builds both models.
//
// Description:
//
//	The planning model is a Table or Multinomial built from Model.Path. The
//	truth model is the Table of Model.TruthPath when set, otherwise the Table
//	of the planning spec. The truth spec must describe the same actions.
func (c ModelConfig) LoadModels() (*Models, error) {
	if c.Path == "" {
		return nil, ErrNoModel
	}
	spec, err := model.LoadSpec(c.Path)
	if err != nil {
		return nil, err
	}

	var m planner.Model
	switch c.Kind {
	case ModelMultinomial:
		m, err = spec.Multinomial(c.Sampled)
	default:
		m, err = spec.Table()
	}
	if err != nil {
		return nil, fmt.Errorf("build %s model: %w", c.Kind, err)
	}

	truthSpec := spec
	if c.TruthPath != "" {
		truthSpec, err = model.LoadSpec(c.TruthPath)
		if err != nil {
			return nil, fmt.Errorf("load truth: %w", err)
		}
		if err := sameActions(spec, truthSpec); err != nil {
			return nil, err
		}
	}
	truth, err := truthSpec.Table()
	if err != nil {
		return nil, fmt.Errorf("build truth model: %w", err)
	}

	return &Models{Spec: spec, Model: m, Truth: truth}, nil
}

func sameActions(a, b *model.Spec) error {
	if len(a.Actions) != len(b.Actions) {
		return fmt.Errorf("truth spec has %d actions, model spec has %d", len(b.Actions), len(a.Actions))
	}
	for i := range a.Actions {
		if a.Actions[i].Description != b.Actions[i].Description ||
			len(a.Actions[i].Outcomes) != len(b.Actions[i].Outcomes) {
			return fmt.Errorf("truth action %d (%s) does not match model action %s",
				i, b.Actions[i].Description, a.Actions[i].Description)
		}
	}
	return nil
}

// Mask resolves DisabledActions against the model's actions. Nil when nothing is disabled.
func (c PlannerConfig) Mask(actions []planner.Action) ([]bool, error) {
	if len(c.DisabledActions) == 0 {
		return nil, nil
	}
	mask := make([]bool, len(actions))
	for i := range mask {
		mask[i] = true
	}
	for _, name := range c.DisabledActions {
		found := false
		for i, a := range actions {
			if a.Description == name {
				mask[i] = false
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("disabled action %q is not in the model", name)
		}
	}
	return mask, nil
}

// NewPlanner builds the configured planner for the given actions.
func (c PlannerConfig) NewPlanner(actions []planner.Action, opts ...planner.Option) (planner.Planner, error) {
	mask, err := c.Mask(actions)
	if err != nil {
		return nil, err
	}

	switch c.Kind {
	case planner.KindMyopic:
		p, err := planner.NewMyopicPlanner(c.Discount, mask, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case planner.KindHorizon:
		p, err := planner.NewHorizonPlanner(planner.HorizonConfig{
			Horizon:          c.Horizon,
			Discount:         c.Discount,
			Enabled:          mask,
			Workers:          c.Workers,
			ParallelDepth:    c.ParallelDepth,
			MaxNodes:         c.MaxNodes,
			CompoundDiscount: c.CompoundDiscount,
		}, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown planner kind %q", c.Kind)
	}
}

// Limiter returns the step limiter for StepRate, or nil when pacing is off.
func (c SessionConfig) Limiter() *rate.Limiter {
	if c.StepRate <= 0 {
		return nil
	}
	burst := c.StepBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.StepRate), burst)
}

// StoreConfig converts the journal settings for journal.Open.
func (c JournalConfig) StoreConfig(logger *slog.Logger) journal.StoreConfig {
	return journal.StoreConfig{
		Path:           c.Path,
		InMemory:       c.InMemory,
		SyncWrites:     c.SyncWrites,
		GCInterval:     c.GCInterval,
		GCDiscardRatio: c.GCDiscardRatio,
		Logger:         logger,
	}
}
