// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/config"
	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/planner"
	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/telemetry"
	"github.com/spf13/cobra"
)

// app carries process-wide state built once per invocation.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	providers *telemetry.Providers
	metrics   *telemetry.MetricsServer

	configPath  string
	logLevel    string
	traceStdout bool
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "portfolio",
		Short: "Budgeted action selection for algorithm portfolios",
		Long: `portfolio picks which algorithm to run next from a model of each
algorithm's cost and outcome distribution, simulates whole sessions against a
ground-truth model, and replays journaled sessions.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to a YAML or JSON config file")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&a.traceStdout, "trace-stdout", false, "Export trace spans to stderr")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")

	root.AddCommand(newSelectCmd(a), newRunCmd(a), newReplayCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Observability.LogLevel = a.logLevel
	}
	if a.traceStdout {
		cfg.Observability.TraceExporter = "stdout"
	}
	if a.metricsAddr != "" {
		cfg.Observability.MetricsAddr = a.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := cfg.Observability.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger)

	// Metrics go through the Prometheus client unless an endpoint is served.
	metricExporter := "none"
	if cfg.Observability.MetricsAddr != "" {
		metricExporter = cfg.Observability.MetricExporter
	}
	a.providers, err = telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:    cfg.Observability.ServiceName,
		TraceExporter:  cfg.Observability.TraceExporter,
		MetricExporter: metricExporter,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		Writer:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	if cfg.Observability.MetricsAddr != "" {
		a.metrics, err = telemetry.ServeMetrics(cfg.Observability.MetricsAddr, logger)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *app) teardown(*cobra.Command, []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if a.metrics != nil {
		errs = append(errs, a.metrics.Shutdown(ctx))
	}
	if a.providers != nil {
		errs = append(errs, a.providers.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// plannerOptions builds the logger and tracer options shared by every command.
func (a *app) plannerOptions() []planner.Option {
	return []planner.Option{
		planner.WithLogger(a.logger),
		planner.WithTracer(planner.NewPlannerTracer(a.logger, a.providers.Tracer, a.cfg.Observability.TracingEnabled)),
	}
}
