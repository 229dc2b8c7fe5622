// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const plannerTracerName = "portfolio.planner"

// PlannerTracer provides OpenTelemetry tracing and structured logging for
// planning calls.
//
// Thread Safety: Safe for concurrent use.
type PlannerTracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewPlannerTracer creates a new tracer.
//
// Inputs:
//   - logger: Logger for structured logging (nil uses slog.Default()).
//   - provider: Tracer provider (nil uses the global provider).
//   - enabled: When false, spans are no-ops but logging still happens.
//
// Outputs:
//   - *PlannerTracer: Tracer instance.
func NewPlannerTracer(logger *slog.Logger, provider trace.TracerProvider, enabled bool) *PlannerTracer {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &PlannerTracer{
		tracer:  provider.Tracer(plannerTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartSelect starts a span for one Select call.
//
// Inputs:
//   - ctx: Parent context.
//   - kind: Planner kind.
//   - history: History being planned from.
//   - budget: Remaining budget.
//   - horizon: Planning horizon (1 for the myopic planner).
//
// Outputs:
//   - context.Context: Context with span.
//   - trace.Span: The created span (no-op if tracing disabled).
func (t *PlannerTracer) StartSelect(ctx context.Context, kind string, history History, budget float64, horizon int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	return t.tracer.Start(ctx, "planner.select",
		trace.WithAttributes(
			attribute.String("planner.kind", kind),
			attribute.Int("planner.history_len", history.Len()),
			attribute.Float64("planner.budget", budget),
			attribute.Int("planner.horizon", horizon),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSelect completes the select span and logs the decision.
//
// Inputs:
//   - ctx: Context carrying the span, used for log correlation.
//   - span: The span to end.
//   - kind: Planner kind.
//   - action: The chosen action (ignored when err is non-nil).
//   - value: Score or expected utility of the choice.
//   - nodes: Search nodes evaluated.
//   - err: Error if selection failed.
func (t *PlannerTracer) EndSelect(ctx context.Context, span trace.Span, kind string, action Action, value float64, nodes int, err error) {
	if span == nil {
		return
	}

	logger := LoggerWithTrace(ctx, t.logger)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		logger.DebugContext(ctx, "planner select failed",
			slog.String("planner", kind),
			slog.String("error", err.Error()),
		)
		return
	}

	span.SetAttributes(
		attribute.String("planner.action", action.Description),
		attribute.Int("planner.action_index", action.Index),
		attribute.Float64("planner.value", value),
		attribute.Int("planner.nodes", nodes),
	)
	span.SetStatus(codes.Ok, "")
	span.End()

	logger.DebugContext(ctx, "planner selected action",
		slog.String("planner", kind),
		slog.String("action", action.Description),
		slog.Float64("value", value),
		slog.Int("nodes", nodes),
	)
}

// TracePlan records a computed plan on the current span and logs it.
func (t *PlannerTracer) TracePlan(ctx context.Context, plan *Plan) {
	if plan == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	span.AddEvent("plan_computed",
		trace.WithAttributes(
			attribute.String("plan", plan.String()),
			attribute.Float64("expected_utility", plan.ExpectedUtility),
			attribute.Int("nodes", plan.NodesExpanded),
		),
	)

	LoggerWithTrace(ctx, t.logger).DebugContext(ctx, "computed plan",
		slog.String("plan", plan.String()),
		slog.Float64("expected_utility", plan.ExpectedUtility),
		slog.Int("nodes", plan.NodesExpanded),
	)
}

// LoggerWithTrace returns a logger with trace context.
//
// Inputs:
//   - ctx: Context that may contain trace information.
//   - logger: Base logger.
//
// Outputs:
//   - *slog.Logger: Logger with trace_id and span_id if available.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// Option configures a planner.
type Option func(*plannerOptions)

type plannerOptions struct {
	logger *slog.Logger
	tracer *PlannerTracer
}

// WithLogger sets the planner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *plannerOptions) {
		o.logger = logger
	}
}

// WithTracer sets the planner's tracer.
func WithTracer(tracer *PlannerTracer) Option {
	return func(o *plannerOptions) {
		o.tracer = tracer
	}
}

func applyOptions(kind string, opts []Option) plannerOptions {
	var o plannerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With(slog.String("component", "planner"), slog.String("planner", kind))
	if o.tracer == nil {
		o.tracer = NewPlannerTracer(o.logger, nil, true)
	}
	return o
}
