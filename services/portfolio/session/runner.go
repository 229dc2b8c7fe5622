// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/journal"
	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/planner"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultMaxSteps bounds sessions whose actions can cost nothing.
const DefaultMaxSteps = 1000

// budgetTolerance is the relative slack under which a remaining budget counts
// as spent. Repeated subtraction of fractional costs leaves rounding residue.
const budgetTolerance = 1e-9

// Journal records session transcripts. *journal.Journal implements it.
type Journal interface {
	Begin(ctx context.Context, meta journal.Meta) error
	Append(ctx context.Context, sessionID string, entry journal.Entry) error
	Finish(ctx context.Context, sessionID string, reason string) error
}

// Result summarizes one finished session.
type Result struct {
	SessionID  string
	Seed       uint64
	Budget     float64
	History    planner.History
	Spent      float64
	Remaining  float64
	Utility    float64
	Final      bool
	StopReason string
	Duration   time.Duration
}

// Runner executes sessions.
//
// Thread Safety: Safe for concurrent use; each Run owns its rng and history.
type Runner struct {
	planner     planner.Planner
	model       planner.Model
	executor    Executor
	domain      Domain
	journal     Journal
	modelName   string
	maxSteps    int
	parallelism int
	limiter     *rate.Limiter
	logger      *slog.Logger
	tracer      trace.Tracer
	newID       func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithJournal records every session in j.
func WithJournal(j Journal) Option {
	return func(r *Runner) { r.journal = j }
}

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxSteps caps the number of steps per session. Values <= 0 remove the cap.
func WithMaxSteps(n int) Option {
	return func(r *Runner) { r.maxSteps = n }
}

// WithParallelism sets how many sessions RunAll runs at once.
func WithParallelism(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// WithStepLimiter paces Execute calls across every session of the runner.
// A nil limiter removes pacing.
func WithStepLimiter(limiter *rate.Limiter) Option {
	return func(r *Runner) { r.limiter = limiter }
}

// WithModelName labels journaled sessions.
func WithModelName(name string) Option {
	return func(r *Runner) { r.modelName = name }
}

// WithTracerProvider sets the provider for session spans.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(r *Runner) {
		if provider != nil {
			r.tracer = provider.Tracer("portfolio.session")
		}
	}
}

// NewRunner creates a session runner.
//
// Inputs:
//   - p: Planner used for every selection.
//   - m: Model the planner reasons with.
//   - exec: Executor that runs selected actions.
//   - domain: Goal test.
//   - opts: Journal, logging, and limits.
//
// Outputs:
//   - *Runner: The runner.
//   - error: ErrNilComponent if a required component is nil.
func NewRunner(p planner.Planner, m planner.Model, exec Executor, domain Domain, opts ...Option) (*Runner, error) {
	switch {
	case p == nil:
		return nil, fmt.Errorf("%w: planner", ErrNilComponent)
	case m == nil:
		return nil, fmt.Errorf("%w: model", ErrNilComponent)
	case exec == nil:
		return nil, fmt.Errorf("%w: executor", ErrNilComponent)
	case domain == nil:
		return nil, fmt.Errorf("%w: domain", ErrNilComponent)
	}

	r := &Runner{
		planner:     p,
		model:       m,
		executor:    exec,
		domain:      domain,
		maxSteps:    DefaultMaxSteps,
		parallelism: 1,
		logger:      slog.Default(),
		tracer:      otel.Tracer("portfolio.session"),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "session"), slog.String("planner", p.Kind()))
	return r, nil
}

// Run executes one session.
//
// Description:
//
//	The session rng is seeded from seed and shared by the planner and the
//	executor, so a session is reproducible for a fixed seed when the planner,
//	model, and executor are. Planner and executor errors fail the session;
//	ErrNoEligibleAction from the planner ends it normally.
//
// Inputs:
//   - ctx: Cancellation and tracing.
//   - seed: Seed for the session rng.
//   - budget: Starting budget.
//
// Outputs:
//   - *Result: The session summary. Non-nil even on error, with StopReason "error".
//   - error: Non-nil if the planner, executor, or journal failed.
func (r *Runner) Run(ctx context.Context, seed uint64, budget float64) (*Result, error) {
	start := time.Now()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	actions := r.model.Actions()

	result := &Result{
		SessionID: r.newID(),
		Seed:      seed,
		Budget:    budget,
		Remaining: budget,
	}
	logger := r.logger.With(slog.String("session_id", result.SessionID), slog.Uint64("seed", seed))

	ctx, span := r.tracer.Start(ctx, "session.run",
		trace.WithAttributes(
			attribute.String("session.id", result.SessionID),
			attribute.Int64("session.seed", int64(seed)),
			attribute.Float64("session.budget", budget),
		),
	)
	defer span.End()

	sessionsActive.Inc()
	defer sessionsActive.Dec()

	finish := func(reason string, err error) (*Result, error) {
		result.StopReason = reason
		result.Final = reason == ReasonFinal
		result.Duration = time.Since(start)
		recordSession(result)

		if r.journal != nil {
			// Record the stop reason even when ctx is already done.
			if jErr := r.journal.Finish(context.WithoutCancel(ctx), result.SessionID, reason); jErr != nil && err == nil {
				err = jErr
			}
		}

		span.SetAttributes(
			attribute.String("session.stop_reason", reason),
			attribute.Int("session.steps", result.History.Len()),
			attribute.Float64("session.utility", result.Utility),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("session failed", slog.String("error", err.Error()), slog.Int("steps", result.History.Len()))
			return result, err
		}
		span.SetStatus(codes.Ok, reason)
		logger.Info("session finished",
			slog.String("reason", reason),
			slog.Int("steps", result.History.Len()),
			slog.Float64("spent", result.Spent),
			slog.Float64("utility", result.Utility),
			slog.String("history", result.History.Describe(actions)),
		)
		return result, nil
	}

	if r.journal != nil {
		meta := journal.Meta{
			ID:        result.SessionID,
			Model:     r.modelName,
			Planner:   r.planner.Kind(),
			Seed:      seed,
			Budget:    budget,
			StartedAt: start.UTC(),
		}
		if err := r.journal.Begin(ctx, meta); err != nil {
			return finish(ReasonError, err)
		}
	}

	for {
		if r.domain.IsFinal(result.History) {
			return finish(ReasonFinal, nil)
		}
		if r.maxSteps > 0 && result.History.Len() >= r.maxSteps {
			return finish(ReasonMaxSteps, nil)
		}
		if err := ctx.Err(); err != nil {
			return finish(ReasonError, err)
		}

		action, err := r.planner.Select(ctx, r.model, result.History, result.Remaining, rng)
		if errors.Is(err, planner.ErrNoEligibleAction) {
			if budgetSpent(result.Remaining, budget) {
				return finish(ReasonBudgetExhausted, nil)
			}
			return finish(ReasonNoEligibleAction, nil)
		}
		if err != nil {
			return finish(ReasonError, fmt.Errorf("select step %d: %w", result.History.Len(), err))
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return finish(ReasonError, err)
			}
		}
		step, err := r.executor.Execute(ctx, action, result.History, result.Remaining, rng)
		if err != nil {
			return finish(ReasonError, fmt.Errorf("execute %s: %w", action, err))
		}
		if err := checkStep(action, step); err != nil {
			return finish(ReasonError, err)
		}

		outcome := action.Outcomes[step.OutcomeIndex]
		result.History = result.History.Append(step)
		result.Spent += step.Cost
		result.Remaining -= step.Cost
		result.Utility += outcome.Utility
		recordStep(ctx, action.Description, outcome.Name)

		logger.Debug("step executed",
			slog.Int("step", result.History.Len()-1),
			slog.String("action", action.Description),
			slog.String("outcome", outcome.Name),
			slog.Float64("remaining", result.Remaining),
		)

		if r.journal != nil {
			entry := journal.Entry{
				Step:         result.History.Len() - 1,
				ActionIndex:  action.Index,
				Action:       action.Description,
				OutcomeIndex: step.OutcomeIndex,
				Outcome:      outcome.Name,
				Utility:      outcome.Utility,
				Cost:         step.Cost,
				Remaining:    result.Remaining,
			}
			if err := r.journal.Append(ctx, result.SessionID, entry); err != nil {
				return finish(ReasonError, err)
			}
		}
	}
}

// budgetSpent reports whether remaining is zero up to rounding relative to budget.
func budgetSpent(remaining, budget float64) bool {
	return remaining <= budgetTolerance*math.Max(1, math.Abs(budget))
}

// RunAll runs one session per seed, up to the configured parallelism at once.
//
// Outputs:
//   - []*Result: Results in seed order.
//   - error: The first session error; remaining sessions are cancelled.
func (r *Runner) RunAll(ctx context.Context, budget float64, seeds ...uint64) ([]*Result, error) {
	results := make([]*Result, len(seeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, seed := range seeds {
		g.Go(func() error {
			result, err := r.Run(gctx, seed, budget)
			results[i] = result
			if err != nil {
				return fmt.Errorf("session seed %d: %w", seed, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func checkStep(action planner.Action, step planner.Step) error {
	if step.ActionIndex != action.Index {
		return fmt.Errorf("%w: selected %d, executed %d", ErrStepMismatch, action.Index, step.ActionIndex)
	}
	if step.OutcomeIndex < 0 || step.OutcomeIndex >= len(action.Outcomes) {
		return fmt.Errorf("%w: outcome index %d of %s", ErrInvalidStep, step.OutcomeIndex, action)
	}
	if step.Cost < 0 {
		return fmt.Errorf("%w: negative cost %v", ErrInvalidStep, step.Cost)
	}
	return nil
}

// Summary aggregates a batch of results.
type Summary struct {
	Sessions    int
	Final       int
	MeanUtility float64
	MeanSpent   float64
	MeanSteps   float64
	Reasons     map[string]int
}

// Summarize aggregates results. Nil entries are skipped.
func Summarize(results []*Result) Summary {
	s := Summary{Reasons: make(map[string]int)}
	for _, r := range results {
		if r == nil {
			continue
		}
		s.Sessions++
		if r.Final {
			s.Final++
		}
		s.MeanUtility += r.Utility
		s.MeanSpent += r.Spent
		s.MeanSteps += float64(r.History.Len())
		s.Reasons[r.StopReason]++
	}
	if s.Sessions > 0 {
		n := float64(s.Sessions)
		s.MeanUtility /= n
		s.MeanSpent /= n
		s.MeanSteps /= n
	}
	return s
}
