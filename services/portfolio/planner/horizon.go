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
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

// HorizonConfig configures a HorizonPlanner.
type HorizonConfig struct {
	// Horizon is the maximum number of future actions to plan over.
	// Checked at planning time; non-positive values fail with ErrInvalidHorizon.
	Horizon int

	// Discount is the per-unit-cost decay in (0, 1].
	Discount float64

	// Enabled optionally restricts the selectable actions.
	Enabled []bool

	// Workers is the number of goroutines used to evaluate sibling subtrees.
	// Values <= 1 evaluate sequentially. Only used for Deterministic models.
	Workers int

	// ParallelDepth is how many levels below the root fan out to workers.
	// Default: 1.
	ParallelDepth int

	// MaxNodes caps the number of distinct search nodes. Exceeding it fails
	// with ErrNodeLimitExceeded. 0 means unlimited.
	MaxNodes int

	// CompoundDiscount also discounts continuation values by discount^cost,
	// so utility earned later is worth less. Off by default.
	CompoundDiscount bool
}

// DefaultHorizonConfig returns sensible defaults.
func DefaultHorizonConfig() HorizonConfig {
	return HorizonConfig{
		Horizon:       2,
		Discount:      1.0,
		Workers:       1,
		ParallelDepth: 1,
	}
}

// Plan is the result of a horizon search.
type Plan struct {
	// Actions is the value-maximizing action sequence, following the most
	// probable non-terminal outcome after each action.
	Actions []Action

	// ExpectedUtility is the root value.
	ExpectedUtility float64

	// NodesExpanded is the number of distinct search nodes evaluated.
	NodesExpanded int

	// Horizon is the horizon the plan was computed for.
	Horizon int
}

// First returns the first action of the plan.
func (p *Plan) First() Action {
	return p.Actions[0]
}

// String renders the plan as "a -> b -> c".
func (p *Plan) String() string {
	names := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		names[i] = a.Description
	}
	return strings.Join(names, " -> ")
}

// HorizonPlanner performs fixed-horizon optimal replanning.
//
// Description:
//
//	Computes the Bellman-optimal plan over the next Horizon decisions by
//	backward induction over every (action, outcome) trajectory the budget
//	allows, then returns only the plan's first action. The plan is recomputed
//	from scratch at each decision point.
//
//	V(node) = max_a Σ_o P(o)·(utility(o)·discount^cost(a) + V(child(o)))
//
// Thread Safety: Safe for concurrent use. Each call owns its search state.
type HorizonPlanner struct {
	config HorizonConfig
	logger *slog.Logger
	tracer *PlannerTracer
}

// NewHorizonPlanner creates a horizon planner.
//
// Inputs:
//   - config: Planner configuration. The horizon is validated at planning time.
//   - opts: Logger and tracer options.
//
// Outputs:
//   - *HorizonPlanner: The planner.
//   - error: ErrInvalidDiscount if the discount is out of range.
func NewHorizonPlanner(config HorizonConfig, opts ...Option) (*HorizonPlanner, error) {
	if err := validateDiscount(config.Discount); err != nil {
		return nil, err
	}
	if config.ParallelDepth <= 0 {
		config.ParallelDepth = 1
	}
	if config.MaxNodes < 0 {
		config.MaxNodes = 0
	}
	config.Enabled = copyMask(config.Enabled)

	o := applyOptions(KindHorizon, opts)
	return &HorizonPlanner{
		config: config,
		logger: o.logger,
		tracer: o.tracer,
	}, nil
}

// Kind returns KindHorizon.
func (p *HorizonPlanner) Kind() string {
	return KindHorizon
}

// Config returns a copy of the planner configuration.
func (p *HorizonPlanner) Config() HorizonConfig {
	c := p.config
	c.Enabled = copyMask(c.Enabled)
	return c
}

// WithHorizon returns a planner identical to p but with a different horizon.
// Drivers use it to truncate planning explicitly, e.g. near a time cap.
func (p *HorizonPlanner) WithHorizon(horizon int) *HorizonPlanner {
	c := p.config
	c.Horizon = horizon
	return &HorizonPlanner{config: c, logger: p.logger, tracer: p.tracer}
}

// Select returns the first action of the optimal plan.
func (p *HorizonPlanner) Select(ctx context.Context, model Model, history History, budget float64, rng *rand.Rand) (Action, error) {
	start := time.Now()
	ctx, span := p.tracer.StartSelect(ctx, KindHorizon, history, budget, p.config.Horizon)

	plan, err := p.plan(ctx, model, history, budget, rng)

	var (
		action Action
		value  float64
		nodes  int
	)
	if err == nil {
		p.tracer.TracePlan(ctx, plan)
		action, value, nodes = plan.First(), plan.ExpectedUtility, plan.NodesExpanded
	}

	p.tracer.EndSelect(ctx, span, KindHorizon, action, value, nodes, err)
	recordSelection(KindHorizon, time.Since(start), nodes, err)
	return action, err
}

// Plan computes the full optimal plan without recording selection metrics.
//
// Inputs:
//   - ctx: Context passed to the model.
//   - model: Read-only prediction model.
//   - history: Read-only observed history.
//   - budget: Remaining budget.
//   - rng: Random source passed through to the model.
//
// Outputs:
//   - *Plan: The plan; Actions is never empty on success.
//   - error: ErrInvalidHorizon, ErrNoEligibleAction, ErrInvalidPrediction,
//     ErrNodeLimitExceeded, or a model error.
func (p *HorizonPlanner) Plan(ctx context.Context, model Model, history History, budget float64, rng *rand.Rand) (*Plan, error) {
	return p.plan(ctx, model, history, budget, rng)
}

func (p *HorizonPlanner) plan(ctx context.Context, model Model, history History, budget float64, rng *rand.Rand) (*Plan, error) {
	if p.config.Horizon <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHorizon, p.config.Horizon)
	}

	actions, err := prepare(model, rng, p.config.Enabled)
	if err != nil {
		return nil, err
	}
	if len(eligibleActions(actions, p.config.Enabled, budget)) == 0 {
		return nil, ErrNoEligibleAction
	}

	engine := newBellman(p.config, model, actions, history, budget)
	if engine.workers > 1 && !engine.cacheable {
		p.logger.DebugContext(ctx, "parallel evaluation disabled for stochastic model",
			slog.Int("workers", p.config.Workers))
	}

	value, err := engine.value(ctx, 0, nil, budget, rng)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Actions:         engine.extractPlan(budget),
		ExpectedUtility: value,
		NodesExpanded:   engine.nodeCount(),
		Horizon:         p.config.Horizon,
	}
	if len(plan.Actions) == 0 {
		// Unreachable while the root has an eligible action.
		return nil, ErrNoEligibleAction
	}
	return plan, nil
}
