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
	"math/rand/v2"
	"time"
)

// MyopicPlanner performs deterministic greedy action selection.
//
// Description:
//
//	Each eligible action is scored as E[utility] * discount^cost, where the
//	expectation is taken over the model's predicted outcome distribution.
//	The discount is applied after the expectation. The highest score wins;
//	ties go to the earliest action in model order.
//
// Thread Safety: Safe for concurrent use.
type MyopicPlanner struct {
	discount float64
	enabled  []bool
	logger   *slog.Logger
	tracer   *PlannerTracer
}

// NewMyopicPlanner creates a myopic planner.
//
// Inputs:
//   - discount: Per-unit-cost decay in (0, 1].
//   - enabled: Optional mask aligned with the model's actions (nil enables all).
//   - opts: Logger and tracer options.
//
// Outputs:
//   - *MyopicPlanner: The planner.
//   - error: ErrInvalidDiscount if discount is out of range.
func NewMyopicPlanner(discount float64, enabled []bool, opts ...Option) (*MyopicPlanner, error) {
	if err := validateDiscount(discount); err != nil {
		return nil, err
	}
	o := applyOptions(KindMyopic, opts)
	return &MyopicPlanner{
		discount: discount,
		enabled:  copyMask(enabled),
		logger:   o.logger,
		tracer:   o.tracer,
	}, nil
}

// Kind returns KindMyopic.
func (p *MyopicPlanner) Kind() string {
	return KindMyopic
}

// Discount returns the configured discount.
func (p *MyopicPlanner) Discount() float64 {
	return p.discount
}

// Select picks the eligible action with the greatest discounted expected utility.
func (p *MyopicPlanner) Select(ctx context.Context, model Model, history History, budget float64, rng *rand.Rand) (Action, error) {
	start := time.Now()
	ctx, span := p.tracer.StartSelect(ctx, KindMyopic, history, budget, 1)

	action, score, err := p.selectAction(ctx, model, history, budget, rng)

	p.tracer.EndSelect(ctx, span, KindMyopic, action, score, 1, err)
	recordSelection(KindMyopic, time.Since(start), 1, err)
	return action, err
}

// Score returns the discounted expected utility of one action under a prediction.
func (p *MyopicPlanner) Score(action Action, dist OutcomeDistribution) float64 {
	return expectedUtility(action, dist) * discountFactor(p.discount, action.Cost)
}

func (p *MyopicPlanner) selectAction(ctx context.Context, model Model, history History, budget float64, rng *rand.Rand) (Action, float64, error) {
	actions, err := prepare(model, rng, p.enabled)
	if err != nil {
		return Action{}, 0, err
	}

	candidates := eligibleActions(actions, p.enabled, budget)
	if len(candidates) == 0 {
		return Action{}, 0, ErrNoEligibleAction
	}

	predicted, err := predictValidated(ctx, model, actions, history, rng)
	if err != nil {
		return Action{}, 0, err
	}

	best := -1
	bestScore := 0.0
	for _, i := range candidates {
		score := p.Score(actions[i], predicted[i])
		if best < 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}

	return actions[best], bestScore, nil
}
