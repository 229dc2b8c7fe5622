// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session drives a portfolio planner against an executor.
//
// A session repeatedly asks the planner for an action, executes it, appends
// the observed step to the history, and charges the step's cost against the
// budget until the domain reports a final state, the budget runs out, or no
// action is eligible.
//
//	┌──────────┐ Select ┌─────────┐ Execute ┌──────────┐
//	│  Runner  │───────►│ Planner │         │ Executor │
//	│          │◄───────│         │         │          │
//	│          │────────────────────────────►          │
//	│          │◄────────────── Step ───────┤          │
//	└────┬─────┘                            └──────────┘
//	     │ Append
//	     ▼
//	 Journal (optional)
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/planner"
)

// Stop reasons reported in Result.StopReason.
const (
	ReasonFinal            = "final"
	ReasonBudgetExhausted  = "budget_exhausted"
	ReasonMaxSteps         = "max_steps"
	ReasonNoEligibleAction = "no_eligible_action"
	ReasonError            = "error"
)

// Sentinel errors for the session package.
var (
	ErrStepMismatch = errors.New("executed step does not match selected action")
	ErrInvalidStep  = errors.New("executed step is invalid")
	ErrNilComponent = errors.New("session component must not be nil")
)

// Executor runs an action and reports what happened.
type Executor interface {
	// Execute runs action with the remaining budget.
	//
	// Inputs:
	//   - ctx: Cancellation.
	//   - action: The planner's selection.
	//   - history: Steps executed so far.
	//   - budget: Remaining budget.
	//   - rng: Session random source.
	//
	// Outputs:
	//   - planner.Step: The observed outcome and the cost actually charged.
	//   - error: Non-nil if the action could not be executed.
	Execute(ctx context.Context, action planner.Action, history planner.History, budget float64, rng *rand.Rand) (planner.Step, error)
}

// Domain decides when a session has reached its goal.
type Domain interface {
	IsFinal(history planner.History) bool
}

// SimulatedExecutor samples outcomes from a ground-truth model.
//
// The charged cost is the action's cost capped at the remaining budget.
//
// Thread Safety: Safe for concurrent use if the truth model is.
type SimulatedExecutor struct {
	truth planner.Model
}

// NewSimulatedExecutor creates an executor backed by truth.
func NewSimulatedExecutor(truth planner.Model) (*SimulatedExecutor, error) {
	if truth == nil {
		return nil, fmt.Errorf("%w: truth model", ErrNilComponent)
	}
	return &SimulatedExecutor{truth: truth}, nil
}

// Execute samples an outcome of action from the truth model.
func (e *SimulatedExecutor) Execute(ctx context.Context, action planner.Action, history planner.History, budget float64, rng *rand.Rand) (planner.Step, error) {
	if rng == nil {
		return planner.Step{}, planner.ErrNilRandom
	}
	actions := e.truth.Actions()
	if action.Index < 0 || action.Index >= len(actions) {
		return planner.Step{}, fmt.Errorf("%w: action index %d outside truth model", ErrInvalidStep, action.Index)
	}

	dists, err := e.truth.Predict(ctx, history, rng)
	if err != nil {
		return planner.Step{}, fmt.Errorf("truth predict: %w", err)
	}
	if err := planner.ValidatePredictions(actions, dists); err != nil {
		return planner.Step{}, fmt.Errorf("truth predict: %w", err)
	}

	return planner.Step{
		ActionIndex:  action.Index,
		OutcomeIndex: sampleOutcome(dists[action.Index], rng.Float64()),
		Cost:         math.Min(action.Cost, math.Max(budget, 0)),
	}, nil
}

// sampleOutcome picks the outcome whose cumulative probability first exceeds u.
// Rounding slack falls to the last outcome with non-zero probability.
func sampleOutcome(dist planner.OutcomeDistribution, u float64) int {
	cumulative := 0.0
	last := 0
	for i, p := range dist {
		if p <= 0 {
			continue
		}
		last = i
		cumulative += p
		if u < cumulative {
			return i
		}
	}
	return last
}

// TerminalDomain is final once the latest outcome is terminal.
type TerminalDomain struct {
	actions []planner.Action
}

// NewTerminalDomain creates a domain over the given actions.
func NewTerminalDomain(actions []planner.Action) *TerminalDomain {
	return &TerminalDomain{actions: actions}
}

// IsFinal reports whether the last step's outcome is terminal.
func (d *TerminalDomain) IsFinal(history planner.History) bool {
	last, ok := history.Last()
	if !ok {
		return false
	}
	if last.ActionIndex < 0 || last.ActionIndex >= len(d.actions) {
		return false
	}
	outcomes := d.actions[last.ActionIndex].Outcomes
	if last.OutcomeIndex < 0 || last.OutcomeIndex >= len(outcomes) {
		return false
	}
	return outcomes[last.OutcomeIndex].Terminal
}
