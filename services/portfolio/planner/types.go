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
	"math"
	"math/rand/v2"
	"strings"
)

// Planner kinds, used for logging, tracing, and metric labels.
const (
	KindMyopic  = "myopic"
	KindHorizon = "horizon"
)

// Outcome is one possible result of running an action.
type Outcome struct {
	// Name distinguishes this outcome from the other outcomes of the same action,
	// e.g. "solved" or "unsolved".
	Name string `json:"name" yaml:"name"`

	// Utility is the reward for this outcome. Higher is better.
	Utility float64 `json:"utility" yaml:"utility"`

	// Terminal marks outcomes after which the domain has a final answer.
	// Search does not expand past a terminal outcome.
	Terminal bool `json:"terminal,omitempty" yaml:"terminal,omitempty"`
}

// Action is a resource-consuming choice the portfolio can make.
//
// Actions are defined once by a Model and must not be modified afterwards.
// Index is the action's position in Model.Actions().
type Action struct {
	Index       int       `json:"index"`
	Cost        float64   `json:"cost"`
	Description string    `json:"description"`
	Outcomes    []Outcome `json:"outcomes"`
}

// String returns the action description.
func (a Action) String() string {
	return a.Description
}

// OutcomeDistribution holds one probability per outcome of an action, in the
// same order as Action.Outcomes.
type OutcomeDistribution []float64

// Step is one observed (action, outcome, cost) triple.
type Step struct {
	ActionIndex  int     `json:"action"`
	OutcomeIndex int     `json:"outcome"`
	Cost         float64 `json:"cost"`
}

// History is an append-only sequence of observed steps.
//
// The zero value is an empty history. Append never shares the receiver's
// backing array, so a History handed to a planner cannot change underneath it.
type History struct {
	steps []Step
}

// NewHistory builds a history from the given steps. The steps are copied.
func NewHistory(steps ...Step) History {
	if len(steps) == 0 {
		return History{}
	}
	copied := make([]Step, len(steps))
	copy(copied, steps)
	return History{steps: copied}
}

// Len returns the number of steps.
func (h History) Len() int {
	return len(h.steps)
}

// At returns the i-th step.
func (h History) At(i int) Step {
	return h.steps[i]
}

// Steps returns a copy of all steps.
func (h History) Steps() []Step {
	out := make([]Step, len(h.steps))
	copy(out, h.steps)
	return out
}

// Last returns the most recent step, if any.
func (h History) Last() (Step, bool) {
	if len(h.steps) == 0 {
		return Step{}, false
	}
	return h.steps[len(h.steps)-1], true
}

// Append returns a new history with step added at the end.
func (h History) Append(step Step) History {
	steps := make([]Step, len(h.steps)+1)
	copy(steps, h.steps)
	steps[len(h.steps)] = step
	return History{steps: steps}
}

// Spent returns the total cost consumed by all steps.
func (h History) Spent() float64 {
	total := 0.0
	for _, s := range h.steps {
		total += s.Cost
	}
	return total
}

// Describe renders the history as "action:outcome" pairs using the given actions.
func (h History) Describe(actions []Action) string {
	parts := make([]string, 0, len(h.steps))
	for _, s := range h.steps {
		if s.ActionIndex < 0 || s.ActionIndex >= len(actions) {
			parts = append(parts, fmt.Sprintf("?%d:%d", s.ActionIndex, s.OutcomeIndex))
			continue
		}
		a := actions[s.ActionIndex]
		if s.OutcomeIndex < 0 || s.OutcomeIndex >= len(a.Outcomes) {
			parts = append(parts, fmt.Sprintf("%s:?%d", a.Description, s.OutcomeIndex))
			continue
		}
		parts = append(parts, a.Description+":"+a.Outcomes[s.OutcomeIndex].Name)
	}
	return strings.Join(parts, ", ")
}

// Model predicts per-action outcome distributions from a history.
//
// Actions must return the same ordered actions on every call. Predict returns
// one distribution per action, aligned with Actions(). Stochastic models must
// draw randomness only from rng.
type Model interface {
	Actions() []Action
	Predict(ctx context.Context, history History, rng *rand.Rand) ([]OutcomeDistribution, error)
}

// Deterministic is implemented by models whose predictions are a pure function
// of the history and never touch rng. Planners cache predictions of such models
// within one planning call and may evaluate subtrees in parallel.
type Deterministic interface {
	Deterministic() bool
}

// Exchangeable is implemented by models whose predictions depend only on the
// multiset of steps, not their order. Combined with Deterministic it lets the
// horizon planner share transposed subtrees.
type Exchangeable interface {
	Exchangeable() bool
}

// Planner selects the next action to run.
//
// Thread Safety: Implementations are safe for concurrent use provided every
// caller supplies its own rng.
type Planner interface {
	// Select returns one of model.Actions().
	//
	// Inputs:
	//   - ctx: Context passed to the model; carries tracing.
	//   - model: Read-only prediction model.
	//   - history: Read-only observed history, possibly empty.
	//   - budget: Remaining resource, same unit as Action.Cost.
	//   - rng: Seedable random source passed through to the model.
	//
	// Outputs:
	//   - Action: The selected action.
	//   - error: ErrNoEligibleAction, ErrInvalidHorizon, ErrInvalidPrediction,
	//     or an error returned by the model.
	Select(ctx context.Context, model Model, history History, budget float64, rng *rand.Rand) (Action, error)

	// Kind returns the planner kind (KindMyopic or KindHorizon).
	Kind() string
}

func isDeterministic(m Model) bool {
	d, ok := m.(Deterministic)
	return ok && d.Deterministic()
}

func isExchangeable(m Model) bool {
	e, ok := m.(Exchangeable)
	return ok && e.Exchangeable()
}

// discountFactor returns discount^cost.
func discountFactor(discount, cost float64) float64 {
	return math.Pow(discount, cost)
}

// expectedUtility returns Σ P(o)·utility(o) over the action's outcomes.
func expectedUtility(action Action, dist OutcomeDistribution) float64 {
	e := 0.0
	for i, o := range action.Outcomes {
		e += dist[i] * o.Utility
	}
	return e
}

// eligibleActions returns the indices of actions that are enabled and affordable.
func eligibleActions(actions []Action, enabled []bool, budget float64) []int {
	var out []int
	for i, a := range actions {
		if enabled != nil && !enabled[i] {
			continue
		}
		if a.Cost <= budget {
			out = append(out, i)
		}
	}
	return out
}

// checkMask verifies that an enabled mask lines up with the action list.
func checkMask(enabled []bool, n int) error {
	if enabled != nil && len(enabled) != n {
		return fmt.Errorf("%w: mask has %d entries, model has %d actions", ErrInvalidMask, len(enabled), n)
	}
	return nil
}

func copyMask(enabled []bool) []bool {
	if enabled == nil {
		return nil
	}
	out := make([]bool, len(enabled))
	copy(out, enabled)
	return out
}

// validateDiscount checks that discount is in (0, 1].
func validateDiscount(discount float64) error {
	if math.IsNaN(discount) || discount <= 0 || discount > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidDiscount, discount)
	}
	return nil
}
