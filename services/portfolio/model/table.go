// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/planner"
)

// Table predicts the same outcome distributions for every history.
//
// Thread Safety: Safe for concurrent use. Immutable after creation.
type Table struct {
	actions []planner.Action
	dists   []planner.OutcomeDistribution
}

// NewTable creates a table model.
//
// Inputs:
//   - actions: Actions in model order.
//   - dists: One distribution per action.
//
// Outputs:
//   - *Table: The model.
//   - error: Non-nil if the actions or distributions are malformed.
func NewTable(actions []planner.Action, dists []planner.OutcomeDistribution) (*Table, error) {
	if err := planner.ValidateActions(actions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if err := planner.ValidatePredictions(actions, dists); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return &Table{
		actions: cloneActions(actions),
		dists:   cloneDists(dists),
	}, nil
}

// Actions returns the model's actions.
func (t *Table) Actions() []planner.Action {
	return cloneActions(t.actions)
}

// Predict returns the fixed distributions. rng is not used.
func (t *Table) Predict(_ context.Context, history planner.History, _ *rand.Rand) ([]planner.OutcomeDistribution, error) {
	for i := 0; i < history.Len(); i++ {
		if err := checkStep(t.actions, history.At(i)); err != nil {
			return nil, err
		}
	}
	return cloneDists(t.dists), nil
}

// Deterministic reports true: predictions never consume randomness.
func (t *Table) Deterministic() bool { return true }

// Exchangeable reports true: predictions ignore the history entirely.
func (t *Table) Exchangeable() bool { return true }

func cloneActions(actions []planner.Action) []planner.Action {
	out := make([]planner.Action, len(actions))
	for i, a := range actions {
		a.Outcomes = append([]planner.Outcome(nil), a.Outcomes...)
		out[i] = a
	}
	return out
}

func cloneDists(dists []planner.OutcomeDistribution) []planner.OutcomeDistribution {
	out := make([]planner.OutcomeDistribution, len(dists))
	for i, d := range dists {
		out[i] = append(planner.OutcomeDistribution(nil), d...)
	}
	return out
}
