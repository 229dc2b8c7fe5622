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
)

// ProbabilityTolerance is the allowed drift of a distribution's sum from 1.
const ProbabilityTolerance = 1e-6

// ValidateActions checks that actions are usable for planning.
//
// Description:
//
//	Every action must sit at its own index, have a finite non-negative cost,
//	and at least one outcome with a finite utility.
//
// Inputs:
//   - actions: The model's action list.
//
// Outputs:
//   - error: Wraps ErrInvalidAction on the first problem found.
func ValidateActions(actions []Action) error {
	for i, a := range actions {
		if a.Index != i {
			return fmt.Errorf("%w: action %q has index %d at position %d", ErrInvalidAction, a.Description, a.Index, i)
		}
		if math.IsNaN(a.Cost) || math.IsInf(a.Cost, 0) || a.Cost < 0 {
			return fmt.Errorf("%w: action %q has cost %v", ErrInvalidAction, a.Description, a.Cost)
		}
		if len(a.Outcomes) == 0 {
			return fmt.Errorf("%w: action %q has no outcomes", ErrInvalidAction, a.Description)
		}
		for _, o := range a.Outcomes {
			if math.IsNaN(o.Utility) || math.IsInf(o.Utility, 0) {
				return fmt.Errorf("%w: outcome %q of action %q has utility %v", ErrInvalidAction, o.Name, a.Description, o.Utility)
			}
		}
	}
	return nil
}

// ValidatePredictions checks a prediction against the action list.
//
// Description:
//
//	There must be exactly one distribution per action, one probability per
//	outcome, every probability in [0, 1], and each distribution must sum to 1
//	within ProbabilityTolerance. Nothing is renormalized.
//
// Inputs:
//   - actions: The model's action list.
//   - predicted: The model's prediction.
//
// Outputs:
//   - error: Wraps ErrInvalidPrediction on the first problem found.
func ValidatePredictions(actions []Action, predicted []OutcomeDistribution) error {
	if len(predicted) != len(actions) {
		return fmt.Errorf("%w: got %d distributions for %d actions", ErrInvalidPrediction, len(predicted), len(actions))
	}
	for i, a := range actions {
		dist := predicted[i]
		if len(dist) != len(a.Outcomes) {
			return fmt.Errorf("%w: action %q has %d outcomes but %d probabilities",
				ErrInvalidPrediction, a.Description, len(a.Outcomes), len(dist))
		}
		sum := 0.0
		for j, p := range dist {
			if math.IsNaN(p) || p < 0 || p > 1 {
				return fmt.Errorf("%w: action %q outcome %q has probability %v",
					ErrInvalidPrediction, a.Description, a.Outcomes[j].Name, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > ProbabilityTolerance {
			return fmt.Errorf("%w: action %q probabilities sum to %v",
				ErrInvalidPrediction, a.Description, sum)
		}
	}
	return nil
}

// predictValidated calls the model and validates its answer.
func predictValidated(ctx context.Context, model Model, actions []Action, history History, rng *rand.Rand) ([]OutcomeDistribution, error) {
	predicted, err := model.Predict(ctx, history, rng)
	if err != nil {
		return nil, fmt.Errorf("model predict: %w", err)
	}
	if err := ValidatePredictions(actions, predicted); err != nil {
		return nil, err
	}
	return predicted, nil
}

// prepare performs the checks shared by every planner before any prediction.
func prepare(model Model, rng *rand.Rand, enabled []bool) ([]Action, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	if rng == nil {
		return nil, ErrNilRandom
	}
	actions := model.Actions()
	if err := ValidateActions(actions); err != nil {
		return nil, err
	}
	if err := checkMask(enabled, len(actions)); err != nil {
		return nil, err
	}
	return actions, nil
}
