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
	"math"
	"math/rand/v2"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/planner"
	"gonum.org/v1/gonum/stat/distuv"
)

// Multinomial models each action's outcome as a categorical draw with a
// Dirichlet prior, updated by the outcomes observed in the history.
//
// Description:
//
//	For action a with prior pseudo-counts alpha and observed counts n, the
//	posterior is Dirichlet(alpha + n). In mean mode Predict returns the
//	posterior mean (alpha_j + n_j) / sum(alpha + n). In sampled mode it draws
//	one distribution from the posterior using rng, which makes the model
//	stochastic (Thompson-style predictions).
//
//	Only counts matter, so the model is exchangeable in both modes. An action
//	with no prior mass and no observations predicts the uniform distribution.
//
// Thread Safety: Safe for concurrent use provided each caller supplies its own rng.
type Multinomial struct {
	actions []planner.Action
	priors  [][]float64
	sampled bool
}

// NewMultinomial creates a Dirichlet-multinomial model.
//
// Inputs:
//   - actions: Actions in model order.
//   - priors: Non-negative pseudo-counts, one slice per action aligned with its outcomes.
//   - sampled: Draw from the posterior instead of returning its mean.
//
// Outputs:
//   - *Multinomial: The model.
//   - error: Non-nil if actions or priors are malformed.
func NewMultinomial(actions []planner.Action, priors [][]float64, sampled bool) (*Multinomial, error) {
	if err := planner.ValidateActions(actions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if len(priors) != len(actions) {
		return nil, fmt.Errorf("%w: %d priors for %d actions", ErrInvalidSpec, len(priors), len(actions))
	}
	cloned := make([][]float64, len(priors))
	for i, prior := range priors {
		if len(prior) != len(actions[i].Outcomes) {
			return nil, fmt.Errorf("%w: action %q has %d priors for %d outcomes",
				ErrInvalidSpec, actions[i].Description, len(prior), len(actions[i].Outcomes))
		}
		for _, alpha := range prior {
			if alpha < 0 || math.IsNaN(alpha) || math.IsInf(alpha, 0) {
				return nil, fmt.Errorf("%w: action %q has prior %v", ErrInvalidSpec, actions[i].Description, alpha)
			}
		}
		cloned[i] = append([]float64(nil), prior...)
	}
	return &Multinomial{
		actions: cloneActions(actions),
		priors:  cloned,
		sampled: sampled,
	}, nil
}

// Actions returns the model's actions.
func (m *Multinomial) Actions() []planner.Action {
	return cloneActions(m.actions)
}

// Predict returns posterior means, or posterior samples in sampled mode.
func (m *Multinomial) Predict(ctx context.Context, history planner.History, rng *rand.Rand) ([]planner.OutcomeDistribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.sampled && rng == nil {
		return nil, planner.ErrNilRandom
	}

	alphas, err := m.Posterior(history)
	if err != nil {
		return nil, err
	}

	dists := make([]planner.OutcomeDistribution, len(alphas))
	for i, alpha := range alphas {
		if m.sampled {
			dists[i] = sampleDirichlet(rng, alpha)
		} else {
			dists[i] = normalize(alpha)
		}
	}
	return dists, nil
}

// Posterior returns the Dirichlet parameters (prior plus observed counts) per action.
func (m *Multinomial) Posterior(history planner.History) ([][]float64, error) {
	alphas := make([][]float64, len(m.priors))
	for i, prior := range m.priors {
		alphas[i] = append([]float64(nil), prior...)
	}
	for i := 0; i < history.Len(); i++ {
		step := history.At(i)
		if err := checkStep(m.actions, step); err != nil {
			return nil, err
		}
		alphas[step.ActionIndex][step.OutcomeIndex]++
	}
	return alphas, nil
}

// Sampled reports whether Predict draws from the posterior.
func (m *Multinomial) Sampled() bool { return m.sampled }

// Deterministic reports true in mean mode.
func (m *Multinomial) Deterministic() bool { return !m.sampled }

// Exchangeable reports true: only outcome counts enter the posterior.
func (m *Multinomial) Exchangeable() bool { return true }

// normalize returns weights / sum(weights), or uniform when the sum is zero.
func normalize(weights []float64) planner.OutcomeDistribution {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	dist := make(planner.OutcomeDistribution, len(weights))
	if total <= 0 {
		for j := range dist {
			dist[j] = 1 / float64(len(dist))
		}
		return dist
	}
	for j, w := range weights {
		dist[j] = w / total
	}
	return dist
}

// sampleDirichlet draws from Dirichlet(alpha) as normalized Gamma(alpha_j, 1)
// variates. Components with alpha 0 get probability 0. An all-zero alpha
// draws from the flat Dirichlet.
//
// Draws are kept in log space: Gamma variates with small shapes routinely
// underflow float64, so the vector is normalized with a log-sum-exp.
func sampleDirichlet(rng *rand.Rand, alpha []float64) planner.OutcomeDistribution {
	allZero := true
	for _, a := range alpha {
		if a > 0 {
			allZero = false
			break
		}
	}

	logDraws := make([]float64, len(alpha))
	peak := math.Inf(-1)
	for j, a := range alpha {
		if allZero {
			a = 1
		}
		if a <= 0 {
			logDraws[j] = math.Inf(-1)
			continue
		}
		logDraws[j] = logGamma(rng, a)
		peak = math.Max(peak, logDraws[j])
	}

	dist := make(planner.OutcomeDistribution, len(alpha))
	total := 0.0
	for j, l := range logDraws {
		if math.IsInf(l, -1) {
			continue
		}
		dist[j] = math.Exp(l - peak)
		total += dist[j]
	}
	for j := range dist {
		dist[j] /= total
	}
	return dist
}

// logGamma returns the log of a Gamma(shape, 1) draw. Shapes below 1 use
// Gamma(shape) = Gamma(shape+1) * U^(1/shape), added in log space.
func logGamma(rng *rand.Rand, shape float64) float64 {
	if shape >= 1 {
		return math.Log(distuv.Gamma{Alpha: shape, Beta: 1, Src: rng}.Rand())
	}
	boosted := math.Log(distuv.Gamma{Alpha: shape + 1, Beta: 1, Src: rng}.Rand())
	unit := distuv.Uniform{Min: 0, Max: 1, Src: rng}
	u := unit.Rand()
	for u == 0 {
		u = unit.Rand()
	}
	return boosted + math.Log(u)/shape
}
