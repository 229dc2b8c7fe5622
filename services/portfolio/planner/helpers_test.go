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
	"math/rand/v2"
	"sync"
)

// fixedModel returns the same distributions for every history.
type fixedModel struct {
	actions       []Action
	dists         []OutcomeDistribution
	deterministic bool
	exchangeable  bool
	err           error

	mu    sync.Mutex
	calls int
	seen  []History
}

func (m *fixedModel) Actions() []Action {
	return m.actions
}

func (m *fixedModel) Predict(_ context.Context, history History, _ *rand.Rand) ([]OutcomeDistribution, error) {
	m.mu.Lock()
	m.calls++
	m.seen = append(m.seen, history)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]OutcomeDistribution, len(m.dists))
	for i, d := range m.dists {
		out[i] = append(OutcomeDistribution(nil), d...)
	}
	return out, nil
}

func (m *fixedModel) Deterministic() bool { return m.deterministic }
func (m *fixedModel) Exchangeable() bool  { return m.exchangeable }

func (m *fixedModel) predictCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// noisyModel draws every two-outcome distribution from rng.
type noisyModel struct {
	actions []Action
}

func (m *noisyModel) Actions() []Action {
	return m.actions
}

func (m *noisyModel) Predict(_ context.Context, _ History, rng *rand.Rand) ([]OutcomeDistribution, error) {
	out := make([]OutcomeDistribution, len(m.actions))
	for i := range m.actions {
		p := rng.Float64()
		out[i] = OutcomeDistribution{p, 1 - p}
	}
	return out, nil
}

// newAction builds an action at index i.
func newAction(i int, description string, cost float64, outcomes ...Outcome) Action {
	return Action{Index: i, Cost: cost, Description: description, Outcomes: outcomes}
}

// scenarioModel is the two-action model used throughout the tests:
//
//	A: cost 1, solved (utility 10, terminal) p=0.5, failed (utility 0) p=0.5
//	B: cost 1, partial (utility 4) p=1.0
func scenarioModel() *fixedModel {
	return &fixedModel{
		actions: []Action{
			newAction(0, "A", 1,
				Outcome{Name: "solved", Utility: 10, Terminal: true},
				Outcome{Name: "failed", Utility: 0},
			),
			newAction(1, "B", 1,
				Outcome{Name: "partial", Utility: 4},
			),
		},
		dists: []OutcomeDistribution{
			{0.5, 0.5},
			{1.0},
		},
		deterministic: true,
		exchangeable:  true,
	}
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// historyModel computes distributions from the history with a callback.
type historyModel struct {
	actions []Action
	predict func(History) []OutcomeDistribution
}

func (m *historyModel) Actions() []Action {
	return m.actions
}

func (m *historyModel) Predict(_ context.Context, history History, _ *rand.Rand) ([]OutcomeDistribution, error) {
	return m.predict(history), nil
}
