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
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/planner"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func loadSAT(t *testing.T) *Spec {
	t.Helper()
	spec, err := LoadSpec(filepath.Join("testdata", "sat.yaml"))
	require.NoError(t, err)
	return spec
}

func TestLoadSpec(t *testing.T) {
	spec := loadSAT(t)

	assert.Equal(t, "sat-portfolio", spec.Name)
	actions := spec.PlannerActions()
	require.Len(t, actions, 3)
	for i, a := range actions {
		assert.Equal(t, i, a.Index)
	}
	assert.Equal(t, "cadical-30s", actions[1].Description)
	assert.Equal(t, 30.0, actions[1].Cost)
	assert.True(t, actions[1].Outcomes[0].Terminal)
	assert.False(t, actions[1].Outcomes[1].Terminal)
}

func TestLoadSpec_MissingFile(t *testing.T) {
	_, err := LoadSpec(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)
}

func TestParseSpec_JSON(t *testing.T) {
	spec, err := ParseSpec([]byte(`{"name":"j","actions":[{"description":"a","cost":1,"outcomes":[{"name":"ok","utility":2,"probability":1}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, "j", spec.Name)
	assert.Equal(t, 2.0, spec.Actions[0].Outcomes[0].Utility)
}

func TestParseSpec_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing name", `actions: [{description: a, cost: 1, outcomes: [{name: x}]}]`},
		{"no actions", `name: n`},
		{"negative cost", `name: n
actions: [{description: a, cost: -1, outcomes: [{name: x}]}]`},
		{"no outcomes", `name: n
actions: [{description: a, cost: 1}]`},
		{"probability above one", `name: n
actions: [{description: a, cost: 1, outcomes: [{name: x, probability: 1.5}]}]`},
		{"negative prior", `name: n
actions: [{description: a, cost: 1, outcomes: [{name: x, prior: -2}]}]`},
		{"repeated outcome", `name: n
actions: [{description: a, cost: 1, outcomes: [{name: x}, {name: x}]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSpec([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}

func TestParseSpec_Garbage(t *testing.T) {
	_, err := ParseSpec([]byte("name: [unclosed"))
	assert.Error(t, err)
}

func TestSpec_Lookups(t *testing.T) {
	spec := loadSAT(t)

	i, ok := spec.ActionIndex("walksat-10s")
	require.True(t, ok)
	assert.Equal(t, 2, i)
	_, ok = spec.ActionIndex("minisat")
	assert.False(t, ok)

	j, ok := spec.OutcomeIndex(2, "unknown")
	require.True(t, ok)
	assert.Equal(t, 1, j)
	_, ok = spec.OutcomeIndex(7, "unknown")
	assert.False(t, ok)
}

func TestTable_Predict(t *testing.T) {
	table, err := loadSAT(t).Table()
	require.NoError(t, err)

	dists, err := table.Predict(context.Background(), planner.History{}, nil)
	require.NoError(t, err)
	require.Len(t, dists, 3)
	assert.Equal(t, planner.OutcomeDistribution{0.4, 0.6}, dists[0])

	// Returned slices are copies.
	dists[0][0] = 1
	again, err := table.Predict(context.Background(), planner.History{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.4, again[0][0])

	assert.True(t, table.Deterministic())
	assert.True(t, table.Exchangeable())
}

func TestTable_RejectsUnknownSteps(t *testing.T) {
	table, err := loadSAT(t).Table()
	require.NoError(t, err)

	_, err = table.Predict(context.Background(), planner.NewHistory(planner.Step{ActionIndex: 9}), nil)
	assert.ErrorIs(t, err, ErrUnknownStep)

	_, err = table.Predict(context.Background(), planner.NewHistory(planner.Step{ActionIndex: 0, OutcomeIndex: 4}), nil)
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestTable_RejectsBadProbabilities(t *testing.T) {
	spec := loadSAT(t)
	spec.Actions[0].Outcomes[0].Probability = 0.9

	_, err := spec.Table()
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestMultinomial_PosteriorMean(t *testing.T) {
	m, err := loadSAT(t).Multinomial(false)
	require.NoError(t, err)
	assert.True(t, m.Deterministic())
	assert.True(t, m.Exchangeable())

	dists, err := m.Predict(context.Background(), planner.History{}, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.4, 0.6}, dists[0], 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, dists[2], 1e-12)

	history := planner.NewHistory(
		planner.Step{ActionIndex: 0, OutcomeIndex: 1, Cost: 60},
		planner.Step{ActionIndex: 2, OutcomeIndex: 1, Cost: 10},
	)
	dists, err = m.Predict(context.Background(), history, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2.0 / 6, 4.0 / 6}, dists[0], 1e-12)
	assert.InDeltaSlice(t, []float64{0, 1}, dists[2], 1e-12)
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, dists[1], 1e-12)
}

func TestMultinomial_OrderDoesNotMatter(t *testing.T) {
	m, err := loadSAT(t).Multinomial(false)
	require.NoError(t, err)

	a := planner.NewHistory(planner.Step{ActionIndex: 0, OutcomeIndex: 1}, planner.Step{ActionIndex: 1, OutcomeIndex: 1})
	b := planner.NewHistory(planner.Step{ActionIndex: 1, OutcomeIndex: 1}, planner.Step{ActionIndex: 0, OutcomeIndex: 1})

	da, err := m.Predict(context.Background(), a, nil)
	require.NoError(t, err)
	db, err := m.Predict(context.Background(), b, nil)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestNewMultinomial_Invalid(t *testing.T) {
	actions := loadSAT(t).PlannerActions()

	_, err := NewMultinomial(actions, [][]float64{{1, 1}}, false)
	assert.ErrorIs(t, err, ErrInvalidSpec)

	_, err = NewMultinomial(actions, [][]float64{{1, 1}, {1}, {1, 1}}, false)
	assert.ErrorIs(t, err, ErrInvalidSpec)

	_, err = NewMultinomial(actions, [][]float64{{1, 1}, {1, -1}, {1, 1}}, false)
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestMultinomial_Sampled(t *testing.T) {
	m, err := loadSAT(t).Multinomial(true)
	require.NoError(t, err)
	assert.False(t, m.Deterministic())
	assert.True(t, m.Sampled())

	_, err = m.Predict(context.Background(), planner.History{}, nil)
	assert.ErrorIs(t, err, planner.ErrNilRandom)

	first, err := m.Predict(context.Background(), planner.History{}, newRand(11))
	require.NoError(t, err)
	second, err := m.Predict(context.Background(), planner.History{}, newRand(11))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, planner.ValidatePredictions(m.Actions(), first))
}

func TestMultinomial_SampledMeanConverges(t *testing.T) {
	m, err := loadSAT(t).Multinomial(true)
	require.NoError(t, err)

	rng := newRand(3)
	const n = 20000
	sum := 0.0
	for i := 0; i < n; i++ {
		dists, err := m.Predict(context.Background(), planner.History{}, rng)
		require.NoError(t, err)
		sum += dists[0][0]
	}
	assert.InDelta(t, 0.4, sum/n, 0.01)
}

func TestMultinomial_CancelledContext(t *testing.T) {
	m, err := loadSAT(t).Multinomial(false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Predict(ctx, planner.History{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSampleDirichlet_ZeroAlphaComponent(t *testing.T) {
	rng := newRand(5)
	for i := 0; i < 100; i++ {
		dist := sampleDirichlet(rng, []float64{0, 2, 0.3})
		assert.Equal(t, 0.0, dist[0])
	}
}

func TestSampleDirichlet_TinyAlphaKeepsZeroComponent(t *testing.T) {
	rng := newRand(9)
	for i := 0; i < 1000; i++ {
		dist := sampleDirichlet(rng, []float64{1e-4, 0})
		require.Equal(t, 0.0, dist[1], "draw %d", i)
		require.Equal(t, 1.0, dist[0], "draw %d", i)
	}
}

func TestSampleDirichlet_TinyAlphasStayNormalized(t *testing.T) {
	rng := newRand(13)
	for i := 0; i < 1000; i++ {
		dist := sampleDirichlet(rng, []float64{1e-4, 1e-4, 0})
		require.Equal(t, 0.0, dist[2])
		require.InDelta(t, 1.0, dist[0]+dist[1], 1e-12)
		require.False(t, math.IsNaN(dist[0]) || math.IsNaN(dist[1]))
	}
}

func TestSampleDirichlet_AllZeroAlphaIsFlat(t *testing.T) {
	rng := newRand(17)
	const n = 20000
	sum := 0.0
	for i := 0; i < n; i++ {
		dist := sampleDirichlet(rng, []float64{0, 0})
		require.InDelta(t, 1.0, dist[0]+dist[1], 1e-12)
		sum += dist[0]
	}
	assert.InDelta(t, 0.5, sum/n, 0.01)
}

// Property: every Dirichlet draw is a valid probability vector.
func TestProperty_SampleDirichletIsDistribution(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("dirichlet draws sum to one", prop.ForAll(
		func(seed uint64, alpha []float64) bool {
			dist := sampleDirichlet(newRand(seed), alpha)
			total := 0.0
			for _, p := range dist {
				if p < 0 || p > 1 {
					return false
				}
				total += p
			}
			return total > 1-planner.ProbabilityTolerance && total < 1+planner.ProbabilityTolerance
		},
		gen.UInt64(),
		gen.SliceOfN(4, gen.Float64Range(0, 20)),
	))

	properties.TestingRun(t)
}

func TestPlanners_OnSpecModels(t *testing.T) {
	table, err := loadSAT(t).Table()
	require.NoError(t, err)

	myopic, err := planner.NewMyopicPlanner(1.0, nil)
	require.NoError(t, err)

	action, err := myopic.Select(context.Background(), table, planner.History{}, 100, newRand(1))
	require.NoError(t, err)
	assert.Equal(t, "kissat-60s", action.Description)

	action, err = myopic.Select(context.Background(), table, planner.History{}, 40, newRand(1))
	require.NoError(t, err)
	assert.Equal(t, "cadical-30s", action.Description)

	horizon, err := planner.NewHorizonPlanner(planner.HorizonConfig{Horizon: 3, Discount: 1})
	require.NoError(t, err)
	plan, err := horizon.Plan(context.Background(), table, planner.History{}, 100, newRand(1))
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Actions)
	assert.Greater(t, plan.ExpectedUtility, 0.4)
}
