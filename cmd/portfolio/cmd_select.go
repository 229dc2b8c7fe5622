// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/model"
	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/planner"
	"github.com/spf13/cobra"
)

// plannerFlags are the planner and model overrides shared by select and run.
type plannerFlags struct {
	model    string
	kind     string
	planner  string
	horizon  int
	discount float64
	budget   float64
	seed     uint64
}

func (f *plannerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.model, "model", "", "Path to the model spec (YAML or JSON)")
	cmd.Flags().StringVar(&f.kind, "model-kind", "", "Model kind: table or multinomial")
	cmd.Flags().StringVar(&f.planner, "planner", "", "Planner: myopic or horizon")
	cmd.Flags().IntVar(&f.horizon, "horizon", 0, "Lookahead depth for the horizon planner")
	cmd.Flags().Float64Var(&f.discount, "discount", 0, "Per-unit-cost discount in (0, 1]")
	cmd.Flags().Float64Var(&f.budget, "budget", 0, "Remaining budget")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "Random seed")
}

// apply copies explicitly set flags over the loaded configuration.
func (f *plannerFlags) apply(cmd *cobra.Command, a *app) error {
	changed := cmd.Flags().Changed
	if changed("model") {
		a.cfg.Model.Path = f.model
	}
	if changed("model-kind") {
		a.cfg.Model.Kind = f.kind
	}
	if changed("planner") {
		a.cfg.Planner.Kind = f.planner
	}
	if changed("horizon") {
		a.cfg.Planner.Horizon = f.horizon
	}
	if changed("discount") {
		a.cfg.Planner.Discount = f.discount
	}
	if changed("budget") {
		a.cfg.Session.Budget = f.budget
	}
	if changed("seed") {
		a.cfg.Session.Seed = f.seed
	}
	return a.cfg.Validate()
}

func newSelectCmd(a *app) *cobra.Command {
	var (
		flags   plannerFlags
		history string
	)

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Select the next action for a model, history, and budget",
		Example: `  portfolio select --model sat.yaml --budget 120
  portfolio select --model sat.yaml --budget 60 --history kissat-60s:unknown --planner myopic`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flags.apply(cmd, a); err != nil {
				return err
			}
			models, err := a.cfg.Model.LoadModels()
			if err != nil {
				return err
			}
			h, err := parseHistory(models.Spec, history)
			if err != nil {
				return err
			}

			actions := models.Model.Actions()
			p, err := a.cfg.Planner.NewPlanner(actions, a.plannerOptions()...)
			if err != nil {
				return err
			}

			seed := a.cfg.Session.Seed
			newRand := func() *rand.Rand { return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
			budget := a.cfg.Session.Budget
			out := cmd.OutOrStdout()

			action, err := p.Select(cmd.Context(), models.Model, h, budget, newRand())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "selected: %s (index %d, cost %g)\n", action.Description, action.Index, action.Cost)

			// Replaying the seed reproduces the search behind the selection.
			if hp, ok := p.(*planner.HorizonPlanner); ok {
				plan, err := hp.Plan(cmd.Context(), models.Model, h, budget, newRand())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "plan: %s\n", plan)
				fmt.Fprintf(out, "expected utility: %.6g\n", plan.ExpectedUtility)
				fmt.Fprintf(out, "nodes expanded: %d\n", plan.NodesExpanded)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&history, "history", "", "Observed steps as action:outcome pairs, comma separated")
	return cmd
}

// parseHistory parses "action:outcome,action:outcome" against spec. Each step
// is charged its action's cost.
func parseHistory(spec *model.Spec, s string) (planner.History, error) {
	if strings.TrimSpace(s) == "" {
		return planner.History{}, nil
	}

	var steps []planner.Step
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		name, outcome, ok := strings.Cut(pair, ":")
		if !ok {
			return planner.History{}, fmt.Errorf("history step %q: want action:outcome", pair)
		}
		ai, ok := spec.ActionIndex(name)
		if !ok {
			return planner.History{}, fmt.Errorf("history step %q: unknown action %q", pair, name)
		}
		oi, ok := spec.OutcomeIndex(ai, outcome)
		if !ok {
			return planner.History{}, fmt.Errorf("history step %q: unknown outcome %q", pair, outcome)
		}
		steps = append(steps, planner.Step{ActionIndex: ai, OutcomeIndex: oi, Cost: spec.Actions[ai].Cost})
	}
	return planner.NewHistory(steps...), nil
}
