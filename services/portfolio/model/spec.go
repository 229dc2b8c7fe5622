// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model provides prediction models for the portfolio planner.
//
// A model is described by a YAML Spec listing the portfolio's actions, their
// costs, and their possible outcomes. From a Spec you can build a Table model
// (fixed outcome probabilities) or a Multinomial model (Dirichlet posterior
// over outcomes, updated from the history).
//
// Example spec:
//
//	name: sat-portfolio
//	actions:
//	  - description: kissat-60s
//	    cost: 60
//	    outcomes:
//	      - {name: solved, utility: 1, terminal: true, probability: 0.4, prior: 2}
//	      - {name: unknown, utility: 0, probability: 0.6, prior: 3}
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/AleutianAI/AleutianPortfolio/services/portfolio/planner"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Sentinel errors for the model package.
var (
	ErrInvalidSpec = errors.New("invalid model spec")
	ErrUnknownStep = errors.New("history step does not match model actions")
)

// specValidate is the validator instance for model specs.
var specValidate = validator.New()

// Spec describes a portfolio model.
type Spec struct {
	Name    string       `json:"name" yaml:"name" validate:"required"`
	Actions []ActionSpec `json:"actions" yaml:"actions" validate:"required,min=1,dive"`
}

// ActionSpec describes one action of a Spec.
type ActionSpec struct {
	Description string        `json:"description" yaml:"description" validate:"required"`
	Cost        float64       `json:"cost" yaml:"cost" validate:"gte=0"`
	Outcomes    []OutcomeSpec `json:"outcomes" yaml:"outcomes" validate:"required,min=1,dive"`
}

// OutcomeSpec describes one outcome of an ActionSpec.
//
// Probability is used by Table models, Prior (Dirichlet pseudo-count) by
// Multinomial models. A spec may carry both.
type OutcomeSpec struct {
	Name        string  `json:"name" yaml:"name" validate:"required"`
	Utility     float64 `json:"utility" yaml:"utility"`
	Terminal    bool    `json:"terminal" yaml:"terminal"`
	Probability float64 `json:"probability" yaml:"probability" validate:"gte=0,lte=1"`
	Prior       float64 `json:"prior" yaml:"prior" validate:"gte=0"`
}

// LoadSpec reads and validates a spec file (YAML or JSON).
//
// Inputs:
//   - path: Path to the spec file.
//
// Outputs:
//   - *Spec: The parsed spec.
//   - error: Non-nil if the file cannot be read, parsed, or validated.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model spec: %w", err)
	}
	return ParseSpec(data)
}

// ParseSpec parses and validates a spec document. YAML is tried first, then JSON.
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		if jsonErr := json.Unmarshal(data, &spec); jsonErr != nil {
			return nil, fmt.Errorf("parse model spec (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks struct constraints and that costs and utilities are finite.
func (s *Spec) Validate() error {
	if err := specValidate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	for _, a := range s.Actions {
		if math.IsInf(a.Cost, 0) || math.IsNaN(a.Cost) {
			return fmt.Errorf("%w: action %q has cost %v", ErrInvalidSpec, a.Description, a.Cost)
		}
		seen := make(map[string]bool, len(a.Outcomes))
		for _, o := range a.Outcomes {
			if seen[o.Name] {
				return fmt.Errorf("%w: action %q repeats outcome %q", ErrInvalidSpec, a.Description, o.Name)
			}
			seen[o.Name] = true
			if math.IsInf(o.Utility, 0) || math.IsNaN(o.Utility) {
				return fmt.Errorf("%w: outcome %q of %q has utility %v", ErrInvalidSpec, o.Name, a.Description, o.Utility)
			}
		}
	}
	return nil
}

// PlannerActions converts the spec into planner actions, indexed in spec order.
func (s *Spec) PlannerActions() []planner.Action {
	actions := make([]planner.Action, len(s.Actions))
	for i, a := range s.Actions {
		outcomes := make([]planner.Outcome, len(a.Outcomes))
		for j, o := range a.Outcomes {
			outcomes[j] = planner.Outcome{Name: o.Name, Utility: o.Utility, Terminal: o.Terminal}
		}
		actions[i] = planner.Action{
			Index:       i,
			Cost:        a.Cost,
			Description: a.Description,
			Outcomes:    outcomes,
		}
	}
	return actions
}

// Table builds a fixed-probability model from the spec's probabilities.
func (s *Spec) Table() (*Table, error) {
	dists := make([]planner.OutcomeDistribution, len(s.Actions))
	for i, a := range s.Actions {
		dist := make(planner.OutcomeDistribution, len(a.Outcomes))
		for j, o := range a.Outcomes {
			dist[j] = o.Probability
		}
		dists[i] = dist
	}
	return NewTable(s.PlannerActions(), dists)
}

// Multinomial builds a Dirichlet-multinomial model from the spec's priors.
func (s *Spec) Multinomial(sampled bool) (*Multinomial, error) {
	priors := make([][]float64, len(s.Actions))
	for i, a := range s.Actions {
		prior := make([]float64, len(a.Outcomes))
		for j, o := range a.Outcomes {
			prior[j] = o.Prior
		}
		priors[i] = prior
	}
	return NewMultinomial(s.PlannerActions(), priors, sampled)
}

// ActionIndex returns the index of the action with the given description.
func (s *Spec) ActionIndex(description string) (int, bool) {
	for i, a := range s.Actions {
		if a.Description == description {
			return i, true
		}
	}
	return -1, false
}

// OutcomeIndex returns the index of the named outcome of action i.
func (s *Spec) OutcomeIndex(i int, name string) (int, bool) {
	if i < 0 || i >= len(s.Actions) {
		return -1, false
	}
	for j, o := range s.Actions[i].Outcomes {
		if o.Name == name {
			return j, true
		}
	}
	return -1, false
}

// checkStep verifies that a history step refers to a known action and outcome.
func checkStep(actions []planner.Action, step planner.Step) error {
	if step.ActionIndex < 0 || step.ActionIndex >= len(actions) {
		return fmt.Errorf("%w: action index %d", ErrUnknownStep, step.ActionIndex)
	}
	if step.OutcomeIndex < 0 || step.OutcomeIndex >= len(actions[step.ActionIndex].Outcomes) {
		return fmt.Errorf("%w: outcome index %d of action %q",
			ErrUnknownStep, step.OutcomeIndex, actions[step.ActionIndex].Description)
	}
	return nil
}
