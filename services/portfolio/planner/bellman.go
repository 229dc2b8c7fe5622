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
	"cmp"
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// nodeKey addresses a search node in the arena.
type nodeKey struct {
	depth int
	state string
}

// searchNode is the solved value of one (depth, state) node.
type searchNode struct {
	value float64
	best  int
	dist  OutcomeDistribution // prediction for the best action
}

// bellman is the backward-induction engine behind HorizonPlanner.
//
// Description:
//
//	Nodes live in an arena keyed by depth and a compact encoding of the path
//	taken from the root plus the remaining budget. For deterministic models
//	predictions and solved nodes are reused within the call; exchangeable
//	models additionally share transposed paths. Stochastic models get a fresh
//	prediction at every node, drawn from the caller's rng in depth-first order.
//
// Thread Safety: One engine per planning call. The arena is mutex-guarded so
// sibling subtrees can be solved concurrently.
type bellman struct {
	model         Model
	actions       []Action
	enabled       []bool
	factors       []float64
	root          []Step
	horizon       int
	compound      bool
	maxNodes      int
	workers       int
	parallelDepth int
	cacheable     bool
	exchangeable  bool

	mu          sync.Mutex
	arena       map[nodeKey]*searchNode
	predictions map[string][]OutcomeDistribution
}

func newBellman(config HorizonConfig, model Model, actions []Action, history History, budget float64) *bellman {
	factors := make([]float64, len(actions))
	for i, a := range actions {
		factors[i] = discountFactor(config.Discount, a.Cost)
	}

	cacheable := isDeterministic(model)
	return &bellman{
		model:         model,
		actions:       actions,
		enabled:       config.Enabled,
		factors:       factors,
		root:          history.Steps(),
		horizon:       config.Horizon,
		compound:      config.CompoundDiscount,
		maxNodes:      config.MaxNodes,
		workers:       config.Workers,
		parallelDepth: config.ParallelDepth,
		cacheable:     cacheable,
		exchangeable:  cacheable && isExchangeable(model),
		arena:         make(map[nodeKey]*searchNode),
		predictions:   make(map[string][]OutcomeDistribution),
	}
}

// value returns V(node) for the node reached by path with the given budget.
func (b *bellman) value(ctx context.Context, depth int, path []Step, budget float64, rng *rand.Rand) (float64, error) {
	if depth >= b.horizon {
		return 0, nil
	}
	candidates := eligibleActions(b.actions, b.enabled, budget)
	if len(candidates) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	histKey := b.historyKey(path)
	key := nodeKey{depth: depth, state: histKey + "@" + strconv.FormatUint(math.Float64bits(budget), 16)}
	if b.cacheable {
		if n, ok := b.lookup(key); ok {
			return n.value, nil
		}
	}

	predicted, err := b.predict(ctx, histKey, path, rng)
	if err != nil {
		return 0, err
	}

	children, err := b.solveChildren(ctx, depth, path, budget, candidates, predicted, rng)
	if err != nil {
		return 0, err
	}

	best := -1
	bestValue := 0.0
	for ci, a := range candidates {
		action := b.actions[a]
		dist := predicted[a]

		continuation := 0.0
		for o, v := range children[ci] {
			continuation += dist[o] * v
		}
		if b.compound {
			continuation *= b.factors[a]
		}

		q := expectedUtility(action, dist)*b.factors[a] + continuation
		if best < 0 || q > bestValue {
			best = a
			bestValue = q
		}
	}

	if err := b.store(key, &searchNode{value: bestValue, best: best, dist: predicted[best]}); err != nil {
		return 0, err
	}
	return bestValue, nil
}

// expands reports whether outcome o of action a has a subtree below depth.
func (b *bellman) expands(depth, a, o int, dist OutcomeDistribution) bool {
	return depth+1 < b.horizon && dist[o] > 0 && !b.actions[a].Outcomes[o].Terminal
}

// solveChildren returns V(child) for every candidate action and outcome.
// Terminal, zero-probability, and horizon-level children are worth 0.
func (b *bellman) solveChildren(
	ctx context.Context,
	depth int,
	path []Step,
	budget float64,
	candidates []int,
	predicted []OutcomeDistribution,
	rng *rand.Rand,
) ([][]float64, error) {
	children := make([][]float64, len(candidates))
	for ci, a := range candidates {
		children[ci] = make([]float64, len(b.actions[a].Outcomes))
	}

	if b.cacheable && b.workers > 1 && depth < b.parallelDepth {
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(b.workers)
		for ci, a := range candidates {
			for o := range b.actions[a].Outcomes {
				if !b.expands(depth, a, o, predicted[a]) {
					continue
				}
				g.Go(func() error {
					v, err := b.child(gCtx, depth, path, budget, a, o, rng)
					if err != nil {
						return err
					}
					children[ci][o] = v
					return nil
				})
			}
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return children, nil
	}

	for ci, a := range candidates {
		for o := range b.actions[a].Outcomes {
			if !b.expands(depth, a, o, predicted[a]) {
				continue
			}
			v, err := b.child(ctx, depth, path, budget, a, o, rng)
			if err != nil {
				return nil, err
			}
			children[ci][o] = v
		}
	}
	return children, nil
}

// child solves the node reached by taking action a and observing outcome o.
func (b *bellman) child(ctx context.Context, depth int, path []Step, budget float64, a, o int, rng *rand.Rand) (float64, error) {
	cost := b.actions[a].Cost
	next := appendStep(path, Step{ActionIndex: a, OutcomeIndex: o, Cost: cost})
	return b.value(ctx, depth+1, next, budget-cost, rng)
}

// predict returns validated predictions for the root history extended by path.
func (b *bellman) predict(ctx context.Context, histKey string, path []Step, rng *rand.Rand) ([]OutcomeDistribution, error) {
	if b.cacheable {
		b.mu.Lock()
		cached, ok := b.predictions[histKey]
		b.mu.Unlock()
		if ok {
			return cached, nil
		}
	}

	steps := make([]Step, 0, len(b.root)+len(path))
	steps = append(steps, b.root...)
	steps = append(steps, path...)

	predicted, err := predictValidated(ctx, b.model, b.actions, History{steps: steps}, rng)
	if err != nil {
		return nil, err
	}

	if b.cacheable {
		b.mu.Lock()
		b.predictions[histKey] = predicted
		b.mu.Unlock()
	}
	return predicted, nil
}

func (b *bellman) lookup(key nodeKey) (*searchNode, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.arena[key]
	return n, ok
}

// store records a solved node. Nodes are counted once per distinct key, so the
// limit check gives the same answer regardless of evaluation order.
func (b *bellman) store(key nodeKey, n *searchNode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.arena[key]; ok {
		return nil
	}
	b.arena[key] = n
	if b.maxNodes > 0 && len(b.arena) > b.maxNodes {
		return fmt.Errorf("%w: more than %d nodes", ErrNodeLimitExceeded, b.maxNodes)
	}
	return nil
}

func (b *bellman) nodeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.arena)
}

// historyKey encodes the path below the root. Exchangeable models use the
// sorted path so that transpositions map to the same key.
func (b *bellman) historyKey(path []Step) string {
	steps := path
	if b.exchangeable && len(path) > 1 {
		steps = slices.Clone(path)
		slices.SortFunc(steps, func(x, y Step) int {
			if c := cmp.Compare(x.ActionIndex, y.ActionIndex); c != 0 {
				return c
			}
			return cmp.Compare(x.OutcomeIndex, y.OutcomeIndex)
		})
	}

	var sb strings.Builder
	for _, s := range steps {
		sb.WriteString(strconv.Itoa(s.ActionIndex))
		sb.WriteByte('.')
		sb.WriteString(strconv.Itoa(s.OutcomeIndex))
		sb.WriteByte('|')
	}
	return sb.String()
}

// extractPlan walks the solved arena from the root, taking the best action at
// each node and descending through its most probable non-terminal outcome.
func (b *bellman) extractPlan(budget float64) []Action {
	var plan []Action
	var path []Step
	for depth := 0; depth < b.horizon; depth++ {
		key := nodeKey{depth: depth, state: b.historyKey(path) + "@" + strconv.FormatUint(math.Float64bits(budget), 16)}
		n, ok := b.lookup(key)
		if !ok || n.best < 0 {
			break
		}

		action := b.actions[n.best]
		plan = append(plan, action)

		o := likeliestContinuation(action, n.dist)
		if o < 0 {
			break
		}
		path = appendStep(path, Step{ActionIndex: action.Index, OutcomeIndex: o, Cost: action.Cost})
		budget -= action.Cost
	}
	return plan
}

// likeliestContinuation returns the most probable non-terminal outcome with
// positive probability, or -1. Ties go to the earliest outcome.
func likeliestContinuation(action Action, dist OutcomeDistribution) int {
	best := -1
	for o, out := range action.Outcomes {
		if out.Terminal || dist[o] <= 0 {
			continue
		}
		if best < 0 || dist[o] > dist[best] {
			best = o
		}
	}
	return best
}

// appendStep returns a new path; it never writes into path's backing array.
func appendStep(path []Step, s Step) []Step {
	next := make([]Step, len(path)+1)
	copy(next, path)
	next[len(path)] = s
	return next
}
