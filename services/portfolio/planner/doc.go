// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner selects the next action of an algorithm portfolio.
//
// Architecture:
//
//	A driver repeatedly asks a Planner which action to run next. The planner
//	consults a Model for per-action outcome distributions and picks the action
//	with the best (discounted) expected utility that the remaining budget can
//	still pay for.
//
//	┌──────────────┐  Select(model, history, budget, rng)  ┌──────────────┐
//	│    Driver    │ ─────────────────────────────────────▶ │   Planner    │
//	│ (session pkg)│ ◀───────────────────────────────────── │              │
//	└──────┬───────┘               Action                   └──────┬───────┘
//	       │ execute, append history,                              │ Predict
//	       │ decrement budget                                      ▼
//	       ▼                                                ┌──────────────┐
//	┌──────────────┐                                        │    Model     │
//	│   Executor   │                                        └──────────────┘
//	└──────────────┘
//
// Planners:
//
//	MyopicPlanner   one-step lookahead: argmax E[utility] * discount^cost
//	HorizonPlanner  finite-horizon Bellman backup over outcome trajectories,
//	                executes only the first action of the optimal plan
//
// Planner Contract:
//
//	Planners MUST:
//	1. Be pure functions of (model, history, budget, rng)
//	2. Draw randomness only from the supplied rng
//	3. Fail with ErrNoEligibleAction instead of returning an arbitrary action
//	4. Surface malformed predictions as ErrInvalidPrediction
//
//	Planners MUST NOT:
//	1. Mutate the history, the model, or the budget
//	2. Keep state between calls
//	3. Renormalize or otherwise repair predictions
//	4. Truncate a search implicitly (deadlines are the driver's job)
package planner
