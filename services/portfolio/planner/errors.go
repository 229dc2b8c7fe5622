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

import "errors"

// Sentinel errors for the planner package.
var (
	// Selection errors
	ErrNoEligibleAction  = errors.New("no eligible action under current budget and mask")
	ErrInvalidHorizon    = errors.New("planning horizon must be positive")
	ErrInvalidPrediction = errors.New("invalid model prediction")
	ErrNodeLimitExceeded = errors.New("planning node limit exceeded")

	// Configuration errors
	ErrInvalidDiscount = errors.New("discount must be in (0, 1]")
	ErrInvalidMask     = errors.New("enabled mask does not match action count")
	ErrInvalidAction   = errors.New("invalid action definition")
	ErrNilModel        = errors.New("model must not be nil")
	ErrNilRandom       = errors.New("random source must not be nil")
)
