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
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Selection statuses used as metric label values.
const (
	statusOK                = "ok"
	statusNoEligibleAction  = "no_eligible_action"
	statusInvalidHorizon    = "invalid_horizon"
	statusInvalidPrediction = "invalid_prediction"
	statusNodeLimit         = "node_limit"
	statusError             = "error"
)

// knownKinds guards the planner label against cardinality explosion.
var knownKinds = map[string]bool{
	KindMyopic:  true,
	KindHorizon: true,
}

func sanitizeKind(kind string) string {
	if knownKinds[kind] {
		return kind
	}
	return "unknown"
}

var (
	// selectionsTotal counts Select calls.
	//
	// Labels:
	//   - planner: "myopic", "horizon", or "unknown"
	//   - status: one of the status constants above
	selectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: "planner",
			Name:      "selections_total",
			Help:      "Total planner selections by planner kind and status",
		},
		[]string{"planner", "status"},
	)

	selectDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "portfolio",
			Subsystem: "planner",
			Name:      "select_duration_seconds",
			Help:      "Planner select duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"planner"},
	)

	nodesEvaluated = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "portfolio",
			Subsystem: "planner",
			Name:      "nodes_evaluated",
			Help:      "Search nodes evaluated per select call",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"planner"},
	)
)

// selectionStatus maps a Select error to a status label.
func selectionStatus(err error) string {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, ErrNoEligibleAction):
		return statusNoEligibleAction
	case errors.Is(err, ErrInvalidHorizon):
		return statusInvalidHorizon
	case errors.Is(err, ErrInvalidPrediction):
		return statusInvalidPrediction
	case errors.Is(err, ErrNodeLimitExceeded):
		return statusNodeLimit
	default:
		return statusError
	}
}

// recordSelection records metrics for one Select call.
func recordSelection(kind string, duration time.Duration, nodes int, err error) {
	kind = sanitizeKind(kind)
	selectionsTotal.WithLabelValues(kind, selectionStatus(err)).Inc()
	selectDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	if err == nil {
		nodesEvaluated.WithLabelValues(kind).Observe(float64(nodes))
	}
}
