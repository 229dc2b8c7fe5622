// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var knownReasons = map[string]bool{
	ReasonFinal:            true,
	ReasonBudgetExhausted:  true,
	ReasonMaxSteps:         true,
	ReasonNoEligibleAction: true,
	ReasonError:            true,
}

var (
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: "session",
			Name:      "sessions_total",
			Help:      "Total sessions by stop reason",
		},
		[]string{"reason"},
	)

	sessionSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "portfolio",
			Subsystem: "session",
			Name:      "steps",
			Help:      "Executed steps per session",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	sessionUtility = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "portfolio",
			Subsystem: "session",
			Name:      "utility",
			Help:      "Total realized utility per session",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "portfolio",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently running",
		},
	)
)

func recordSession(result *Result) {
	reason := result.StopReason
	if !knownReasons[reason] {
		reason = ReasonError
	}
	sessionsTotal.WithLabelValues(reason).Inc()
	sessionSteps.Observe(float64(result.History.Len()))
	sessionUtility.Observe(result.Utility)
}

// stepsExecuted is exported through whichever OpenTelemetry meter provider is
// installed globally. Instruments created before installation are delegated.
var stepsExecuted, _ = otel.Meter("portfolio.session").Int64Counter(
	"portfolio.session.steps_executed",
	metric.WithDescription("Executed session steps by action"),
)

func recordStep(ctx context.Context, action, outcome string) {
	stepsExecuted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}
