// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package normalizer

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// tracerName is the OTel tracer name for normalization spans.
const tracerName = "argmend.normalizer"

// Package-level Prometheus metrics for normalization.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// correctionsTotal counts correction records.
	//
	// Labels:
	//   - tool: the tool name
	//   - kind: "rename", "transform", "default", "repair", "repair-failed",
	//     "drop-unknown", "drop-shadowed"
	correctionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argmend",
			Name:      "corrections_total",
			Help:      "Total correction records by tool and kind.",
		},
		[]string{"tool", "kind"},
	)

	// normalizeTotal counts normalization calls.
	//
	// Labels:
	//   - tool: the tool name
	//   - status: "ok", "missing_required", "invalid"
	normalizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argmend",
			Name:      "normalize_total",
			Help:      "Total normalization calls by tool and outcome.",
		},
		[]string{"tool", "status"},
	)

	// normalizeDuration measures normalization latency.
	normalizeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "argmend",
			Name:      "normalize_duration_seconds",
			Help:      "Duration of normalization calls in seconds.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
		[]string{"tool"},
	)

	// transformerFailuresTotal counts transformers, validators, repairers
	// and hooks that errored or panicked.
	//
	// Labels:
	//   - tool: the tool name
	//   - stage: "transform", "validate", "repair", "hook"
	transformerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argmend",
			Name:      "transformer_failures_total",
			Help:      "Rule functions that failed internally, by tool and stage.",
		},
		[]string{"tool", "stage"},
	)
)

// statusLabel maps a normalization error to a label-safe status.
func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingRequired):
		return "missing_required"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
