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
	"context"
	"errors"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// =============================================================================
// statusLabel Tests
// =============================================================================

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, "ok"},
		{"missing", &MissingRequiredParametersError{Tool: "t", Missing: []string{"a"}}, "missing_required"},
		{"wrapped missing", fmt.Errorf("call: %w", &MissingRequiredParametersError{Tool: "t"}), "missing_required"},
		{"invalid", &ValidationError{Tool: "t", Params: []string{"a"}}, "invalid"},
		{"other", errors.New("boom"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusLabel(tt.err); got != tt.expected {
				t.Errorf("statusLabel() = %q, want %q", got, tt.expected)
			}
		})
	}
}

// =============================================================================
// OTel Span Tests (using test exporter)
// =============================================================================

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestNormalize_SpanCreated(t *testing.T) {
	exporter := setupTestTracer(t)

	_, err := normalizeBuiltin(t, "web_search", map[string]any{"q": "go", "junk": true})
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}

	found := false
	for _, s := range spans {
		if s.Name != "normalizer.Normalize" {
			continue
		}
		found = true
		attrs := make(map[string]string)
		for _, a := range s.Attributes {
			attrs[string(a.Key)] = a.Value.Emit()
		}
		if attrs["tool"] != "web_search" {
			t.Errorf("span tool = %q, want %q", attrs["tool"], "web_search")
		}
		// rename q, drop junk, default max_results
		if attrs["corrections"] != "3" {
			t.Errorf("span corrections = %q, want %q", attrs["corrections"], "3")
		}
		if attrs["status"] != "ok" {
			t.Errorf("span status = %q, want %q", attrs["status"], "ok")
		}
	}
	if !found {
		t.Error("span 'normalizer.Normalize' not found")
	}
}

func TestNormalize_SpanRecordsFailure(t *testing.T) {
	exporter := setupTestTracer(t)

	_, err := normalizeBuiltin(t, "web_search", map[string]any{})
	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("expected ErrMissingRequired, got %v", err)
	}

	spans := exporter.GetSpans()
	for _, s := range spans {
		if s.Name != "normalizer.Normalize" {
			continue
		}
		if s.Status.Code != codes.Error {
			t.Errorf("span status code = %v, want Error", s.Status.Code)
		}
		if len(s.Events) == 0 {
			t.Error("expected the error to be recorded as a span event")
		}
		return
	}
	t.Error("span 'normalizer.Normalize' not found")
}
