// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package argmend

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/argmend/services/argmend/normalizer"
	"github.com/AleutianAI/argmend/services/argmend/rules"
	"github.com/AleutianAI/argmend/services/argmend/schema"
)

// recordingSink collects events synchronously.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	reg, err := rules.Default()
	require.NoError(t, err)
	return NewEngine(reg, opts...)
}

const singleToolRules = `
tools:
  - name: lookup
    params:
      - name: id
        required: true
`

// =============================================================================
// Single Call Tests
// =============================================================================

func TestEngine_NormalizeTool(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.NormalizeTool(context.Background(), "web_search", map[string]any{
		"q":     "golang",
		"top_k": 37,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"query": "golang", "max_results": 20}, res.Arguments)
	assert.Equal(t, 2, res.Count(normalizer.KindRename))
	assert.Equal(t, 1, res.Count(normalizer.KindRepair))
}

func TestEngine_NormalizeTool_UnknownTool(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.NormalizeTool(context.Background(), "does_not_exist", map[string]any{"a": 1})
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrUnknownTool))
}

func TestEngine_Normalize_ExplicitSignature(t *testing.T) {
	e := newTestEngine(t)
	sig := schema.NewSignature("ad_hoc", []schema.Param{{Name: "a", Required: true}}, false)

	res, err := e.Normalize(context.Background(), "ad_hoc", sig, map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, res.Arguments)
	assert.Equal(t, 1, res.Count(normalizer.KindDropUnknown))
}

func TestEngine_NormalizeJSON(t *testing.T) {
	e := newTestEngine(t)

	t.Run("object", func(t *testing.T) {
		res, err := e.NormalizeJSON(context.Background(), "web_search", json.RawMessage(`{"query":"go","max_results":3}`))
		require.NoError(t, err)
		assert.Equal(t, "go", res.Arguments["query"])
		assert.Equal(t, float64(3), res.Arguments["max_results"])
		assert.Empty(t, res.Corrections)
	})

	t.Run("string wrapped object", func(t *testing.T) {
		res, err := e.NormalizeJSON(context.Background(), "web_search", json.RawMessage(`"{\"query\":\"go\"}"`))
		require.NoError(t, err)
		assert.Equal(t, "go", res.Arguments["query"])
		assert.Equal(t, 5, res.Arguments["max_results"])
	})

	t.Run("not an object", func(t *testing.T) {
		_, err := e.NormalizeJSON(context.Background(), "web_search", json.RawMessage(`[1,2]`))
		assert.True(t, errors.Is(err, ErrInvalidArguments))
	})

	t.Run("missing required", func(t *testing.T) {
		res, err := e.NormalizeJSON(context.Background(), "web_search", nil)
		assert.True(t, errors.Is(err, normalizer.ErrMissingRequired))
		require.NotNil(t, res)
	})
}

func TestDecodeArguments(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]any
		wantErr bool
	}{
		{name: "empty", input: "", want: map[string]any{}},
		{name: "null", input: " null ", want: map[string]any{}},
		{name: "empty string", input: `""`, want: map[string]any{}},
		{name: "object", input: `{"a":1}`, want: map[string]any{"a": float64(1)}},
		{name: "wrapped object", input: `"{\"a\":\"b\"}"`, want: map[string]any{"a": "b"}},
		{name: "wrapped null", input: `"null"`, want: map[string]any{}},
		{name: "array", input: `[1]`, wantErr: true},
		{name: "wrapped garbage", input: `"not json"`, wantErr: true},
		{name: "number", input: `42`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeArguments(json.RawMessage(tt.input))
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidArguments), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Sink Tests
// =============================================================================

func TestEngine_EmitsEvents(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(t, WithSink(sink))

	_, err := e.NormalizeTool(context.Background(), "web_search", map[string]any{"query": "go"})
	require.NoError(t, err)
	_, err = e.NormalizeTool(context.Background(), "poi_search", map[string]any{})
	require.Error(t, err)

	events := sink.all()
	require.Len(t, events, 2)

	assert.Equal(t, "web_search", events[0].Tool)
	assert.NotEmpty(t, events[0].ID)
	assert.Empty(t, events[0].Error)
	assert.Len(t, events[0].Corrections, 1, "default max_results")

	assert.Equal(t, "poi_search", events[1].Tool)
	assert.Contains(t, events[1].Error, "keywords")
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestEngine_EventArgumentsAreCopied(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(t, WithSink(sink))

	res, err := e.NormalizeTool(context.Background(), "web_search", map[string]any{"query": "go"})
	require.NoError(t, err)
	res.Arguments["query"] = "changed"

	assert.Equal(t, "go", sink.all()[0].Arguments["query"])
}

func TestEngine_SinkPanicRecovered(t *testing.T) {
	e := newTestEngine(t, WithSink(SinkFunc(func(context.Context, Event) {
		panic("sink exploded")
	})))

	res, err := e.NormalizeTool(context.Background(), "web_search", map[string]any{"query": "go"})
	require.NoError(t, err)
	assert.Equal(t, "go", res.Arguments["query"])
}

func TestEngine_NoEventForUnknownTool(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(t, WithSink(sink))

	_, _ = e.NormalizeTool(context.Background(), "nope", nil)
	assert.Empty(t, sink.all())
}

// =============================================================================
// Batch Tests
// =============================================================================

func TestEngine_NormalizeBatch(t *testing.T) {
	e := newTestEngine(t, WithBatchConcurrency(2))

	calls := []Call{
		{Tool: "web_search", Arguments: map[string]any{"q": "go"}},
		{Tool: "poi_search", Arguments: map[string]any{}},
		{Tool: "unknown"},
		{Tool: "poi_search", Arguments: map[string]any{"keywords": "北京 天安门,故宫"}},
	}
	results := e.NormalizeBatch(context.Background(), calls)
	require.Len(t, results, 4)

	require.NoError(t, results[0].Err)
	assert.Equal(t, "go", results[0].Result.Arguments["query"])

	assert.True(t, errors.Is(results[1].Err, normalizer.ErrMissingRequired))
	require.NotNil(t, results[1].Result)

	assert.True(t, errors.Is(results[2].Err, ErrUnknownTool))
	assert.Nil(t, results[2].Result)

	require.NoError(t, results[3].Err)
	assert.Equal(t, "北京|天安门|故宫", results[3].Result.Arguments["keywords"])
}

func TestEngine_NormalizeBatch_Cancelled(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := e.NormalizeBatch(ctx, []Call{{Tool: "web_search"}, {Tool: "poi_search"}})
	for i, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled, "call %d", i)
		assert.Nil(t, r.Result)
	}
}

func TestEngine_NormalizeBatch_Empty(t *testing.T) {
	e := newTestEngine(t)
	assert.Empty(t, e.NormalizeBatch(context.Background(), nil))
}

// =============================================================================
// Registry Swap Tests
// =============================================================================

func TestEngine_SetRegistry(t *testing.T) {
	e := newTestEngine(t)

	reg, err := rules.Load(context.Background(), []byte(singleToolRules))
	require.NoError(t, err)
	e.SetRegistry(reg)

	_, err = e.NormalizeTool(context.Background(), "web_search", map[string]any{"query": "go"})
	assert.ErrorIs(t, err, ErrUnknownTool)

	res, err := e.NormalizeTool(context.Background(), "lookup", map[string]any{"id": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "x"}, res.Arguments)
}

func TestEngine_NilRegistry(t *testing.T) {
	e := NewEngine(nil)
	assert.Equal(t, 0, e.Registry().Len())

	_, err := e.NormalizeTool(context.Background(), "web_search", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestEngine_WatchRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools: []"), 0o644))

	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.WatchRules(ctx, path) }()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(singleToolRules), 0o644)
		_, ok := e.Registry().Schema("lookup")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WatchRules did not return after cancel")
	}
}
