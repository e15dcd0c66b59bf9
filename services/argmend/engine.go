// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package argmend is the entry point of the tool-argument normalization
// engine. An Engine binds a rule registry, tool hooks and an audit sink,
// and exposes single, JSON and batch normalization plus an HTTP surface.
package argmend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/argmend/services/argmend/normalizer"
	"github.com/AleutianAI/argmend/services/argmend/rules"
	"github.com/AleutianAI/argmend/services/argmend/schema"
)

var (
	// ErrUnknownTool is returned when a tool has no registered schema.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when raw arguments cannot be decoded
	// into a JSON object.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// DefaultBatchConcurrency bounds the goroutines of one NormalizeBatch call.
const DefaultBatchConcurrency = 8

// =============================================================================
// Engine
// =============================================================================

// Engine normalizes tool calls against the current rule registry.
//
// Description:
//
//	The registry handle is swapped atomically on reload; every call reads
//	it once and works against that snapshot, so a call never observes a
//	half-installed registry. Each finished call is reported to the sink.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	current     atomic.Pointer[normalizer.Normalizer]
	hooks       normalizer.Hooks
	sink        Sink
	logger      *slog.Logger
	concurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSink sets the audit sink. Nil disables auditing.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithHooks replaces the default tool hooks.
func WithHooks(h normalizer.Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithBatchConcurrency bounds concurrent calls inside one batch.
func WithBatchConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewEngine creates an engine over reg. A nil reg behaves as an empty
// registry. Hooks default to normalizer.DefaultHooks().
func NewEngine(reg *rules.Registry, opts ...Option) *Engine {
	e := &Engine{
		hooks:       normalizer.DefaultHooks(),
		logger:      slog.Default(),
		concurrency: DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.SetRegistry(reg)
	return e
}

// SetRegistry installs reg for all subsequent calls.
func (e *Engine) SetRegistry(reg *rules.Registry) {
	n := normalizer.New(reg,
		normalizer.WithHooks(e.hooks),
		normalizer.WithLogger(e.logger),
	)
	e.current.Store(n)
}

// Registry returns the registry currently in use.
func (e *Engine) Registry() *rules.Registry {
	return e.current.Load().Registry()
}

// WatchRules reloads the registry from path whenever the file changes,
// until ctx is cancelled. A file that fails to load leaves the current
// registry in place.
func (e *Engine) WatchRules(ctx context.Context, path string) error {
	w, err := rules.NewWatcher(path, e.SetRegistry, e.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// =============================================================================
// Single Calls
// =============================================================================

// Normalize maps raw onto an explicit signature.
//
// Description:
//
//	Runs the full normalization pipeline with the rule tables registered
//	for tool and reports the result to the sink without waiting on it.
//	The signature is taken as given; tools need not be registered.
//
// Inputs:
//
//	ctx - Context for tracing.
//	tool - The tool name scoping the rule tables.
//	sig - The tool's signature.
//	raw - Raw arguments. Never modified.
//
// Outputs:
//
//	*normalizer.Result - Normalized arguments and corrections, also on error.
//	error - From normalizer.Normalize.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) Normalize(ctx context.Context, tool string, sig schema.Signature, raw map[string]any) (*normalizer.Result, error) {
	return e.run(ctx, e.current.Load(), tool, sig, raw)
}

// NormalizeTool normalizes raw against the signature registered for tool.
// Returns ErrUnknownTool when the registry does not know tool.
func (e *Engine) NormalizeTool(ctx context.Context, tool string, raw map[string]any) (*normalizer.Result, error) {
	n := e.current.Load()
	sig, ok := n.Registry().Signature(tool)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
	return e.run(ctx, n, tool, sig, raw)
}

// NormalizeJSON decodes model-produced arguments and normalizes them
// against the registered signature of tool.
//
// data may be a JSON object, a JSON string holding an object (some
// providers double-encode arguments), null or empty.
func (e *Engine) NormalizeJSON(ctx context.Context, tool string, data json.RawMessage) (*normalizer.Result, error) {
	raw, err := DecodeArguments(data)
	if err != nil {
		return nil, err
	}
	return e.NormalizeTool(ctx, tool, raw)
}

func (e *Engine) run(ctx context.Context, n *normalizer.Normalizer, tool string, sig schema.Signature, raw map[string]any) (*normalizer.Result, error) {
	res, err := n.Normalize(ctx, tool, sig, raw)
	e.emit(ctx, res, err)
	return res, err
}

func (e *Engine) emit(ctx context.Context, res *normalizer.Result, callErr error) {
	if e.sink == nil || res == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("audit sink panicked",
				slog.String("tool", res.Tool),
				slog.Any("panic", r),
			)
		}
	}()

	ev := Event{
		ID:          uuid.NewString(),
		Tool:        res.Tool,
		Time:        time.Now().UTC(),
		Arguments:   maps.Clone(res.Arguments),
		Corrections: append([]normalizer.CorrectionRecord(nil), res.Corrections...),
	}
	if callErr != nil {
		ev.Error = callErr.Error()
	}
	e.sink.Emit(ctx, ev)
}

// DecodeArguments turns raw model output into an argument mapping.
func DecodeArguments(data json.RawMessage) (map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return map[string]any{}, nil
	}

	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		if inner == "" {
			return map[string]any{}, nil
		}
		data = []byte(inner)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// =============================================================================
// Batch Calls
// =============================================================================

// Call is one tool call of a batch.
type Call struct {
	Tool      string         `json:"tool" validate:"required"`
	Arguments map[string]any `json:"arguments"`
}

// CallResult pairs a batch call with its outcome.
type CallResult struct {
	Result *normalizer.Result
	Err    error
}

// NormalizeBatch normalizes independent calls concurrently.
//
// Description:
//
//	Each call is normalized with NormalizeTool; one failing call does not
//	affect the others. Results are returned in input order. Calls not yet
//	started when ctx is cancelled carry ctx.Err().
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) NormalizeBatch(ctx context.Context, calls []Call) []CallResult {
	results := make([]CallResult, len(calls))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, c := range calls {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = CallResult{Err: err}
				return nil
			}
			res, err := e.NormalizeTool(ctx, c.Tool, c.Arguments)
			results[i] = CallResult{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
