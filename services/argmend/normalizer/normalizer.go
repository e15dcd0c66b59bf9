// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package normalizer turns raw, model-produced tool arguments into a mapping
// that matches the tool's declared signature, recording every change it
// makes along the way.
//
// The pipeline runs in a fixed order: alias resolution, transformation,
// defaulting, validation with repair, tool hooks, required-parameter check.
// Only missing required parameters (and, for strict tools, unrepaired
// validation failures) fail a call; everything else degrades to a logged
// correction.
package normalizer

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/argmend/services/argmend/corrector"
	"github.com/AleutianAI/argmend/services/argmend/rules"
	"github.com/AleutianAI/argmend/services/argmend/schema"
)

// =============================================================================
// Normalizer
// =============================================================================

// Normalizer runs the normalization pipeline against one rule registry.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
// Every call works on its own maps.
type Normalizer struct {
	registry  *rules.Registry
	corrector *corrector.Corrector
	hooks     Hooks
	logger    *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithHooks sets the tool-specific post-processing hooks.
func WithHooks(h Hooks) Option {
	return func(n *Normalizer) { n.hooks = h }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithCorrector overrides the registry's corrector.
func WithCorrector(c *corrector.Corrector) Option {
	return func(n *Normalizer) { n.corrector = c }
}

// New creates a Normalizer over reg. A nil registry behaves as one with no
// tools registered.
func New(reg *rules.Registry, opts ...Option) *Normalizer {
	n := &Normalizer{
		registry:  reg,
		corrector: reg.Corrector(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Registry returns the registry the normalizer reads from.
func (n *Normalizer) Registry() *rules.Registry {
	return n.registry
}

// call holds the per-call state threaded through the pipeline steps.
type call struct {
	tool    string
	sig     schema.Signature
	rules   rules.ToolRules
	args    map[string]any
	records []CorrectionRecord
	invalid []string
	logger  *slog.Logger
}

func (c *call) record(kind Kind, param string, before, after any) {
	c.records = append(c.records, CorrectionRecord{Kind: kind, Param: param, Before: before, After: after})
	correctionsTotal.WithLabelValues(c.tool, string(kind)).Inc()
	c.logger.Debug("argument corrected",
		slog.String("kind", string(kind)),
		slog.String("param", param),
		slog.Any("before", before),
		slog.Any("after", after),
	)
}

// Normalize maps raw arguments onto sig.
//
// Description:
//
//	Runs alias resolution, transformation, defaulting, validation and
//	repair, tool hooks and the required-parameter check, in that order.
//	raw is never modified. Keys are visited in signature order followed by
//	the remaining keys sorted, so the correction log is deterministic.
//
// Inputs:
//
//	ctx - Context for tracing.
//	tool - The tool name scoping the rule tables.
//	sig - The tool's signature.
//	raw - The raw arguments. May be nil.
//
// Outputs:
//
//	*Result - Normalized arguments and the correction log. Returned on
//	          failure too, so the log stays available for audit.
//	error - *MissingRequiredParametersError when required parameters are
//	        still absent; *ValidationError when a strict tool has values
//	        that could not be repaired. Nil otherwise.
//
// Thread Safety: Safe for concurrent use.
func (n *Normalizer) Normalize(ctx context.Context, tool string, sig schema.Signature, raw map[string]any) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "normalizer.Normalize")
	defer span.End()
	start := time.Now()

	c := &call{
		tool:    tool,
		sig:     sig,
		rules:   n.registry.Lookup(tool),
		args:    make(map[string]any, len(raw)),
		records: make([]CorrectionRecord, 0),
		logger:  n.logger.With(slog.String("tool", tool)),
	}

	n.resolveAliases(c, raw)
	n.transform(c)
	n.applyDefaults(c)
	n.validate(c)
	n.runHooks(ctx, c)
	err := n.checkRequired(c)

	result := &Result{Tool: tool, Arguments: c.args, Corrections: c.records}

	status := statusLabel(err)
	normalizeTotal.WithLabelValues(tool, status).Inc()
	normalizeDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.String("tool", tool),
		attribute.Int("raw_params", len(raw)),
		attribute.Int("params", len(c.args)),
		attribute.Int("corrections", len(c.records)),
		attribute.String("status", status),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	}
	return result, err
}

// =============================================================================
// Step 1: Alias Resolution
// =============================================================================

func (n *Normalizer) resolveAliases(c *call, raw map[string]any) {
	for _, key := range c.sig.OrderedKeys(raw) {
		value := raw[key]

		target, isAlias := c.rules.Aliases[key]
		if !isAlias && !c.sig.Has(key) {
			target, isAlias = canonicalKey(key, c.sig, c.rules.Aliases)
		}

		// Alias tables come from the registry; the signature in use may be
		// narrower and must still bound the output.
		if isAlias && !c.sig.Admits(target) {
			isAlias = false
		}

		switch {
		case isAlias:
			if _, supplied := raw[target]; supplied {
				c.record(KindDropShadowed, key, value, nil)
				continue
			}
			if _, taken := c.args[target]; taken {
				c.record(KindDropShadowed, key, value, nil)
				continue
			}
			c.args[target] = value
			c.record(KindRename, target, key, target)
		case c.sig.Has(key) || c.sig.AcceptsAny:
			c.args[key] = value
		default:
			c.record(KindDropUnknown, key, value, nil)
		}
	}
}

// =============================================================================
// Step 2: Transformation
// =============================================================================

func (n *Normalizer) transform(c *call) {
	for _, name := range c.sig.OrderedKeys(c.args) {
		t, ok := c.rules.Transformers[name]
		if !ok {
			continue
		}
		before := c.args[name]
		after, err := safeTransform(t, before)
		if err != nil {
			transformerFailuresTotal.WithLabelValues(c.tool, "transform").Inc()
			c.logger.Error("transformer failed, keeping original value",
				slog.String("param", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if reflect.DeepEqual(before, after) {
			continue
		}
		c.args[name] = after
		c.record(KindTransform, name, before, after)
	}
}

func safeTransform(t rules.Transformer, value any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = value, fmt.Errorf("panic: %v", r)
		}
	}()
	return t(value)
}

// =============================================================================
// Step 3: Defaulting
// =============================================================================

func (n *Normalizer) applyDefaults(c *call) {
	for _, name := range orderedNames(c.sig, c.rules.Defaults) {
		if v, present := c.args[name]; present && v != nil {
			continue
		}
		if c.sig.IsRequired(name) || !c.sig.Admits(name) {
			continue
		}
		def := c.rules.Defaults[name]
		c.args[name] = def
		c.record(KindDefault, name, nil, def)
	}
}

// =============================================================================
// Step 4: Validation and Repair
// =============================================================================

func (n *Normalizer) validate(c *call) {
	for _, name := range c.sig.OrderedKeys(c.args) {
		v, ok := c.rules.Validators[name]
		if !ok {
			continue
		}
		value := c.args[name]
		if value == nil {
			continue
		}
		valid, err := safeValidate(v, value)
		if err != nil {
			transformerFailuresTotal.WithLabelValues(c.tool, "validate").Inc()
			c.logger.Error("validator failed, leaving value unchecked",
				slog.String("param", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if valid {
			continue
		}

		repaired, ok := n.safeRepair(c, name, value)
		if ok && !reflect.DeepEqual(repaired, value) {
			c.args[name] = repaired
			c.record(KindRepair, name, value, repaired)
			if accepted, err := safeValidate(v, repaired); err != nil || !accepted {
				c.logger.Warn("repaired value still fails validation",
					slog.String("param", name),
					slog.Any("value", repaired),
				)
			}
			continue
		}

		c.record(KindRepairFailed, name, value, nil)
		c.invalid = append(c.invalid, name)
		c.logger.Warn("invalid argument could not be repaired, keeping original",
			slog.String("param", name),
			slog.Any("value", value),
			slog.Bool("strict", c.rules.Strict),
		)
	}
}

func safeValidate(v rules.Validator, value any) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("panic: %v", r)
		}
	}()
	return v(value), nil
}

func (n *Normalizer) safeRepair(c *call, name string, value any) (out any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			transformerFailuresTotal.WithLabelValues(c.tool, "repair").Inc()
			c.logger.Error("repairer panicked",
				slog.String("param", name),
				slog.Any("panic", r),
			)
			out, ok = nil, false
		}
	}()
	return n.corrector.Repair(name, value)
}

// =============================================================================
// Step 5: Tool Hooks
// =============================================================================

func (n *Normalizer) runHooks(ctx context.Context, c *call) {
	for i, hook := range n.hooks[c.tool] {
		if hook == nil {
			continue
		}
		out, err := safeHook(ctx, hook, copyArgs(c.args))
		if err != nil {
			transformerFailuresTotal.WithLabelValues(c.tool, "hook").Inc()
			c.logger.Error("tool hook failed, keeping arguments",
				slog.Int("hook", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.mergeHookOutput(c, out)
	}
}

// mergeHookOutput diffs a hook's output against the current arguments,
// logging changed keys as transforms and dropping undeclared additions.
func (n *Normalizer) mergeHookOutput(c *call, out map[string]any) {
	union := copyArgs(out)
	for k, v := range c.args {
		if _, ok := union[k]; !ok {
			union[k] = v
		}
	}

	next := make(map[string]any, len(out))
	for _, key := range c.sig.OrderedKeys(union) {
		after, inOut := out[key]
		before, inArgs := c.args[key]

		switch {
		case inOut && !inArgs && !c.sig.Admits(key):
			c.record(KindDropUnknown, key, after, nil)
		case inOut:
			next[key] = after
			if !inArgs || !reflect.DeepEqual(before, after) {
				c.record(KindTransform, key, before, after)
			}
		default:
			c.record(KindTransform, key, before, nil)
		}
	}
	c.args = next
}

func safeHook(ctx context.Context, h Hook, args map[string]any) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	out, err = h(ctx, args)
	if err == nil && out == nil {
		err = fmt.Errorf("hook returned nil arguments")
	}
	return out, err
}

func copyArgs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// =============================================================================
// Step 6: Required Check
// =============================================================================

func (n *Normalizer) checkRequired(c *call) error {
	var missing []string
	for _, p := range c.sig.Params {
		if !p.Required {
			continue
		}
		if v, ok := c.args[p.Name]; !ok || v == nil {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return &MissingRequiredParametersError{Tool: c.tool, Missing: missing}
	}
	if c.rules.Strict && len(c.invalid) > 0 {
		return &ValidationError{Tool: c.tool, Params: c.invalid}
	}
	return nil
}

// orderedNames returns the keys of m in signature order followed by the
// rest sorted.
func orderedNames[V any](sig schema.Signature, m map[string]V) []string {
	names := make([]string, 0, len(m))
	for _, p := range sig.Params {
		if _, ok := m[p.Name]; ok {
			names = append(names, p.Name)
		}
	}
	var rest []string
	for k := range m {
		if !sig.Has(k) {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
