// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/argmend/services/argmend/corrector"
	"github.com/AleutianAI/argmend/services/argmend/schema"
)

// =============================================================================
// Embedded Rules
// =============================================================================

//go:embed rules.yaml
var defaultRulesYAML []byte

// MaxRulesFileSize bounds the rules file accepted by Load.
const MaxRulesFileSize = 1 << 20

const tracerName = "argmend.rules"

// =============================================================================
// File Types
// =============================================================================

// File is the declarative form of a rules file.
type File struct {
	Correctors map[string]CorrectorSpec `yaml:"correctors" validate:"dive"`
	Tools      []ToolSpec               `yaml:"tools" validate:"required,min=1,dive"`
}

// ToolSpec declares one tool: its schema descriptor plus rule tables keyed
// by canonical parameter name.
type ToolSpec struct {
	schema.ToolSchema `yaml:",inline"`

	Strict       bool                     `yaml:"strict,omitempty"`
	Aliases      map[string]string        `yaml:"aliases,omitempty" validate:"dive,keys,required,endkeys,required"`
	Defaults     map[string]any           `yaml:"defaults,omitempty"`
	Validators   map[string]ValidatorSpec `yaml:"validators,omitempty" validate:"dive"`
	Transformers map[string][]string      `yaml:"transformers,omitempty" validate:"dive,min=1,dive,oneof=trim lower narrow collapse_space"`
}

// ValidatorSpec declares a validator. Which fields apply depends on Kind.
type ValidatorSpec struct {
	Kind       string   `yaml:"kind" validate:"required,oneof=range enum delimited escaped_text non_empty format tag"`
	Min        int      `yaml:"min,omitempty"`
	Max        int      `yaml:"max,omitempty"`
	Values     []string `yaml:"values,omitempty"`
	Delimiter  string   `yaml:"delimiter,omitempty"`
	Separators []string `yaml:"separators,omitempty"`
	MaxLength  int      `yaml:"max_length,omitempty" validate:"gte=0"`
	Format     string   `yaml:"format,omitempty" validate:"required_if=Kind format"`
	Tag        string   `yaml:"tag,omitempty" validate:"required_if=Kind tag"`
}

// CorrectorSpec declares the repair applied to a parameter name.
type CorrectorSpec struct {
	Pattern    string            `yaml:"pattern" validate:"required,oneof=categorical bounded_numeric delimited_list escaped_text"`
	Min        int               `yaml:"min,omitempty"`
	Max        int               `yaml:"max,omitempty"`
	Fallback   int               `yaml:"fallback,omitempty"`
	Values     []string          `yaml:"values,omitempty"`
	Synonyms   map[string]string `yaml:"synonyms,omitempty"`
	Delimiter  string            `yaml:"delimiter,omitempty" validate:"required_if=Pattern delimited_list"`
	Separators []string          `yaml:"separators,omitempty"`
	MaxLength  int               `yaml:"max_length,omitempty" validate:"gte=0"`
}

// =============================================================================
// Loading
// =============================================================================

// Load parses, validates and compiles a rules file into a Registry.
//
// Description:
//
//	Structure is checked with validator struct tags, then every table is
//	cross-checked against the tool's declared parameters: aliases must
//	target a declared parameter and must not shadow one; defaults,
//	validators and transformers must name declared parameters. Accepts-any
//	tools may alias to undeclared names.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes.
//
// Outputs:
//
//	*Registry - The compiled registry.
//	error - Non-nil if parsing, validation or compilation fails.
func Load(ctx context.Context, data []byte) (*Registry, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "rules.Load")
	defer span.End()

	if len(data) == 0 {
		return nil, errors.New("rules: empty YAML data")
	}
	if len(data) > MaxRulesFileSize {
		return nil, fmt.Errorf("rules: YAML data exceeds maximum size (%d > %d)", len(data), MaxRulesFileSize)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("rules: parsing YAML: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("rules: validation: %w", err)
	}

	reg, err := Compile(&f)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("tools", reg.Len()),
		attribute.Int("correctors", len(f.Correctors)),
	)
	slog.Debug("rules loaded",
		slog.Int("tools", reg.Len()),
		slog.Int("correctors", len(f.Correctors)),
	)
	return reg, nil
}

// LoadFile reads and loads a rules file from disk.
func LoadFile(ctx context.Context, path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: reading %s: %w", path, err)
	}
	reg, err := Load(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Compile turns an already-validated File into a Registry.
func Compile(f *File) (*Registry, error) {
	repairers := make(map[string]corrector.Repairer, len(f.Correctors))
	for _, name := range sortedKeys(f.Correctors) {
		r, err := compileCorrector(f.Correctors[name])
		if err != nil {
			return nil, fmt.Errorf("rules: corrector %q: %w", name, err)
		}
		repairers[name] = r
	}

	tools := make([]Tool, 0, len(f.Tools))
	for _, ts := range f.Tools {
		t, err := compileTool(ts)
		if err != nil {
			return nil, fmt.Errorf("rules: tool %q: %w", ts.Name, err)
		}
		tools = append(tools, t)
	}

	reg, err := NewRegistry(tools, corrector.New(repairers))
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	return reg, nil
}

func compileTool(ts ToolSpec) (Tool, error) {
	sig := schema.Introspect(ts.ToolSchema)
	tr := emptyRules()
	tr.Strict = ts.Strict

	for _, alias := range sortedKeys(ts.Aliases) {
		target := ts.Aliases[alias]
		if sig.Has(alias) {
			return Tool{}, fmt.Errorf("alias %q shadows a declared parameter", alias)
		}
		if !sig.Admits(target) {
			return Tool{}, fmt.Errorf("alias %q targets undeclared parameter %q", alias, target)
		}
		tr.Aliases[alias] = target
	}

	for _, name := range sortedKeys(ts.Defaults) {
		if !sig.Has(name) {
			return Tool{}, fmt.Errorf("default for undeclared parameter %q", name)
		}
		tr.Defaults[name] = ts.Defaults[name]
	}

	for _, name := range sortedKeys(ts.Validators) {
		if !sig.Has(name) {
			return Tool{}, fmt.Errorf("validator for undeclared parameter %q", name)
		}
		v, err := compileValidator(ts.Validators[name])
		if err != nil {
			return Tool{}, fmt.Errorf("validator %q: %w", name, err)
		}
		tr.Validators[name] = v
	}

	for _, name := range sortedKeys(ts.Transformers) {
		if !sig.Has(name) {
			return Tool{}, fmt.Errorf("transformer for undeclared parameter %q", name)
		}
		t, err := compileTransformers(ts.Transformers[name])
		if err != nil {
			return Tool{}, fmt.Errorf("transformer %q: %w", name, err)
		}
		tr.Transformers[name] = t
	}

	return Tool{Schema: ts.ToolSchema, Rules: tr}, nil
}

func compileCorrector(spec CorrectorSpec) (corrector.Repairer, error) {
	switch spec.Pattern {
	case corrector.PatternCategorical:
		if len(spec.Values) == 0 && len(spec.Synonyms) == 0 {
			return nil, errors.New("categorical has no values or synonyms")
		}
		return corrector.NewCategorical(spec.Values, spec.Synonyms), nil
	case corrector.PatternBoundedNumeric:
		if spec.Min > spec.Max {
			return nil, fmt.Errorf("min %d > max %d", spec.Min, spec.Max)
		}
		if spec.Fallback < spec.Min || spec.Fallback > spec.Max {
			return nil, fmt.Errorf("fallback %d outside [%d,%d]", spec.Fallback, spec.Min, spec.Max)
		}
		return &corrector.BoundedNumeric{Min: spec.Min, Max: spec.Max, Fallback: spec.Fallback}, nil
	case corrector.PatternDelimitedList:
		return &corrector.DelimitedList{
			Delimiter:  spec.Delimiter,
			Separators: spec.Separators,
			MaxLength:  spec.MaxLength,
		}, nil
	case corrector.PatternEscapedText:
		return corrector.EscapedText{}, nil
	default:
		return nil, fmt.Errorf("unknown pattern %q", spec.Pattern)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// Built-in Registry
// =============================================================================

var (
	defaultRegistry    *Registry
	defaultRegistryErr error
	defaultOnce        sync.Once
)

// Default returns the registry compiled from the embedded rules file.
// The result is cached after the first call.
//
// Thread Safety: Safe for concurrent use (uses sync.Once internally).
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultRegistry, defaultRegistryErr = Load(context.Background(), defaultRulesYAML)
	})
	return defaultRegistry, defaultRegistryErr
}

// MustDefault returns the built-in registry, or an empty one if the embedded
// rules fail to load. Logs a warning on failure; normalization still works
// against schemas, just without rules.
func MustDefault() *Registry {
	reg, err := Default()
	if err != nil {
		slog.Warn("built-in rules failed to load, continuing with empty registry",
			slog.String("error", err.Error()),
		)
		empty, _ := NewRegistry(nil, nil)
		return empty
	}
	return reg
}

// DefaultYAML returns a copy of the embedded rules file.
func DefaultYAML() []byte {
	out := make([]byte, len(defaultRulesYAML))
	copy(out, defaultRulesYAML)
	return out
}
