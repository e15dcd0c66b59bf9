// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules holds the per-tool alias, default, validator and transformer
// tables the normalizer runs against.
//
// Tables are compiled once from declarative YAML into Go function tables and
// never mutated afterwards. Registering a new tool is a matter of adding an
// entry to the rules file.
package rules

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/argmend/services/argmend/corrector"
	"github.com/AleutianAI/argmend/services/argmend/schema"
)

// =============================================================================
// Function Tables
// =============================================================================

// Validator reports whether a value is acceptable for a parameter.
type Validator func(value any) bool

// Transformer rewrites a present parameter value.
//
// A non-nil error means the transformer could not handle the value; the
// normalizer then keeps the original value.
type Transformer func(value any) (any, error)

// ToolRules are the rule tables registered for one tool.
//
// Thread Safety: Read-only after registration. Callers must not mutate the
// returned maps.
type ToolRules struct {
	// Aliases maps alias name → canonical name.
	Aliases map[string]string

	// Defaults maps canonical name → default value.
	Defaults map[string]any

	// Validators maps canonical name → predicate.
	Validators map[string]Validator

	// Transformers maps canonical name → value transformer.
	Transformers map[string]Transformer

	// Strict escalates unrepaired validation failures to errors.
	Strict bool
}

func emptyRules() ToolRules {
	return ToolRules{
		Aliases:      map[string]string{},
		Defaults:     map[string]any{},
		Validators:   map[string]Validator{},
		Transformers: map[string]Transformer{},
	}
}

// Tool pairs a schema descriptor with its rule tables.
type Tool struct {
	Schema schema.ToolSchema
	Rules  ToolRules
}

// =============================================================================
// Registry
// =============================================================================

// Registry is the immutable set of registered tools and the shared
// corrector.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Registry struct {
	tools      map[string]Tool
	signatures map[string]schema.Signature
	names      []string
	corrector  *corrector.Corrector
}

// NewRegistry builds a registry from compiled tools.
//
// Description:
//
//	Copies every table so later changes to the inputs are not observed.
//	Nil tables are replaced by empty ones.
//
// Inputs:
//
//	tools - The tools to register. Names must be unique and non-empty.
//	c - The shared corrector. May be nil (nothing is ever repaired).
//
// Outputs:
//
//	*Registry - The registry.
//	error - Non-nil on an empty or duplicate tool name.
func NewRegistry(tools []Tool, c *corrector.Corrector) (*Registry, error) {
	r := &Registry{
		tools:      make(map[string]Tool, len(tools)),
		signatures: make(map[string]schema.Signature, len(tools)),
		names:      make([]string, 0, len(tools)),
		corrector:  c,
	}
	if r.corrector == nil {
		r.corrector = corrector.New(nil)
	}

	for _, t := range tools {
		name := t.Schema.Name
		if name == "" {
			return nil, fmt.Errorf("registering tool: empty name")
		}
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("registering tool %q: duplicate name", name)
		}
		r.tools[name] = Tool{Schema: t.Schema, Rules: copyRules(t.Rules)}
		r.signatures[name] = schema.Introspect(t.Schema)
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

func copyRules(in ToolRules) ToolRules {
	out := emptyRules()
	for k, v := range in.Aliases {
		out.Aliases[k] = v
	}
	for k, v := range in.Defaults {
		out.Defaults[k] = v
	}
	for k, v := range in.Validators {
		if v != nil {
			out.Validators[k] = v
		}
	}
	for k, v := range in.Transformers {
		if v != nil {
			out.Transformers[k] = v
		}
	}
	out.Strict = in.Strict
	return out
}

// Lookup returns the rule tables for a tool. Unregistered tools get empty,
// non-nil tables.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Lookup(tool string) ToolRules {
	if r == nil {
		return emptyRules()
	}
	t, ok := r.tools[tool]
	if !ok {
		return emptyRules()
	}
	return t.Rules
}

// Schema returns the descriptor attached to a registered tool.
func (r *Registry) Schema(tool string) (schema.ToolSchema, bool) {
	if r == nil {
		return schema.ToolSchema{}, false
	}
	t, ok := r.tools[tool]
	return t.Schema, ok
}

// Signature returns the introspected signature of a registered tool.
func (r *Registry) Signature(tool string) (schema.Signature, bool) {
	if r == nil {
		return schema.Signature{}, false
	}
	sig, ok := r.signatures[tool]
	return sig, ok
}

// Tools lists the registered schemas sorted by tool name.
func (r *Registry) Tools() []schema.ToolSchema {
	if r == nil {
		return nil
	}
	out := make([]schema.ToolSchema, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.tools[name].Schema)
	}
	return out
}

// Corrector returns the corrector shared by all tools.
func (r *Registry) Corrector() *corrector.Corrector {
	if r == nil {
		return nil
	}
	return r.corrector
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.names)
}
