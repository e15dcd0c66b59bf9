// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema describes tool parameter interfaces and derives the
// Signature the normalizer works against.
package schema

import (
	"sort"
)

// =============================================================================
// Parameter Types
// =============================================================================

// ParamType is the JSON Schema type of a tool parameter.
type ParamType string

const (
	ParamTypeString ParamType = "string"
	ParamTypeInt    ParamType = "integer"
	ParamTypeNumber ParamType = "number"
	ParamTypeBool   ParamType = "boolean"
	ParamTypeArray  ParamType = "array"
	ParamTypeObject ParamType = "object"
)

// ParamDef declares a single tool parameter.
//
// Thread Safety: ParamDef is immutable after registration.
type ParamDef struct {
	// Name is the canonical parameter name the tool declares.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Type is the JSON Schema type (string, integer, boolean, number).
	Type ParamType `yaml:"type" json:"type" validate:"omitempty,oneof=string integer number boolean array object"`

	// Description explains what the parameter is for.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Required marks parameters that must resolve to a value.
	Required bool `yaml:"required,omitempty" json:"required,omitempty"`

	// Enum restricts values to a set of options. Informational only; the
	// rule registry owns enforcement.
	Enum []any `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// ToolSchema is the explicit descriptor attached to a tool at registration.
//
// Description:
//
//	Replaces runtime introspection of a callable: the parameter list, their
//	required flags and declared types are data, not reflection.
//
// Thread Safety: ToolSchema is immutable after registration.
type ToolSchema struct {
	// Name is the tool name the model calls.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Description explains what the tool does.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Params is the ordered parameter list.
	Params []ParamDef `yaml:"params" json:"params" validate:"dive"`

	// AcceptsAny marks tools that take arbitrary named parameters.
	AcceptsAny bool `yaml:"accepts_any,omitempty" json:"accepts_any,omitempty"`
}

// =============================================================================
// Signature
// =============================================================================

// Param is one entry of a Signature.
type Param struct {
	Name     string
	Type     ParamType
	Required bool
}

// Signature is the ordered set of canonical parameters a tool declares.
//
// Thread Safety: Signature is immutable once built; safe for concurrent reads.
type Signature struct {
	// Tool is the tool the signature belongs to.
	Tool string

	// Params preserves declaration order.
	Params []Param

	// AcceptsAny passes unmatched parameter names through instead of dropping them.
	AcceptsAny bool

	index map[string]int
}

// NewSignature builds a Signature from an ordered parameter list.
// Duplicate names keep their first declaration.
func NewSignature(tool string, params []Param, acceptsAny bool) Signature {
	sig := Signature{
		Tool:       tool,
		Params:     make([]Param, 0, len(params)),
		AcceptsAny: acceptsAny,
		index:      make(map[string]int, len(params)),
	}
	for _, p := range params {
		if p.Name == "" {
			continue
		}
		if _, dup := sig.index[p.Name]; dup {
			continue
		}
		sig.index[p.Name] = len(sig.Params)
		sig.Params = append(sig.Params, p)
	}
	return sig
}

// Has reports whether name is a declared canonical parameter.
func (s Signature) Has(name string) bool {
	if s.index == nil {
		for _, p := range s.Params {
			if p.Name == name {
				return true
			}
		}
		return false
	}
	_, ok := s.index[name]
	return ok
}

// Get returns the declared parameter with the given name.
func (s Signature) Get(name string) (Param, bool) {
	if s.index != nil {
		if i, ok := s.index[name]; ok {
			return s.Params[i], true
		}
		return Param{}, false
	}
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// IsRequired reports whether name is declared and required.
func (s Signature) IsRequired(name string) bool {
	p, ok := s.Get(name)
	return ok && p.Required
}

// Names returns the declared names in declaration order.
func (s Signature) Names() []string {
	names := make([]string, len(s.Params))
	for i, p := range s.Params {
		names[i] = p.Name
	}
	return names
}

// Required returns the required names in declaration order.
func (s Signature) Required() []string {
	var out []string
	for _, p := range s.Params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// Admits reports whether a key may appear in normalized output.
func (s Signature) Admits(name string) bool {
	return s.AcceptsAny || s.Has(name)
}

// OrderedKeys returns the keys of args with declared names first, in
// declaration order, followed by any remaining keys sorted.
//
// Thread Safety: Safe for concurrent use.
func (s Signature) OrderedKeys(args map[string]any) []string {
	keys := make([]string, 0, len(args))
	seen := make(map[string]bool, len(args))
	for _, p := range s.Params {
		if _, ok := args[p.Name]; ok {
			keys = append(keys, p.Name)
			seen[p.Name] = true
		}
	}
	var rest []string
	for k := range args {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
