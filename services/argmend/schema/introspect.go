// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"sort"
)

// Introspect derives the Signature of a tool from its schema descriptor.
//
// Description:
//
//	Parameter order follows the descriptor. Required-ness comes from the
//	descriptor's Required flag; tools declared with AcceptsAny produce an
//	accepts-any Signature.
//
// Inputs:
//
//	ts - The tool schema descriptor.
//
// Outputs:
//
//	Signature - The derived signature.
//
// Thread Safety: Safe for concurrent use.
func Introspect(ts ToolSchema) Signature {
	params := make([]Param, 0, len(ts.Params))
	for _, p := range ts.Params {
		params = append(params, Param{
			Name:     p.Name,
			Type:     p.Type,
			Required: p.Required,
		})
	}
	return NewSignature(ts.Name, params, ts.AcceptsAny)
}

// IntrospectJSONSchema derives a Signature from an OpenAI/MCP style JSON
// schema object ({"type":"object","properties":{...},"required":[...]}).
//
// Description:
//
//	Properties are ordered by name since JSON objects carry no order.
//	"additionalProperties": true marks the signature accepts-any. Malformed
//	sections are ignored rather than rejected.
//
// Inputs:
//
//	tool - The tool name.
//	js - The decoded JSON schema. May be nil.
//
// Outputs:
//
//	Signature - The derived signature.
//
// Thread Safety: Safe for concurrent use.
func IntrospectJSONSchema(tool string, js map[string]any) Signature {
	if js == nil {
		return NewSignature(tool, nil, false)
	}

	required := make(map[string]bool)
	switch req := js["required"].(type) {
	case []string:
		for _, name := range req {
			required[name] = true
		}
	case []any:
		for _, item := range req {
			if name, ok := item.(string); ok {
				required[name] = true
			}
		}
	}

	props, _ := js["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]Param, 0, len(names))
	for _, name := range names {
		var typ ParamType
		if def, ok := props[name].(map[string]any); ok {
			if s, ok := def["type"].(string); ok {
				typ = ParamType(s)
			}
		}
		params = append(params, Param{Name: name, Type: typ, Required: required[name]})
	}

	acceptsAny := false
	if ap, ok := js["additionalProperties"].(bool); ok {
		acceptsAny = ap
	}
	return NewSignature(tool, params, acceptsAny)
}

// ToJSONSchema renders the descriptor as a function-calling parameter schema.
//
// Thread Safety: Safe for concurrent use.
func (ts ToolSchema) ToJSONSchema() map[string]any {
	properties := make(map[string]any, len(ts.Params))
	var required []string
	for _, p := range ts.Params {
		def := map[string]any{"type": string(p.Type)}
		if p.Type == "" {
			def["type"] = string(ParamTypeString)
		}
		if p.Description != "" {
			def["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			def["enum"] = p.Enum
		}
		properties[p.Name] = def
		if p.Required {
			required = append(required, p.Name)
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	if ts.AcceptsAny {
		out["additionalProperties"] = true
	}
	return out
}
