// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package corrector holds the value-shape repair heuristics invoked when a
// parameter value fails validation.
//
// Repairers are keyed by parameter name rather than tool identity, so a
// parameter such as "max_results" gets the same repair no matter which
// tool declared it.
package corrector

import (
	"sort"
)

// =============================================================================
// Repairer
// =============================================================================

// Repairer repairs one recognizable value shape.
//
// Implementations must be pure: no hidden state, no side effects beyond
// the returned value.
type Repairer interface {
	// Pattern names the value shape ("categorical", "bounded_numeric", ...).
	Pattern() string

	// Repair returns a replacement value and true, or (nil, false) when the
	// value cannot be repaired.
	Repair(value any) (any, bool)
}

// =============================================================================
// Corrector
// =============================================================================

// Corrector dispatches a rejected value to the repairer registered for its
// parameter name.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Corrector struct {
	repairers map[string]Repairer
}

// New creates a Corrector from a parameter-name → repairer table.
// The table is copied; nil entries are skipped.
func New(repairers map[string]Repairer) *Corrector {
	c := &Corrector{repairers: make(map[string]Repairer, len(repairers))}
	for name, r := range repairers {
		if r != nil {
			c.repairers[name] = r
		}
	}
	return c
}

// Repair attempts to repair value for the named parameter.
//
// Description:
//
//	Looks up the repairer registered for param and delegates to it. A
//	parameter with no repairer is never repaired.
//
// Inputs:
//
//	param - The canonical parameter name.
//	value - The rejected value.
//
// Outputs:
//
//	any - The replacement value. Only meaningful when ok is true.
//	bool - True if a replacement was produced.
//
// Thread Safety: Safe for concurrent use.
func (c *Corrector) Repair(param string, value any) (any, bool) {
	if c == nil {
		return nil, false
	}
	r, ok := c.repairers[param]
	if !ok {
		return nil, false
	}
	return r.Repair(value)
}

// Lookup returns the repairer registered for param.
func (c *Corrector) Lookup(param string) (Repairer, bool) {
	if c == nil {
		return nil, false
	}
	r, ok := c.repairers[param]
	return r, ok
}

// Params lists parameter names with a registered repairer, sorted.
func (c *Corrector) Params() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.repairers))
	for name := range c.repairers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
