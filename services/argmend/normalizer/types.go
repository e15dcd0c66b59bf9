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
	"fmt"
	"strings"
)

// =============================================================================
// Correction Records
// =============================================================================

// Kind classifies a correction record.
type Kind string

const (
	// KindRename records an alias or mis-cased key resolved to its canonical name.
	KindRename Kind = "rename"

	// KindTransform records a value changed by a transformer or a tool hook.
	KindTransform Kind = "transform"

	// KindDefault records a default filled for an absent parameter.
	KindDefault Kind = "default"

	// KindRepair records a rejected value replaced by the corrector.
	KindRepair Kind = "repair"

	// KindRepairFailed records a rejected value the corrector could not fix.
	KindRepairFailed Kind = "repair-failed"

	// KindDropUnknown records an undeclared key that was removed.
	KindDropUnknown Kind = "drop-unknown"

	// KindDropShadowed records an alias dropped because its canonical
	// parameter was also supplied.
	KindDropShadowed Kind = "drop-shadowed"
)

// CorrectionRecord is one audit entry of a normalization call.
//
// For renames Before and After hold the old and new key names; for every
// other kind they hold values.
type CorrectionRecord struct {
	Kind   Kind   `json:"kind"`
	Param  string `json:"param"`
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
}

// String renders the record for logs.
func (r CorrectionRecord) String() string {
	return fmt.Sprintf("%s %s: %v → %v", r.Kind, r.Param, r.Before, r.After)
}

// Result is the output of one normalization call.
type Result struct {
	// Tool is the tool the arguments belong to.
	Tool string `json:"tool"`

	// Arguments is the normalized mapping.
	Arguments map[string]any `json:"arguments"`

	// Corrections is the ordered audit trail. Never nil.
	Corrections []CorrectionRecord `json:"corrections"`
}

// Count returns how many records of the given kind the result holds.
func (r *Result) Count(kind Kind) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, c := range r.Corrections {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrMissingRequired matches any *MissingRequiredParametersError.
	ErrMissingRequired = errors.New("missing required parameters")

	// ErrValidation matches any *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// MissingRequiredParametersError names every required parameter still absent
// after the full pipeline.
type MissingRequiredParametersError struct {
	Tool    string
	Missing []string
}

func (e *MissingRequiredParametersError) Error() string {
	return fmt.Sprintf("tool %q: missing required parameters: %s", e.Tool, strings.Join(e.Missing, ", "))
}

// Is reports whether target is ErrMissingRequired.
func (e *MissingRequiredParametersError) Is(target error) bool {
	return target == ErrMissingRequired
}

// ValidationError lists parameters of a strict tool whose values were
// rejected and could not be repaired.
type ValidationError struct {
	Tool   string
	Params []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %q: invalid parameters: %s", e.Tool, strings.Join(e.Params, ", "))
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
