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
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/go-openapi/strfmt"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/argmend/services/argmend/corrector"
)

// Validator kinds accepted in rule files.
const (
	ValidatorRange       = "range"
	ValidatorEnum        = "enum"
	ValidatorDelimited   = "delimited"
	ValidatorEscapedText = "escaped_text"
	ValidatorNonEmpty    = "non_empty"
	ValidatorFormat      = "format"
	ValidatorTag         = "tag"
)

// validate is shared: validator.Validate caches struct metadata and is safe
// for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// =============================================================================
// Validator Constructors
// =============================================================================

// Range accepts integral numbers within [min, max]. Strings and fractional
// numbers are rejected so the corrector can coerce them.
func Range(minVal, maxVal int) Validator {
	return func(value any) bool {
		n, ok := integral(value)
		return ok && n >= int64(minVal) && n <= int64(maxVal)
	}
}

func integral(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float32:
		return floatIntegral(float64(v))
	case float64:
		return floatIntegral(v)
	default:
		return 0, false
	}
}

func floatIntegral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// Enum accepts strings that exactly match one of values.
func Enum(values []string) Validator {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return func(value any) bool {
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, ok = set[s]
		return ok
	}
}

// Delimited accepts strings that either already use the canonical delimiter
// or use none of the recognized separators, and fit in maxLength runes.
func Delimited(delimiter string, separators []string, maxLength int) Validator {
	d := &corrector.DelimitedList{Delimiter: delimiter, Separators: separators, MaxLength: maxLength}
	return func(value any) bool {
		s, ok := value.(string)
		if !ok {
			return false
		}
		if maxLength > 0 && utf8.RuneCountInString(s) > maxLength {
			return false
		}
		return !d.NeedsRejoin(s)
	}
}

// EscapedText rejects escape-encoded strings: literal single escape
// sequences with no real control character or bare quote alongside them.
// Text holding either is treated as already decoded, which is also the
// shape every escape repair produces. Non-strings pass.
func EscapedText() Validator {
	return func(value any) bool {
		s, ok := value.(string)
		if !ok {
			return true
		}
		return !corrector.IsEscapeEncoded(s)
	}
}

// NonEmpty rejects nil and blank strings.
func NonEmpty() Validator {
	return func(value any) bool {
		if value == nil {
			return false
		}
		if s, ok := value.(string); ok {
			return strings.TrimSpace(s) != ""
		}
		return true
	}
}

// Format accepts strings valid for a named go-openapi format ("date",
// "email", "uri", "uuid", ...).
func Format(name string) (Validator, error) {
	if !strfmt.Default.ContainsName(name) {
		return nil, fmt.Errorf("unknown format %q", name)
	}
	return func(value any) bool {
		s, ok := value.(string)
		if !ok {
			return false
		}
		return strfmt.Default.Validates(name, s)
	}, nil
}

// Tag accepts values that pass a go-playground/validator tag expression
// such as "url" or "email,max=120".
//
// Description:
//
//	The tag is exercised once at construction so that an undefined
//	validation function fails rule loading instead of panicking per call.
func Tag(tag string) (v Validator, err error) {
	if strings.TrimSpace(tag) == "" {
		return nil, fmt.Errorf("empty validation tag")
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("invalid validation tag %q: %v", tag, r)
		}
	}()
	_ = validate.Var("", tag)

	return func(value any) (ok bool) {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		if value == nil {
			return false
		}
		return validate.Var(value, tag) == nil
	}, nil
}

// =============================================================================
// Compilation
// =============================================================================

// compileValidator turns a declarative spec into a Validator.
func compileValidator(spec ValidatorSpec) (Validator, error) {
	switch spec.Kind {
	case ValidatorRange:
		if spec.Min > spec.Max {
			return nil, fmt.Errorf("range min %d > max %d", spec.Min, spec.Max)
		}
		return Range(spec.Min, spec.Max), nil
	case ValidatorEnum:
		if len(spec.Values) == 0 {
			return nil, fmt.Errorf("enum has no values")
		}
		return Enum(spec.Values), nil
	case ValidatorDelimited:
		if spec.Delimiter == "" {
			return nil, fmt.Errorf("delimited has no delimiter")
		}
		return Delimited(spec.Delimiter, spec.Separators, spec.MaxLength), nil
	case ValidatorEscapedText:
		return EscapedText(), nil
	case ValidatorNonEmpty:
		return NonEmpty(), nil
	case ValidatorFormat:
		return Format(spec.Format)
	case ValidatorTag:
		return Tag(spec.Tag)
	default:
		return nil, fmt.Errorf("unknown validator kind %q", spec.Kind)
	}
}
