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
	"strings"

	"golang.org/x/text/width"
)

// Transformer kinds accepted in rule files.
const (
	TransformTrim          = "trim"
	TransformLower         = "lower"
	TransformNarrow        = "narrow"
	TransformCollapseSpace = "collapse_space"
)

// stringTransformer lifts a string function into a Transformer. Values of
// other types pass through untouched.
func stringTransformer(fn func(string) string) Transformer {
	return func(value any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		return fn(s), nil
	}
}

// Trim removes leading and trailing whitespace.
func Trim() Transformer { return stringTransformer(strings.TrimSpace) }

// Lower lowercases strings.
func Lower() Transformer { return stringTransformer(strings.ToLower) }

// Narrow folds full-width characters to their half-width forms, so that
// "，" becomes "," and "ｗｅｅｋ" becomes "week".
func Narrow() Transformer {
	return stringTransformer(func(s string) string {
		return width.Narrow.String(s)
	})
}

// CollapseSpace replaces runs of whitespace with a single space and trims.
func CollapseSpace() Transformer {
	return stringTransformer(func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	})
}

// Chain applies transformers in order. The first error aborts the chain.
func Chain(ts ...Transformer) Transformer {
	if len(ts) == 1 {
		return ts[0]
	}
	return func(value any) (any, error) {
		out := value
		for i, t := range ts {
			next, err := t(out)
			if err != nil {
				return value, fmt.Errorf("step %d: %w", i, err)
			}
			out = next
		}
		return out, nil
	}
}

// compileTransformers builds the chained transformer for a list of kinds.
func compileTransformers(kinds []string) (Transformer, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("empty transformer list")
	}
	steps := make([]Transformer, 0, len(kinds))
	for _, kind := range kinds {
		switch kind {
		case TransformTrim:
			steps = append(steps, Trim())
		case TransformLower:
			steps = append(steps, Lower())
		case TransformNarrow:
			steps = append(steps, Narrow())
		case TransformCollapseSpace:
			steps = append(steps, CollapseSpace())
		default:
			return nil, fmt.Errorf("unknown transformer %q", kind)
		}
	}
	return Chain(steps...), nil
}
