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
	"strings"
	"unicode"

	"github.com/AleutianAI/argmend/services/argmend/schema"
)

// snakeCase converts camelCase, PascalCase, kebab-case and dotted keys to
// lower snake_case. "maxResults", "Max-Results" and "MAX_RESULTS" all become
// "max_results"; "HTTPMethod" becomes "http_method".
func snakeCase(s string) string {
	runes := []rune(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s) + 4)

	lastUnderscore := false
	for i, r := range runes {
		switch {
		case r == '-' || r == ' ' || r == '.' || r == '_':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		case unicode.IsUpper(r):
			if i > 0 && !lastUnderscore {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
		lastUnderscore = false
	}
	return strings.TrimSuffix(b.String(), "_")
}

// canonicalKey resolves a key that matches neither an alias nor a declared
// name exactly by comparing snake-cased forms.
func canonicalKey(key string, sig schema.Signature, aliases map[string]string) (string, bool) {
	snake := snakeCase(key)
	if snake == "" || snake == key {
		return "", false
	}
	if sig.Has(snake) {
		return snake, true
	}
	if target, ok := aliases[snake]; ok {
		return target, true
	}
	return "", false
}
