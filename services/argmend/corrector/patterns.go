// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corrector

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Pattern names.
const (
	PatternCategorical    = "categorical"
	PatternBoundedNumeric = "bounded_numeric"
	PatternDelimitedList  = "delimited_list"
	PatternEscapedText    = "escaped_text"
)

// fold case-folds s. A cases.Caser keeps state between calls, so a fresh
// one is built each time.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// =============================================================================
// Categorical
// =============================================================================

// Categorical maps loosely phrased enumerated values onto canonical ones
// ("today" → "day"). Lookup is case-insensitive.
type Categorical struct {
	synonyms map[string]string
}

// NewCategorical creates a categorical repairer. Every canonical value is
// also registered as its own synonym so that case-only differences repair.
func NewCategorical(canonical []string, synonyms map[string]string) *Categorical {
	c := &Categorical{synonyms: make(map[string]string, len(canonical)+len(synonyms))}
	for _, v := range canonical {
		c.synonyms[fold(v)] = v
	}
	for from, to := range synonyms {
		c.synonyms[fold(from)] = to
	}
	return c
}

// Pattern implements Repairer.
func (c *Categorical) Pattern() string { return PatternCategorical }

// Repair implements Repairer. Non-string and unmatched input yields no repair.
func (c *Categorical) Repair(value any) (any, bool) {
	s, ok := value.(string)
	if !ok {
		return nil, false
	}
	to, ok := c.synonyms[fold(s)]
	if !ok {
		return nil, false
	}
	return to, true
}

// =============================================================================
// Bounded Numeric
// =============================================================================

// BoundedNumeric coerces a value into an integer within [Min, Max].
// It always produces a value: non-coercible input yields Fallback.
type BoundedNumeric struct {
	Min      int
	Max      int
	Fallback int
}

// Pattern implements Repairer.
func (b *BoundedNumeric) Pattern() string { return PatternBoundedNumeric }

// Repair implements Repairer.
func (b *BoundedNumeric) Repair(value any) (any, bool) {
	n, ok := ToInt(value)
	if !ok {
		return b.Fallback, true
	}
	return clampInt(n, b.Min, b.Max), true
}

// ToInt coerces ints, integral or fractional floats (truncated) and numeric
// strings into an int.
//
// Thread Safety: Safe for concurrent use.
func ToInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatToInt(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f > math.MaxInt32 {
		return math.MaxInt32, true
	}
	if f < math.MinInt32 {
		return math.MinInt32, true
	}
	return int(f), true
}

// clampInt clamps a value between min and max bounds.
func clampInt(value, minVal, maxVal int) int {
	if value < minVal {
		return minVal
	}
	if value > maxVal {
		return maxVal
	}
	return value
}

// =============================================================================
// Delimited List
// =============================================================================

// DelimitedList rejoins a list that uses inconsistent separators with the
// canonical Delimiter and truncates it to MaxLength runes.
type DelimitedList struct {
	Delimiter  string
	Separators []string
	MaxLength  int
}

// Pattern implements Repairer.
func (d *DelimitedList) Pattern() string { return PatternDelimitedList }

// Repair implements Repairer.
//
// Description:
//
//	When the canonical delimiter is already present the separator layout is
//	left as-is. Otherwise every recognized separator, in list order, is
//	replaced by the delimiter; segments are trimmed and empty ones dropped
//	before rejoining. The result is truncated to MaxLength runes and never
//	ends on a delimiter. Returns no repair when nothing changed.
func (d *DelimitedList) Repair(value any) (any, bool) {
	s, ok := value.(string)
	if !ok || d.Delimiter == "" {
		return nil, false
	}

	out := s
	if !strings.Contains(s, d.Delimiter) {
		out = d.rejoin(s)
	}
	out = d.truncate(out)

	if out == s {
		return nil, false
	}
	return out, true
}

func (d *DelimitedList) rejoin(s string) string {
	replaced := s
	for _, sep := range d.Separators {
		if sep == "" {
			continue
		}
		if strings.Contains(replaced, sep) {
			replaced = strings.ReplaceAll(replaced, sep, d.Delimiter)
		}
	}
	parts := strings.Split(replaced, d.Delimiter)
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, d.Delimiter)
}

func (d *DelimitedList) truncate(s string) string {
	if d.MaxLength <= 0 || utf8.RuneCountInString(s) <= d.MaxLength {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimSpace(string(runes[:d.MaxLength]))
	for strings.HasSuffix(cut, d.Delimiter) {
		cut = strings.TrimSpace(strings.TrimSuffix(cut, d.Delimiter))
	}
	return cut
}

// NeedsRejoin reports whether s uses a recognized separator without the
// canonical delimiter.
func (d *DelimitedList) NeedsRejoin(s string) bool {
	if strings.Contains(s, d.Delimiter) {
		return false
	}
	for _, sep := range d.Separators {
		if sep != "" && strings.Contains(strings.TrimSpace(s), sep) {
			return true
		}
	}
	return false
}

// =============================================================================
// Escaped Text
// =============================================================================

// EscapedText converts literal backslash escapes into control characters.
type EscapedText struct{}

// Pattern implements Repairer.
func (EscapedText) Pattern() string { return PatternEscapedText }

// Repair implements Repairer. Returns no repair unless the text is
// escape-encoded, see IsEscapeEncoded.
func (EscapedText) Repair(value any) (any, bool) {
	s, ok := value.(string)
	if !ok || !IsEscapeEncoded(s) {
		return nil, false
	}
	out, changed := Unescape(s)
	if !changed {
		return nil, false
	}
	return out, true
}

var escapes = map[byte]byte{
	'n':  '\n',
	'r':  '\r',
	't':  '\t',
	'"':  '"',
	'\'': '\'',
}

// Unescape replaces literal \n, \r, \t, \" and \' sequences with the
// characters they denote in a single left-to-right scan.
//
// Description:
//
//	A literal double backslash is consumed as one escaped span and emitted
//	as a single backslash, so the character after it is never treated as
//	an escape. `\\n` therefore becomes the two characters `\n`, while `\n`
//	becomes a newline. Other backslashes are copied through unchanged.
//
// Outputs:
//
//	string - The unescaped text.
//	bool - True if at least one single escape sequence was replaced.
//
// Thread Safety: Safe for concurrent use.
func Unescape(s string) (string, bool) {
	if !strings.Contains(s, `\`) {
		return s, false
	}

	var sb strings.Builder
	sb.Grow(len(s))
	replaced := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			sb.WriteByte(c)
			continue
		}
		next := s[i+1]
		if next == '\\' {
			sb.WriteByte('\\')
			i++
			continue
		}
		if r, ok := escapes[next]; ok {
			sb.WriteByte(r)
			replaced = true
			i++
			continue
		}
		sb.WriteByte(c)
	}

	if !replaced {
		return s, false
	}
	return sb.String(), true
}

// HasSingleEscape reports whether s contains a literal single escape
// sequence that Unescape would replace.
func HasSingleEscape(s string) bool {
	_, changed := Unescape(s)
	return changed
}

// HasDecodedText reports whether s holds a real newline, carriage return or
// tab, or a quote character outside a backslash span. An encoder that wrote
// literal escapes would have escaped these too.
//
// Every single escape Unescape replaces produces one of these characters,
// so the output of a repair always reports true. `\\n` restored to `\n`
// is then kept as a literal on later passes.
func HasDecodedText(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) && s[i+1] != '\n' && s[i+1] != '\r' && s[i+1] != '\t' {
				i++
			}
		case '\n', '\r', '\t', '"', '\'':
			return true
		}
	}
	return false
}

// IsEscapeEncoded reports whether s carries a literal single escape and no
// decoded text, the shape EscapedText repairs.
func IsEscapeEncoded(s string) bool {
	return HasSingleEscape(s) && !HasDecodedText(s)
}
