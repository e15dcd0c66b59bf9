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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuin/goldmark/text"
)

// =============================================================================
// Markup Split Tests
// =============================================================================

func TestMarkupSplit(t *testing.T) {
	hook := MarkupSplit(FieldContent, FieldRichContent, FieldMsgType)

	tests := []struct {
		name      string
		args      map[string]any
		wantRich  bool
		wantPlain string
	}{
		{
			name:      "markdown list",
			args:      map[string]any{"content": "Todo:\n\n- a\n- b"},
			wantRich:  true,
			wantPlain: "Todo:\na\nb",
		},
		{
			name:      "inline html",
			args:      map[string]any{"content": "<p>Hello <b>there</b></p>"},
			wantRich:  true,
			wantPlain: "Hello there",
		},
		{
			name:      "declared markdown with plain text",
			args:      map[string]any{"content": "just words", "msg_type": "markdown"},
			wantRich:  true,
			wantPlain: "just words",
		},
		{
			name:      "plain paragraphs",
			args:      map[string]any{"content": "line one\nline two\n\nsecond paragraph"},
			wantPlain: "line one\nline two\n\nsecond paragraph",
		},
		{
			name:      "already split",
			args:      map[string]any{"content": "**x**", "rich_content": "<p>x</p>"},
			wantRich:  true,
			wantPlain: "**x**",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := hook(context.Background(), tt.args)
			require.NoError(t, err)
			_, hasRich := out[FieldRichContent]
			assert.Equal(t, tt.wantRich, hasRich)
			assert.Equal(t, tt.wantPlain, out[FieldContent])
		})
	}
}

func TestMarkupSplit_NonStringContent(t *testing.T) {
	hook := MarkupSplit(FieldContent, FieldRichContent, FieldMsgType)
	out, err := hook(context.Background(), map[string]any{"content": 42})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"content": 42}, out)
}

func TestHasMarkup(t *testing.T) {
	md := newMarkdown()
	parse := func(s string) bool {
		return hasMarkup(md.Parser().Parse(text.NewReader([]byte(s))))
	}

	assert.False(t, parse("hello world"))
	assert.False(t, parse("see https://example.com"))
	assert.False(t, parse("a\nb"))
	assert.True(t, parse("# heading"))
	assert.True(t, parse("some *emphasis*"))
	assert.True(t, parse("`code`"))
	assert.True(t, parse("[link](https://example.com)"))
	assert.True(t, parse("| a | b |\n|---|---|\n| 1 | 2 |"))
}

func TestPlainText(t *testing.T) {
	got, err := PlainText("<h2>Title</h2>\n<p>one<br>two</p><script>alert(1)</script>\n<p>  spaced   out  </p>")
	require.NoError(t, err)
	assert.Equal(t, "Title\none\ntwo\nspaced out", got)
}

// =============================================================================
// Attribute Quote Tests
// =============================================================================

func TestNormalizeAttributeQuotes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "single quoted attribute",
			input: `<a href='https://x.io'>x</a>`,
			want:  `<a href="https://x.io">x</a>`,
		},
		{
			name:  "curly quoted attribute",
			input: `<img src=“pic.png” />`,
			want:  `<img src="pic.png"/>`,
		},
		{
			name:  "curly quotes in text untouched",
			input: `<p class="q">“quoted” text</p>`,
			want:  `<p class="q">“quoted” text</p>`,
		},
		{
			name:  "double quotes untouched",
			input: `<a href="https://x.io" title="t">x</a>`,
			want:  `<a href="https://x.io" title="t">x</a>`,
		},
		{
			name:  "no tags",
			input: `plain 'text'`,
			want:  `plain 'text'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeAttributeQuotes(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeAttributeQuotes(got), "normalization is idempotent")
		})
	}
}

func TestAttributeQuotesHook(t *testing.T) {
	hook := AttributeQuotes(FieldRichContent)
	out, err := hook(context.Background(), map[string]any{
		"rich_content": `<a href='u'>x</a>`,
		"content":      `<a href='u'>x</a>`,
	})
	require.NoError(t, err)
	assert.Equal(t, `<a href="u">x</a>`, out["rich_content"])
	assert.Equal(t, `<a href='u'>x</a>`, out["content"], "only the configured field is rewritten")
}

func TestDefaultHooks(t *testing.T) {
	h := DefaultHooks()
	assert.Equal(t, []string{"send_message"}, h.Tools())
	assert.Len(t, h["send_message"], 2)
}

// =============================================================================
// Key Canonicalization Tests
// =============================================================================

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"maxResults":   "max_results",
		"MaxResults":   "max_results",
		"Max-Results":  "max_results",
		"MAX_RESULTS":  "max_results",
		"max results":  "max_results",
		"HTTPMethod":   "http_method",
		"time.range":   "time_range",
		"page2Size":    "page2_size",
		"already_done": "already_done",
		"__x__":        "x",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, snakeCase(in))
		})
	}
}
