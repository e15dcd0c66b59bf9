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
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
)

// =============================================================================
// Hook Types
// =============================================================================

// Hook post-processes the normalized arguments of one tool.
//
// A hook receives its own copy of the arguments and returns the mapping to
// continue with. Keys it adds that the signature does not declare are
// dropped by the normalizer. An error leaves the arguments as they were.
type Hook func(ctx context.Context, args map[string]any) (map[string]any, error)

// Hooks maps tool name → hooks, run in slice order.
type Hooks map[string][]Hook

// Tools lists the tools that have hooks, in no particular order.
func (h Hooks) Tools() []string {
	out := make([]string, 0, len(h))
	for tool := range h {
		out = append(out, tool)
	}
	return out
}

// Field names used by the built-in message hooks.
const (
	FieldContent     = "content"
	FieldRichContent = "rich_content"
	FieldMsgType     = "msg_type"

	MsgTypeMarkdown = "markdown"
	MsgTypeRich     = "rich"
)

// DefaultHooks returns the hooks for the built-in tool catalog.
func DefaultHooks() Hooks {
	return Hooks{
		"send_message": {
			MarkupSplit(FieldContent, FieldRichContent, FieldMsgType),
			AttributeQuotes(FieldRichContent),
		},
	}
}

// =============================================================================
// Markup Split
// =============================================================================

// newMarkdown builds the goldmark instance used for message rendering.
// Raw HTML passes through so HTML content survives rendering; autolinking
// stays off so a bare URL is not mistaken for markup.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.Table,
			extension.Strikethrough,
			extension.TaskList,
		),
		goldmark.WithRendererOptions(
			gmhtml.WithUnsafe(),
		),
	)
}

// MarkupSplit detects markdown or HTML in a content field and splits it into
// an HTML rich field plus a plain-text fallback.
//
// Description:
//
//	Content is parsed as markdown. If the document holds anything beyond
//	plain paragraphs (headings, lists, emphasis, code, links, raw HTML), or
//	the type field already says "markdown", the rendered HTML is stored in
//	richField, the plain text extracted from it replaces contentField, and
//	typeField becomes "rich". Arguments that already carry richField are
//	left alone, which keeps the hook idempotent.
//
// Thread Safety: The returned hook is safe for concurrent use.
func MarkupSplit(contentField, richField, typeField string) Hook {
	md := newMarkdown()

	return func(_ context.Context, args map[string]any) (map[string]any, error) {
		if rich, ok := args[richField].(string); ok && strings.TrimSpace(rich) != "" {
			return args, nil
		}
		content, ok := args[contentField].(string)
		if !ok || strings.TrimSpace(content) == "" {
			return args, nil
		}
		msgType, _ := args[typeField].(string)

		src := []byte(content)
		doc := md.Parser().Parse(text.NewReader(src))
		if msgType != MsgTypeMarkdown && !hasMarkup(doc) {
			return args, nil
		}

		var buf bytes.Buffer
		if err := md.Renderer().Render(&buf, src, doc); err != nil {
			return nil, fmt.Errorf("rendering markdown: %w", err)
		}
		rendered := buf.String()

		plain, err := PlainText(rendered)
		if err != nil {
			return nil, err
		}

		args[richField] = rendered
		if plain != "" {
			args[contentField] = plain
		}
		args[typeField] = MsgTypeRich
		return args, nil
	}
}

// hasMarkup reports whether a parsed document holds anything beyond plain
// paragraphs of text.
func hasMarkup(doc ast.Node) bool {
	found := false
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindDocument, ast.KindParagraph, ast.KindText, ast.KindString, ast.KindTextBlock:
			return ast.WalkContinue, nil
		}
		found = true
		return ast.WalkStop, nil
	})
	return found
}

// PlainText extracts readable text from an HTML fragment: one line per
// block, whitespace collapsed, script and style content removed.
func PlainText(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}
	doc.Find("script,style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")

	lines := strings.Split(doc.Find("body").Text(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), nil
}

// =============================================================================
// Attribute Quotes
// =============================================================================

const curlyQuotes = "“”‘’"

// AttributeQuotes rewrites attribute values inside HTML tags of field so
// that every value is wrapped in straight double quotes. Curly quotes used
// as delimiters are stripped and single-quoted values are re-quoted. Text
// outside tags is copied byte for byte.
//
// Thread Safety: The returned hook is safe for concurrent use.
func AttributeQuotes(field string) Hook {
	return func(_ context.Context, args map[string]any) (map[string]any, error) {
		s, ok := args[field].(string)
		if !ok || !strings.Contains(s, "<") {
			return args, nil
		}
		args[field] = NormalizeAttributeQuotes(s)
		return args, nil
	}
}

// NormalizeAttributeQuotes re-serializes start tags whose source uses
// single or curly quotes.
func NormalizeAttributeQuotes(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	b.Grow(len(s))

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		// Token() lowercases attribute keys in the tokenizer's buffer, so the
		// raw bytes are copied first.
		raw := string(z.Raw())
		if (tt == html.StartTagToken || tt == html.SelfClosingTagToken) && needsRequote(raw) {
			tok := z.Token()
			for i := range tok.Attr {
				tok.Attr[i].Val = strings.Trim(tok.Attr[i].Val, curlyQuotes)
			}
			b.WriteString(tok.String())
			continue
		}
		b.WriteString(raw)
	}
	return b.String()
}

func needsRequote(tag string) bool {
	return strings.ContainsAny(tag, "'"+curlyQuotes)
}
