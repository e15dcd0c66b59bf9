// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/argmend/services/argmend"
	"github.com/AleutianAI/argmend/services/argmend/audit"
	"github.com/AleutianAI/argmend/services/argmend/normalizer"
)

// =============================================================================
// normalize
// =============================================================================

// normalizeOutput is what `argmend normalize` prints.
type normalizeOutput struct {
	Tool        string                        `json:"tool"`
	Arguments   map[string]any                `json:"arguments,omitempty"`
	Corrections []normalizer.CorrectionRecord `json:"corrections"`
	Error       string                        `json:"error,omitempty"`
}

func newNormalizeCmd(opts *rootOptions) *cobra.Command {
	var tool, args string

	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Normalize one tool call and print the result as JSON",
		Example: `  argmend normalize --tool web_search --args '{"q":"golang","top_k":37}'
  echo '{"keyword":"北京 天安门"}' | argmend normalize --tool poi_search --args -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer e.shutdown(context.Background())

			data := args
			if data == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading arguments from stdin: %w", err)
				}
				data = string(b)
			}

			reg, err := e.loadRegistry(cmdContext(cmd))
			if err != nil {
				return err
			}
			engine := argmend.NewEngine(reg, argmend.WithLogger(e.logger))

			res, callErr := engine.NormalizeJSON(cmdContext(cmd), tool, json.RawMessage(data))
			out := normalizeOutput{Tool: tool, Corrections: []normalizer.CorrectionRecord{}}
			if res != nil {
				out.Arguments = res.Arguments
				out.Corrections = res.Corrections
			}
			if callErr != nil {
				out.Error = callErr.Error()
			}
			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			return callErr
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "Tool name (required)")
	cmd.Flags().StringVar(&args, "args", "{}", `Raw arguments as JSON, or "-" to read stdin`)
	_ = cmd.MarkFlagRequired("tool")
	return cmd
}

// =============================================================================
// tools
// =============================================================================

func newToolsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List registered tools and their parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			reg, err := e.loadRegistry(cmdContext(cmd))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				out := make([]map[string]any, 0, reg.Len())
				for _, ts := range reg.Tools() {
					out = append(out, map[string]any{
						"name":        ts.Name,
						"description": ts.Description,
						"parameters":  ts.ToJSONSchema(),
					})
				}
				return writeJSON(w, out)
			}

			for _, ts := range reg.Tools() {
				params := make([]string, 0, len(ts.Params))
				for _, p := range ts.Params {
					name := p.Name
					if p.Required {
						name += "*"
					}
					params = append(params, name)
				}
				if ts.AcceptsAny {
					params = append(params, "...")
				}
				if _, err := fmt.Fprintf(w, "%s(%s)\n", ts.Name, strings.Join(params, ", ")); err != nil {
					return err
				}
				if tr := reg.Lookup(ts.Name); tr.Strict {
					fmt.Fprintln(w, "  strict")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print function-calling JSON schemas")
	return cmd
}

// =============================================================================
// audit
// =============================================================================

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var (
		dir, tool, id string
		limit         int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show stored normalization events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = e.cfg.AuditDir
			}
			if dir == "" {
				return errors.New("audit directory not set: use --dir or audit_dir in the config")
			}

			store, err := audit.Open(audit.Config{Dir: dir}, e.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmdContext(cmd)
			if id != "" {
				ev, err := store.Get(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), ev)
			}

			events, err := store.List(ctx, tool, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Audit BadgerDB directory (overrides config)")
	cmd.Flags().StringVar(&tool, "tool", "", "Only show events of this tool")
	cmd.Flags().StringVar(&id, "id", "", "Show a single event by ID")
	cmd.Flags().IntVar(&limit, "limit", audit.DefaultListLimit, "Maximum events to show")
	return cmd
}

// =============================================================================
// Helpers
// =============================================================================

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
