// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command argmend normalizes model-produced tool arguments, either as an
// HTTP service or one call at a time from the command line.
//
// Usage:
//
//	argmend serve [--config argmend.yaml]
//	argmend normalize --tool web_search --args '{"q":"golang","top_k":37}'
//	argmend tools
//	argmend audit --tool web_search --limit 20
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/argmend/services/argmend"
	"github.com/AleutianAI/argmend/services/argmend/rules"
)

const serviceName = "argmend"

// rootOptions holds the persistent flag values shared by every subcommand.
type rootOptions struct {
	configPath  string
	logFormat   string
	logLevel    string
	rulesFile   string
	traceStdout bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "argmend",
		Short:         "Normalize and repair model-produced tool arguments",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Service config YAML file")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json (overrides config)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	pf.StringVar(&opts.rulesFile, "rules", "", "Rules YAML file replacing the built-in rules (overrides config)")
	pf.BoolVar(&opts.traceStdout, "trace-stdout", false, "Export trace spans to stderr")

	root.AddCommand(
		newServeCmd(opts),
		newNormalizeCmd(opts),
		newToolsCmd(opts),
		newAuditCmd(opts),
	)
	return root
}

// env is the resolved runtime of one command invocation.
type env struct {
	cfg      argmend.ServiceConfig
	logger   *slog.Logger
	shutdown func(context.Context) error
}

// setup loads configuration, installs the logger and, when requested,
// the stdout trace exporter.
func (o *rootOptions) setup(cmd *cobra.Command) (*env, error) {
	cfg, err := argmend.LoadServiceConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.rulesFile != "" {
		cfg.RulesFile = o.rulesFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	e := &env{cfg: cfg, logger: logger, shutdown: func(context.Context) error { return nil }}
	if o.traceStdout {
		shutdown, err := setupTracing(cmd.ErrOrStderr())
		if err != nil {
			return nil, err
		}
		e.shutdown = shutdown
	}
	return e, nil
}

// loadRegistry returns the configured rules file or the embedded rules.
func (e *env) loadRegistry(ctx context.Context) (*rules.Registry, error) {
	if e.cfg.RulesFile != "" {
		return rules.LoadFile(ctx, e.cfg.RulesFile)
	}
	return rules.Default()
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// setupTracing installs a tracer provider that writes spans to w.
func setupTracing(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider.Shutdown, nil
}
