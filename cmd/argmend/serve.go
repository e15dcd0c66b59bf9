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
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/argmend/services/argmend"
	"github.com/AleutianAI/argmend/services/argmend/audit"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the normalization HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			if listen != "" {
				e.cfg.ListenAddr = listen
			}
			return runServe(cmd.Context(), e)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")
	return cmd
}

func runServe(parent context.Context, e *env) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := e.cfg
	logger := e.logger

	reg, err := e.loadRegistry(ctx)
	if err != nil {
		return err
	}

	// Audit store is optional: without a directory, events only reach the log.
	sinks := argmend.MultiSink{argmend.LogSink{Logger: logger}}
	var (
		store *audit.Store
		async *argmend.AsyncSink
	)
	if cfg.AuditDir != "" {
		store, err = audit.Open(audit.Config{Dir: cfg.AuditDir}, logger)
		if err != nil {
			return err
		}
		async, err = argmend.NewAsyncSink(store, cfg.AuditBuffer, logger)
		if err != nil {
			_ = store.Close()
			return err
		}
		sinks = append(sinks, async)
		logger.Info("audit store opened", slog.String("path", cfg.AuditDir))
	}

	engine := argmend.NewEngine(reg,
		argmend.WithLogger(logger),
		argmend.WithSink(sinks),
		argmend.WithBatchConcurrency(cfg.BatchConcurrency),
	)

	if cfg.WatchRules && cfg.RulesFile != "" {
		go func() {
			if err := engine.WatchRules(ctx, cfg.RulesFile); err != nil {
				logger.Error("rules watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := argmend.NewRouter(argmend.NewHandlers(engine, cfg), serviceName)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting argmend server",
			slog.String("address", cfg.ListenAddr),
			slog.Int("tools", reg.Len()),
		)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		logger.Info("Shutting down argmend server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", slog.String("error", err.Error()))
	}
	if async != nil {
		if err := async.Close(shutdownCtx); err != nil {
			logger.Warn("audit queue not drained", slog.String("error", err.Error()))
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close audit store", slog.String("error", err.Error()))
		}
	}
	if err := e.shutdown(shutdownCtx); err != nil {
		logger.Warn("trace exporter shutdown failed", slog.String("error", err.Error()))
	}
	return serveErr
}
