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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// Watcher
// =============================================================================

// Watcher reloads a rules file when it changes on disk and hands each
// successfully compiled registry to a callback.
//
// Description:
//
//	The parent directory is watched rather than the file itself so that
//	editors that replace the file by rename are still observed. A file
//	that fails to load is logged and the previous registry stays active.
//
// Thread Safety: Run must be called once. Close is safe to call from any
// goroutine.
type Watcher struct {
	path     string
	onReload func(*Registry)
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher creates a watcher for the rules file at path.
//
// Inputs:
//
//	path - The rules file to watch.
//	onReload - Called with every newly compiled registry. Must not be nil.
//	logger - Logger for reload events. Nil uses slog.Default().
//
// Outputs:
//
//	*Watcher - The watcher. Call Run to start it.
//	error - Non-nil if the filesystem watch cannot be established.
func NewWatcher(path string, onReload func(*Registry), logger *slog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("rules watcher: empty path")
	}
	if onReload == nil {
		return nil, errors.New("rules watcher: onReload must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("rules watcher: resolving %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("rules watcher: watching %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		onReload: onReload,
		logger:   logger.With(slog.String("component", "rules_watcher"), slog.String("path", abs)),
		fsw:      fsw,
	}, nil
}

// Run processes filesystem events until ctx is cancelled or the watcher is
// closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.Reload(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rules watcher error", slog.String("error", err.Error()))
		}
	}
}

// Reload loads the file once and invokes the callback on success.
// Reports whether a new registry was installed.
func (w *Watcher) Reload(ctx context.Context) bool {
	reg, err := LoadFile(ctx, w.path)
	if err != nil {
		w.logger.Error("rules reload failed, keeping previous rules",
			slog.String("error", err.Error()),
		)
		return false
	}
	w.onReload(reg)
	w.logger.Info("rules reloaded", slog.Int("tools", reg.Len()))
	return true
}

// Close stops the underlying filesystem watch.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
