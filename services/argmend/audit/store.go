// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit persists normalization events in BadgerDB so corrections
// can be inspected after the fact.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/argmend/services/argmend"
)

// BadgerDB key prefixes for audit events.
const (
	keyPrefixEvent = "audit:ev:"
	keyPrefixID    = "audit:id:"
)

// DefaultListLimit is used when List is called with limit <= 0.
const DefaultListLimit = 100

// ErrNotFound is returned by Get for an unknown event ID.
var ErrNotFound = errors.New("audit event not found")

// Config configures Open.
type Config struct {
	// Dir is the BadgerDB directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the store in memory only.
	InMemory bool

	// Retention expires events after this duration. Zero keeps them forever.
	Retention time.Duration
}

// Store is a BadgerDB-backed audit sink.
//
// Description:
//
//	Events are stored as JSON under a key that sorts by tool, then by
//	time, so per-tool listings are a single prefix scan. A secondary key
//	maps the event ID to its primary key for Get.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type Store struct {
	db        *badger.DB
	retention time.Duration
	logger    *slog.Logger
	owned     bool
}

// NewStore wraps an opened BadgerDB instance. The caller keeps ownership
// of db; Close on the store does not close it.
//
// Inputs:
//
//	db - An opened BadgerDB instance. Must not be nil.
//	retention - Event TTL. Zero keeps events forever.
//	logger - Logger for diagnostic output. Must not be nil.
func NewStore(db *badger.DB, retention time.Duration, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Store{db: db, retention: retention, logger: logger}, nil
}

// Open opens (or creates) a store per cfg. The store owns the database
// and closes it on Close.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Dir != "":
		opts = badger.DefaultOptions(cfg.Dir)
	default:
		return nil, fmt.Errorf("audit store: dir must be set unless in-memory")
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening audit store: %w", err)
	}
	s, err := NewStore(db, cfg.Retention, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Close closes the underlying database when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Emit implements argmend.Sink. Write failures are logged.
func (s *Store) Emit(ctx context.Context, ev argmend.Event) {
	if err := s.Save(ctx, ev); err != nil {
		s.logger.Error("audit write failed",
			slog.String("tool", ev.Tool),
			slog.String("call_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Save persists one event.
//
// Key Schema:
//
//	audit:ev:{escaped tool}:{unix_nano, 20 digits}:{id} → JSON(Event)
//	audit:id:{id}                                       → primary key
//
//	The tool segment is query-escaped so it never contains ':'.
func (s *Store) Save(ctx context.Context, ev argmend.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.ID == "" {
		return fmt.Errorf("event ID must not be empty")
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	primary := eventKey(ev)
	index := keyPrefixID + ev.ID

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(s.entry(primary, data)); err != nil {
			return fmt.Errorf("storing event: %w", err)
		}
		if err := txn.SetEntry(s.entry(index, []byte(primary))); err != nil {
			return fmt.Errorf("storing id index: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing audit event to badger: %w", err)
	}
	return nil
}

func (s *Store) entry(key string, value []byte) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if s.retention > 0 {
		e = e.WithTTL(s.retention)
	}
	return e
}

func eventKey(ev argmend.Event) string {
	return fmt.Sprintf("%s%020d:%s", toolPrefix(ev.Tool), ev.Time.UnixNano(), ev.ID)
}

// toolPrefix is the key prefix of one tool's events. Escaping keeps tool
// "a" from matching the events of tool "a:b".
func toolPrefix(tool string) string {
	return keyPrefixEvent + url.QueryEscape(tool) + ":"
}

// Get loads one event by ID.
func (s *Store) Get(ctx context.Context, id string) (*argmend.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ev argmend.Event
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixID + id))
		if err != nil {
			return err
		}
		primary, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(primary)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ev)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading audit event %s: %w", id, err)
	}
	return &ev, nil
}

// List returns events newest first.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	tool - Optional filter. Empty lists every tool.
//	limit - Maximum results. Values <= 0 use DefaultListLimit.
func (s *Store) List(ctx context.Context, tool string, limit int) ([]argmend.Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if tool != "" {
		return s.listTool(ctx, tool, limit)
	}

	var all []argmend.Event
	err := s.scan(ctx, keyPrefixEvent, false, func(ev argmend.Event) bool {
		all = append(all, ev)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Time.After(all[j].Time) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) listTool(ctx context.Context, tool string, limit int) ([]argmend.Event, error) {
	out := make([]argmend.Event, 0, min(limit, 64))
	err := s.scan(ctx, toolPrefix(tool), true, func(ev argmend.Event) bool {
		out = append(out, ev)
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scan iterates events under prefix, calling fn until it returns false.
func (s *Store) scan(ctx context.Context, prefix string, reverse bool, fn func(argmend.Event) bool) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(prefix)
		if reverse {
			seek = append(seek, 0xFF)
		}
		for it.Seek(seek); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var ev argmend.Event
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			})
			if err != nil {
				s.logger.Warn("skipping corrupt audit event",
					slog.String("key", string(item.Key())),
					slog.Any("error", err),
				)
				continue
			}
			if !fn(ev) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning audit events: %w", err)
	}
	return nil
}

// Tools returns the distinct tool names with stored events, sorted.
func (s *Store) Tools(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixEvent)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rest := strings.TrimPrefix(string(it.Item().Key()), keyPrefixEvent)
			segment, _, ok := strings.Cut(rest, ":")
			if !ok {
				continue
			}
			tool, err := url.QueryUnescape(segment)
			if err != nil {
				s.logger.Warn("skipping audit key with bad tool segment",
					slog.String("key", string(it.Item().Key())),
				)
				continue
			}
			seen[tool] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing audit tools: %w", err)
	}
	tools := make([]string, 0, len(seen))
	for t := range seen {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return tools, nil
}
