// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package argmend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/argmend/services/argmend/normalizer"
)

// =============================================================================
// Events
// =============================================================================

// Event is the audit view of one normalization call.
type Event struct {
	// ID uniquely identifies the call (UUIDv4).
	ID string `json:"id"`

	// Tool is the normalized tool.
	Tool string `json:"tool"`

	// Time is when the call finished, UTC.
	Time time.Time `json:"time"`

	// Arguments is a shallow copy of the normalized mapping.
	Arguments map[string]any `json:"arguments"`

	// Corrections is the call's correction log.
	Corrections []normalizer.CorrectionRecord `json:"corrections"`

	// Error is the call's error text, empty on success.
	Error string `json:"error,omitempty"`
}

// Sink receives correction logs after each call.
//
// Emit must not block the caller for long. Implementations that do I/O
// should be wrapped in an AsyncSink.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event)

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// =============================================================================
// LogSink
// =============================================================================

// LogSink writes every event with corrections to a structured logger at
// DEBUG, or at WARN when the call failed.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(ctx context.Context, ev Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if ev.Error == "" && len(ev.Corrections) == 0 {
		return
	}
	level := slog.LevelDebug
	if ev.Error != "" {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "tool arguments normalized",
		slog.String("call_id", ev.ID),
		slog.String("tool", ev.Tool),
		slog.Int("corrections", len(ev.Corrections)),
		slog.String("error", ev.Error),
	)
}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// =============================================================================
// AsyncSink
// =============================================================================

// sinkDroppedTotal counts events an AsyncSink discarded.
//
// Labels:
//   - reason: "full", "closed"
var sinkDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "argmend",
		Name:      "sink_dropped_total",
		Help:      "Audit events dropped before delivery, by reason.",
	},
	[]string{"reason"},
)

// AsyncSink delivers events to another sink on a background goroutine.
//
// Description:
//
//	Events are queued on a bounded channel. When the queue is full the
//	event is dropped and counted; a WARN is logged at most once per
//	second so a slow sink cannot flood the log. A panic in the wrapped
//	sink is recovered and logged per event.
//
// Thread Safety: Emit and Close are safe for concurrent use. Emit after
// Close drops the event.
type AsyncSink struct {
	next    Sink
	ch      chan Event
	logger  *slog.Logger
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncSink starts an AsyncSink in front of next.
//
// Inputs:
//
//	next - The sink to deliver to. Must not be nil.
//	buffer - Queue capacity. Values below 1 become 1.
//	logger - Logger for drop warnings. Nil uses slog.Default().
//
// Outputs:
//
//	*AsyncSink - The running sink. Call Close to drain and stop it.
//	error - Non-nil if next is nil.
func NewAsyncSink(next Sink, buffer int, logger *slog.Logger) (*AsyncSink, error) {
	if next == nil {
		return nil, fmt.Errorf("async sink: next must not be nil")
	}
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &AsyncSink{
		next:    next,
		ch:      make(chan Event, buffer),
		logger:  logger.With(slog.String("component", "async_sink")),
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

// Emit queues ev without blocking.
func (s *AsyncSink) Emit(_ context.Context, ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop("closed", ev)
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.drop("full", ev)
	}
}

func (s *AsyncSink) drop(reason string, ev Event) {
	sinkDroppedTotal.WithLabelValues(reason).Inc()
	if s.limiter.Allow() {
		s.logger.Warn("audit event dropped",
			slog.String("reason", reason),
			slog.String("tool", ev.Tool),
			slog.String("call_id", ev.ID),
		)
	}
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for ev := range s.ch {
		s.deliver(ev)
	}
}

func (s *AsyncSink) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("audit sink panicked",
				slog.String("tool", ev.Tool),
				slog.String("call_id", ev.ID),
				slog.Any("panic", r),
			)
		}
	}()
	s.next.Emit(context.Background(), ev)
}

// Close stops accepting events and waits until the queue is drained or
// ctx expires.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("async sink: draining: %w", ctx.Err())
	}
}
