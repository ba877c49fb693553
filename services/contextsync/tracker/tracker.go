// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracker turns raw cursor movement into at most one settled
// position per debounce window and resolves it to a display update.
//
// On settle, the context cache answers in the common case; a miss goes
// through a direct (non-prefetch) gather whose result is stored so the
// next visit hits. Updates for a position identical to the last one
// successfully forwarded are skipped outright.
//
// # Thread Safety
//
// Tracker is safe for concurrent use.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/star-lance/nvim-hoverfloat/services/contextsync/cache"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/gateway"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/protocol"
)

// Sender forwards messages to the display. Satisfied by the transport
// client.
type Sender interface {
	Send(msg *protocol.Message) error
}

// Analyzer is the slice of the gateway the tracker needs.
type Analyzer interface {
	Gather(ctx context.Context, pos gateway.Position) (*protocol.ContextData, error)
}

// Config configures the tracker.
type Config struct {
	// Debounce is the quiet period before a position settles.
	// Default: 150ms
	Debounce time.Duration

	// FailureThreshold is how many consecutive gather failures trigger
	// an error message to the display. Default: 3
	FailureThreshold int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:         150 * time.Millisecond,
		FailureThreshold: 3,
	}
}

// Tracker debounces cursor movement and serves settled positions.
type Tracker struct {
	analyzer Analyzer
	store    *cache.ContextCache
	inflight *cache.InflightSet
	sender   Sender
	config   Config
	logger   *slog.Logger

	mu            sync.Mutex
	timer         *time.Timer
	pending       gateway.Position
	hasPending    bool
	lastForwarded string
	failures      int
	stopped       bool
}

// New creates a tracker.
//
// inflight is the set shared with the prefetch scheduler; live misses
// register there so a concurrently scheduled prefetch for the same
// symbol is dropped instead of fetched twice.
func New(
	analyzer Analyzer,
	store *cache.ContextCache,
	inflight *cache.InflightSet,
	sender Sender,
	config Config,
	logger *slog.Logger,
) *Tracker {
	if config.Debounce <= 0 {
		config.Debounce = 150 * time.Millisecond
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		analyzer: analyzer,
		store:    store,
		inflight: inflight,
		sender:   sender,
		config:   config,
		logger:   logger,
	}
}

// OnCursorMoved records a cursor event. Rapid events coalesce: only the
// newest position settles once the debounce window passes
// (last-write-wins on the timer).
func (t *Tracker) OnCursorMoved(ctx context.Context, pos gateway.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	t.pending = pos
	t.hasPending = true

	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.config.Debounce, func() {
		t.settle(ctx)
	})
}

// Flush settles any pending position immediately. Used by tests and on
// shutdown to avoid losing the final update.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	t.settle(ctx)
}

// Stop cancels any pending settle.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.hasPending = false
}

// LastForwarded returns the identifier of the last update that reached
// the sender.
func (t *Tracker) LastForwarded() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastForwarded
}

// settle resolves the pending position: dedup check, cache read, and on
// miss a direct gather stored back into the cache.
func (t *Tracker) settle(ctx context.Context) {
	t.mu.Lock()
	if t.stopped || !t.hasPending {
		t.mu.Unlock()
		return
	}
	pos := t.pending
	t.hasPending = false
	id := pos.Identifier()
	if id == t.lastForwarded {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if entry, ok := t.store.Get(pos.File, pos.Line, pos.Word); ok {
		t.forward(id, entry.Data)
		return
	}

	key := cache.Key{File: pos.File, Line: pos.Line, Symbol: pos.Word}
	registered := t.inflight.TryBegin(key)
	// If a prefetch already has this key in flight we fetch anyway:
	// the user is waiting, and one redundant request beats blocking the
	// foreground path on a background job.
	data, err := t.analyzer.Gather(ctx, pos)
	if registered {
		t.inflight.End(key)
	}

	if err != nil {
		t.mu.Lock()
		t.failures++
		failures := t.failures
		t.mu.Unlock()

		t.logger.Warn("live gather failed",
			slog.String("position", id),
			slog.Int("consecutive", failures),
			slog.String("error", err.Error()),
		)
		if failures == t.config.FailureThreshold {
			if msg, merr := protocol.NewError("context lookup failing", err.Error()); merr == nil {
				_ = t.sender.Send(msg)
			}
		}
		return
	}

	t.store.Store(pos.File, pos.Line, pos.Word, data)
	t.forward(id, data)
}

func (t *Tracker) forward(id string, data *protocol.ContextData) {
	msg, err := protocol.NewContextUpdate(data)
	if err != nil {
		t.logger.Error("encode context update", slog.String("error", err.Error()))
		return
	}
	if err := t.sender.Send(msg); err != nil {
		t.logger.Warn("forward failed", slog.String("error", err.Error()))
		return
	}
	t.mu.Lock()
	t.lastForwarded = id
	t.failures = 0
	t.mu.Unlock()
}
