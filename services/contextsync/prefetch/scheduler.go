// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prefetch keeps the context cache warm ahead of cursor
// movement.
//
// The scheduler enumerates a buffer's symbols, selects the ones within
// a spatial radius of the visible viewport, orders them by distance to
// the cursor line, and drains the resulting queue under a hard
// concurrency bound. A symbol already cached or already being fetched
// is dropped silently (idempotent enqueue). A failed gather is neither
// retried nor cached; a later live request simply re-attempts it.
//
// # Thread Safety
//
// Scheduler is safe for concurrent use.
package prefetch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/star-lance/nvim-hoverfloat/services/contextsync/buffer"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/cache"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/gateway"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/protocol"
)

// Analyzer is the slice of the gateway the scheduler needs.
type Analyzer interface {
	Symbols(ctx context.Context, file string) ([]gateway.Symbol, error)
	Gather(ctx context.Context, pos gateway.Position) (*protocol.ContextData, error)
}

// Config configures the scheduler.
type Config struct {
	// Radius is how many lines beyond the viewport remain eligible.
	// Default: 30
	Radius int

	// MaxConcurrent bounds simultaneous gathers. Default: 2
	MaxConcurrent int

	// Worthy filters out symbols not worth prefetching. The default
	// skips unnamed and single-character symbols.
	Worthy func(sym gateway.Symbol) bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Radius:        30,
		MaxConcurrent: 2,
	}
}

func defaultWorthy(sym gateway.Symbol) bool {
	return len(sym.Name) > 1
}

// job is one queued fetch. Ephemeral; exists only while queued or in
// flight.
type job struct {
	file     string
	sym      gateway.Symbol
	distance int
}

func (j job) key() cache.Key {
	return cache.Key{File: j.file, Line: j.sym.StartLine, Symbol: j.sym.Name}
}

// Scheduler drains prefetch jobs under the concurrency bound.
type Scheduler struct {
	analyzer Analyzer
	store    *cache.ContextCache
	registry *buffer.Registry
	inflight *cache.InflightSet
	config   Config
	metrics  *Metrics
	logger   *slog.Logger

	// sem enforces MaxConcurrent; drain only ever TryAcquires so the
	// queue lock is never held across a gather.
	sem *semaphore.Weighted

	mu      sync.Mutex
	queue   []job
	queued  map[cache.Key]struct{}
	running int

	// symbols holds the enumeration for one buffer version; owned here
	// for the lifetime of that version.
	symbols map[string]symbolSet
}

type symbolSet struct {
	version int64
	syms    []gateway.Symbol
}

// NewScheduler creates a scheduler.
//
// inflight is shared with the live request path so the two never race
// on the same symbol. metrics may be nil.
func NewScheduler(
	analyzer Analyzer,
	store *cache.ContextCache,
	registry *buffer.Registry,
	inflight *cache.InflightSet,
	config Config,
	metrics *Metrics,
	logger *slog.Logger,
) *Scheduler {
	if config.Radius <= 0 {
		config.Radius = 30
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}
	if config.Worthy == nil {
		config.Worthy = defaultWorthy
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		analyzer: analyzer,
		store:    store,
		registry: registry,
		inflight: inflight,
		config:   config,
		metrics:  metrics,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrent)),
		queued:   make(map[cache.Key]struct{}),
		symbols:  make(map[string]symbolSet),
	}
}

// ScheduleBuffer enumerates a buffer's symbols and enqueues fetches for
// the eligible ones. Enumeration runs on the calling goroutine; callers
// on a hot path should invoke it via `go`.
func (s *Scheduler) ScheduleBuffer(ctx context.Context, file string) {
	file = buffer.NormalizePath(file)
	version := s.registry.Version(file)

	syms, err := s.analyzer.Symbols(ctx, file)
	if err != nil {
		// No symbols means nothing to warm; the live path still works.
		s.logger.Debug("symbol enumeration failed",
			slog.String("file", file),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.symbols[file] = symbolSet{version: version, syms: syms}
	s.mu.Unlock()

	s.enqueueEligible(ctx, file, syms)
}

// OnViewportChange recomputes the candidate set against the current
// visible range and enqueues newly eligible symbols. A no-op for
// symbols already cached or in flight.
func (s *Scheduler) OnViewportChange(ctx context.Context, file string) {
	file = buffer.NormalizePath(file)

	s.mu.Lock()
	set, ok := s.symbols[file]
	currentVersion := s.registry.Version(file)
	s.mu.Unlock()

	if !ok || set.version != currentVersion {
		s.ScheduleBuffer(ctx, file)
		return
	}
	s.enqueueEligible(ctx, file, set.syms)
}

// OnBufferModified reacts to a text change: every position assumption
// in the buffer is void, so the cache, the in-flight markers, the
// queued jobs, and the enumeration are all dropped before the buffer is
// rescheduled.
func (s *Scheduler) OnBufferModified(ctx context.Context, file string) {
	file = buffer.NormalizePath(file)

	s.store.ClearBuffer(file)
	s.inflight.ClearBuffer(file)

	s.mu.Lock()
	delete(s.symbols, file)
	s.dropQueuedLocked(file)
	s.mu.Unlock()

	s.ScheduleBuffer(ctx, file)
}

// OnBufferClosed purges everything owned for the buffer.
func (s *Scheduler) OnBufferClosed(file string) {
	file = buffer.NormalizePath(file)

	s.store.ClearBuffer(file)
	s.inflight.ClearBuffer(file)

	s.mu.Lock()
	delete(s.symbols, file)
	s.dropQueuedLocked(file)
	s.mu.Unlock()
}

// QueueLen returns the number of queued jobs.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Running returns the number of in-flight prefetch gathers.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// =============================================================================
// Candidate selection
// =============================================================================

// enqueueEligible selects symbols overlapping [top-R, bottom+R],
// filters by worthiness, sorts by distance to the cursor line, and
// enqueues the ones neither cached, in flight, nor already queued.
func (s *Scheduler) enqueueEligible(ctx context.Context, file string, syms []gateway.Symbol) {
	vp, ok := s.registry.GetViewport(file)
	if !ok || (vp.Top == 0 && vp.Bottom == 0) {
		// No viewport reported yet; treat the whole file as visible.
		vp = buffer.Viewport{Top: 1, Bottom: 1 << 30}
	}
	top := vp.Top - s.config.Radius
	bottom := vp.Bottom + s.config.Radius
	cursorLine := s.registry.CursorLine(file)

	var eligible []job
	for _, sym := range syms {
		if !sym.Overlaps(top, bottom) {
			continue
		}
		if !s.config.Worthy(sym) {
			continue
		}
		// A symbol whose range encloses the cursor outranks everything:
		// it is the hover target the user is most likely already on.
		distance := absDistance(sym.StartLine, cursorLine)
		if sym.Contains(cursorLine) {
			distance = 0
		}
		eligible = append(eligible, job{
			file:     file,
			sym:      sym,
			distance: distance,
		})
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].distance < eligible[j].distance
	})

	s.mu.Lock()
	added := 0
	for _, j := range eligible {
		key := j.key()
		if _, dup := s.queued[key]; dup {
			continue
		}
		if s.inflight.Contains(key) {
			continue
		}
		if _, hit := s.store.Get(file, j.sym.StartLine, j.sym.Name); hit {
			continue
		}
		s.queue = append(s.queue, j)
		s.queued[key] = struct{}{}
		added++
	}
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(len(s.queue)))
	}
	s.mu.Unlock()

	if added > 0 {
		s.logger.Debug("prefetch jobs enqueued",
			slog.String("file", file),
			slog.Int("added", added),
		)
	}
	s.drain(ctx)
}

func (s *Scheduler) dropQueuedLocked(file string) {
	kept := s.queue[:0]
	for _, j := range s.queue {
		if j.file == file {
			delete(s.queued, j.key())
			continue
		}
		kept = append(kept, j)
	}
	s.queue = kept
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(len(s.queue)))
	}
}

func absDistance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// =============================================================================
// Queue draining
// =============================================================================

// drain starts jobs while a concurrency slot is free and the queue is
// non-empty. Jobs found cached or in flight at dequeue time are dropped
// without consuming a slot. Each completion re-enters drain, keeping
// the pipe full without exceeding the bound.
func (s *Scheduler) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !s.sem.TryAcquire(1) {
			return
		}

		s.mu.Lock()
		var next *job
		for len(s.queue) > 0 {
			j := s.queue[0]
			s.queue = s.queue[1:]
			delete(s.queued, j.key())

			if _, hit := s.store.Get(j.file, j.sym.StartLine, j.sym.Name); hit {
				continue
			}
			if !s.inflight.TryBegin(j.key()) {
				continue
			}
			next = &j
			break
		}
		if next != nil {
			s.running++
		}
		if s.metrics != nil {
			s.metrics.QueueDepth.Set(float64(len(s.queue)))
			s.metrics.Running.Set(float64(s.running))
		}
		s.mu.Unlock()

		if next == nil {
			s.sem.Release(1)
			return
		}
		go s.run(ctx, *next)
	}
}

// run executes one job to completion. Not cancellable mid-flight; the
// gather's own timeout bounds it.
func (s *Scheduler) run(ctx context.Context, j job) {
	start := time.Now()
	pos := gateway.Position{
		File:      j.file,
		Line:      j.sym.StartLine,
		Col:       j.sym.StartCol,
		Word:      j.sym.Name,
		Timestamp: start,
	}

	data, err := s.analyzer.Gather(ctx, pos)

	s.inflight.End(j.key())
	if err == nil && data != nil {
		// Stale-by-now results are harmless: Store stamps the current
		// version, and a version bumped mid-gather fails the next Get.
		s.store.Store(j.file, j.sym.StartLine, j.sym.Name, data)
		if s.metrics != nil {
			s.metrics.Completed.WithLabelValues("success").Inc()
			s.metrics.GatherSeconds.Observe(time.Since(start).Seconds())
		}
	} else if err != nil {
		// Not retried, not cached; a later direct request re-attempts.
		s.logger.Debug("prefetch gather failed",
			slog.String("file", j.file),
			slog.String("symbol", j.sym.Name),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.Completed.WithLabelValues("error").Inc()
		}
	}

	s.mu.Lock()
	s.running--
	if s.metrics != nil {
		s.metrics.Running.Set(float64(s.running))
	}
	s.mu.Unlock()
	s.sem.Release(1)

	s.drain(ctx)
}
