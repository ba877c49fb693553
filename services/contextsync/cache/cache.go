// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache implements the versioned, time-bounded store of analysis
// snapshots that makes repeat lookups feel instantaneous.
//
// Entries are keyed by (normalized file path, line, symbol name). Two
// keys may alias the same code entity; that duplication is tolerated in
// exchange for O(1) lookup without AST correlation.
//
// An entry is valid only while BOTH hold:
//
//  1. its buffer version equals the buffer's current edit counter, and
//  2. its age is within the TTL.
//
// Anything else reads as absent. The TTL alone is not a correctness
// guard; a line number can survive an edit with entirely different
// content, so the version check is the one that matters.
//
// Snapshots are never merged or mutated in place: a store replaces the
// whole entry (one atomic gather result), a later store supersedes it.
//
// # Thread Safety
//
// ContextCache is safe for concurrent use.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/star-lance/nvim-hoverfloat/services/contextsync/protocol"
)

// VersionSource reports the current edit counter for a buffer.
// Returns 0 for untracked buffers.
type VersionSource interface {
	Version(path string) int64
}

// Config configures the cache.
type Config struct {
	// TTL is the maximum entry age. Default: 45s
	TTL time.Duration

	// MaxEntries is the hard cap on total entries; the oldest entries
	// by store time are pruned past it. Default: 500
	MaxEntries int

	// SweepInterval is how often the periodic sweep runs. Default: 30s
	SweepInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:           45 * time.Second,
		MaxEntries:    500,
		SweepInterval: 30 * time.Second,
	}
}

// Key identifies one cached snapshot.
type Key struct {
	File   string
	Line   int
	Symbol string
}

// Entry is one immutable cached snapshot.
type Entry struct {
	// Data is the snapshot. Never mutated after store.
	Data *protocol.ContextData

	// StoredAt is when the snapshot was stored.
	StoredAt time.Time

	// BufferVersion is the buffer's edit counter at store time.
	BufferVersion int64
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// ContextCache is the versioned TTL store.
type ContextCache struct {
	mu      sync.Mutex
	entries map[Key]*Entry

	versions VersionSource
	config   Config
	metrics  *Metrics
	logger   *slog.Logger

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache bound to a version source.
//
// metrics may be nil to disable instrumentation.
func New(versions VersionSource, config Config, metrics *Metrics, logger *slog.Logger) *ContextCache {
	if config.TTL <= 0 {
		config.TTL = 45 * time.Second
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 500
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextCache{
		entries:  make(map[Key]*Entry),
		versions: versions,
		config:   config,
		metrics:  metrics,
		logger:   logger,
	}
}

// Store records a snapshot for (file, line, symbol), stamping it with
// the buffer's current edit counter and the current time. Any existing
// entry under the key is replaced whole. Never fails.
func (c *ContextCache) Store(file string, line int, symbol string, data *protocol.ContextData) {
	key := Key{File: file, Line: line, Symbol: symbol}
	entry := &Entry{
		Data:          data,
		StoredAt:      time.Now(),
		BufferVersion: c.versions.Version(file),
	}

	c.mu.Lock()
	c.entries[key] = entry
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Size.Set(float64(size))
	}
}

// Get returns the entry for (file, line, symbol) if it is still valid.
//
// A version mismatch or expired TTL evicts the entry as a side effect
// and reads as a miss; this lazy eviction is the primary cleanup path.
func (c *ContextCache) Get(file string, line int, symbol string) (*Entry, bool) {
	key := Key{File: file, Line: line, Symbol: symbol}
	now := time.Now()
	version := c.versions.Version(file)

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		c.countMiss("absent")
		return nil, false
	}
	if entry.BufferVersion != version {
		delete(c.entries, key)
		c.misses++
		c.evictions++
		c.mu.Unlock()
		c.countMiss("version")
		c.countEviction("version")
		return nil, false
	}
	if now.Sub(entry.StoredAt) > c.config.TTL {
		delete(c.entries, key)
		c.misses++
		c.evictions++
		c.mu.Unlock()
		c.countMiss("expired")
		c.countEviction("ttl")
		return nil, false
	}
	c.hits++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Hits.Inc()
	}
	return entry, true
}

// ClearBuffer drops every entry for one buffer. Called on buffer close
// or buffer modification (the version bump already invalidates them;
// this just reclaims memory early). Returns the number dropped.
func (c *ContextCache) ClearBuffer(file string) int {
	c.mu.Lock()
	dropped := 0
	for key := range c.entries {
		if key.File == file {
			delete(c.entries, key)
			dropped++
		}
	}
	c.evictions += int64(dropped)
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil && dropped > 0 {
		c.metrics.Evictions.WithLabelValues("buffer_cleared").Add(float64(dropped))
		c.metrics.Size.Set(float64(size))
	}
	return dropped
}

// CleanupExpired evicts every entry failing the validity invariant
// against the current edit counters and clock. Returns the eviction
// count. Run on a fixed interval so buffers that are never revisited do
// not pin memory until the prune cap.
func (c *ContextCache) CleanupExpired() int {
	now := time.Now()

	c.mu.Lock()
	evicted := 0
	for key, entry := range c.entries {
		if entry.BufferVersion != c.versions.Version(key.File) || now.Sub(entry.StoredAt) > c.config.TTL {
			delete(c.entries, key)
			evicted++
		}
	}
	c.evictions += int64(evicted)
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		if evicted > 0 {
			c.metrics.Evictions.WithLabelValues("sweep").Add(float64(evicted))
		}
		c.metrics.Size.Set(float64(size))
	}
	return evicted
}

// PruneToLimit evicts oldest-by-store-time entries until the count is
// at or under maxEntries. This bounds worst-case memory independent of
// TTL. Returns the eviction count.
func (c *ContextCache) PruneToLimit(maxEntries int) int {
	if maxEntries <= 0 {
		maxEntries = c.config.MaxEntries
	}

	c.mu.Lock()
	excess := len(c.entries) - maxEntries
	if excess <= 0 {
		c.mu.Unlock()
		return 0
	}

	type aged struct {
		key      Key
		storedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for key, entry := range c.entries {
		all = append(all, aged{key: key, storedAt: entry.StoredAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].storedAt.Before(all[j].storedAt) })

	for i := 0; i < excess; i++ {
		delete(c.entries, all[i].key)
	}
	c.evictions += int64(excess)
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Evictions.WithLabelValues("pruned").Add(float64(excess))
		c.metrics.Size.Set(float64(size))
	}
	return excess
}

// Len returns the current entry count.
func (c *ContextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of hit/miss/eviction counters.
func (c *ContextCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// RunSweeper runs the periodic sweep (expiry + prune) until the context
// is cancelled.
func (c *ContextCache) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := c.CleanupExpired()
			pruned := c.PruneToLimit(c.config.MaxEntries)
			if expired > 0 || pruned > 0 {
				c.logger.Debug("cache sweep",
					slog.Int("expired", expired),
					slog.Int("pruned", pruned),
					slog.Int("remaining", c.Len()),
				)
			}
		}
	}
}

func (c *ContextCache) countMiss(reason string) {
	if c.metrics != nil {
		c.metrics.Misses.WithLabelValues(reason).Inc()
	}
}

func (c *ContextCache) countEviction(reason string) {
	if c.metrics != nil {
		c.metrics.Evictions.WithLabelValues(reason).Inc()
	}
}
