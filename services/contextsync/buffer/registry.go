// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package buffer tracks the editor-side state the pipeline depends on:
// which files are open, their monotonically increasing edit counters,
// the visible viewport, and the current cursor line.
//
// The edit counter is the correctness guard for every position-based
// cache in the daemon: a cache entry stamped with version v is dead the
// moment the counter moves past v, regardless of TTL.
//
// # Thread Safety
//
// Registry is safe for concurrent use.
package buffer

import (
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Viewport is the visible line range of a buffer, 1-based inclusive.
type Viewport struct {
	Top    int
	Bottom int
}

// State is a snapshot of one tracked buffer.
type State struct {
	// Path is the normalized absolute file path.
	Path string

	// Version is the edit counter. Bumped on every modification.
	Version int64

	// Viewport is the last reported visible range.
	Viewport Viewport

	// CursorLine is the last reported cursor line (1-based).
	CursorLine int

	// OpenedAt is when the buffer was first seen.
	OpenedAt time.Time
}

// Registry tracks open buffers and their edit counters.
type Registry struct {
	mu      sync.RWMutex
	buffers map[string]*State
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{buffers: make(map[string]*State)}
}

// NormalizePath cleans a path and makes it absolute so the same file
// always yields the same cache key.
func NormalizePath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Open registers a buffer at the given editor version. Re-opening an
// already tracked buffer only raises the version, never lowers it.
func (r *Registry) Open(path string, version int64) *State {
	path = NormalizePath(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.buffers[path]
	if !ok {
		st = &State{Path: path, Version: version, OpenedAt: time.Now()}
		r.buffers[path] = st
		return snapshot(st)
	}
	if version > st.Version {
		st.Version = version
	}
	return snapshot(st)
}

// Close drops a buffer. Returns true if it was tracked.
func (r *Registry) Close(path string) bool {
	path = NormalizePath(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.buffers[path]; !ok {
		return false
	}
	delete(r.buffers, path)
	return true
}

// Bump increments the edit counter and returns the new version.
// Untracked paths are opened implicitly at version 1.
func (r *Registry) Bump(path string) int64 {
	path = NormalizePath(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.buffers[path]
	if !ok {
		st = &State{Path: path, Version: 1, OpenedAt: time.Now()}
		r.buffers[path] = st
		return st.Version
	}
	st.Version++
	return st.Version
}

// SetVersion records an editor-reported version. The counter never
// moves backwards.
func (r *Registry) SetVersion(path string, version int64) int64 {
	path = NormalizePath(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.buffers[path]
	if !ok {
		st = &State{Path: path, Version: version, OpenedAt: time.Now()}
		r.buffers[path] = st
		return st.Version
	}
	if version > st.Version {
		st.Version = version
	}
	return st.Version
}

// Version returns the current edit counter, or 0 for untracked paths.
func (r *Registry) Version(path string) int64 {
	path = NormalizePath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if st, ok := r.buffers[path]; ok {
		return st.Version
	}
	return 0
}

// SetViewport records the visible range for a buffer.
func (r *Registry) SetViewport(path string, top, bottom int) {
	path = NormalizePath(path)
	if top > bottom {
		top, bottom = bottom, top
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.buffers[path]; ok {
		st.Viewport = Viewport{Top: top, Bottom: bottom}
	}
}

// GetViewport returns the last reported viewport for a buffer.
func (r *Registry) GetViewport(path string) (Viewport, bool) {
	path = NormalizePath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if st, ok := r.buffers[path]; ok {
		return st.Viewport, true
	}
	return Viewport{}, false
}

// SetCursorLine records the cursor line for a buffer.
func (r *Registry) SetCursorLine(path string, line int) {
	path = NormalizePath(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.buffers[path]; ok {
		st.CursorLine = line
	}
}

// CursorLine returns the last reported cursor line, or 0 if unknown.
func (r *Registry) CursorLine(path string) int {
	path = NormalizePath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if st, ok := r.buffers[path]; ok {
		return st.CursorLine
	}
	return 0
}

// Get returns a snapshot of one buffer's state.
func (r *Registry) Get(path string) (*State, bool) {
	path = NormalizePath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.buffers[path]
	if !ok {
		return nil, false
	}
	return snapshot(st), true
}

// Paths returns the tracked paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make([]string, 0, len(r.buffers))
	for p := range r.buffers {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of tracked buffers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buffers)
}

func snapshot(st *State) *State {
	cp := *st
	return &cp
}
