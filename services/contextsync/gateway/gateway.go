// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway defines the analysis capability the pipeline consumes:
// hover, definition, references, and type-definition facts for a cursor
// position, plus document symbol enumeration.
//
// The pipeline never talks to a language server directly; it talks to a
// Client. Capability support is an explicit set queried once per buffer
// and cached, never probed per call. An unsupported capability is a
// normal absence, not an error.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/star-lance/nvim-hoverfloat/services/contextsync/protocol"
)

// Sentinel errors for gateway operations.
var (
	// ErrUnsupported is returned when the backing client does not
	// support the requested capability for the buffer.
	ErrUnsupported = errors.New("capability not supported")

	// ErrNoClient is returned when no analysis backend is attached to
	// the buffer at all.
	ErrNoClient = errors.New("no analysis client for buffer")
)

// Position identifies where the user's attention is.
type Position struct {
	// File is the normalized absolute path of the buffer.
	File string

	// Line and Col are 1-based display coordinates.
	Line int
	Col  int

	// Word is the identifier under the cursor, used only for dedup.
	Word string

	// Timestamp is when the cursor event was observed.
	Timestamp time.Time
}

// Identifier returns the dedup key for the position. Recomputed on
// every cursor event, never persisted.
func (p Position) Identifier() string {
	return fmt.Sprintf("%s:%d:%d:%s", p.File, p.Line, p.Col, p.Word)
}

// Symbol is a named range inside a buffer, produced fresh on each
// document-structure refresh.
type Symbol struct {
	Name      string
	Kind      string
	StartLine int
	EndLine   int
	StartCol  int
	EndCol    int
}

// Contains reports whether the symbol's range covers the given line.
func (s Symbol) Contains(line int) bool {
	return line >= s.StartLine && line <= s.EndLine
}

// Overlaps reports whether the symbol's range intersects [top, bottom].
func (s Symbol) Overlaps(top, bottom int) bool {
	return s.StartLine <= bottom && s.EndLine >= top
}

// CapabilitySet records which facts a buffer's analysis backend can
// produce. Queried once per buffer and cached.
type CapabilitySet struct {
	Hover           bool
	Definition      bool
	References      bool
	TypeDefinition  bool
	DocumentSymbols bool
}

// Any reports whether at least one capability is available.
func (c CapabilitySet) Any() bool {
	return c.Hover || c.Definition || c.References || c.TypeDefinition || c.DocumentSymbols
}

// String renders the set for logs, e.g. "hover,definition,references".
func (c CapabilitySet) String() string {
	var parts []string
	if c.Hover {
		parts = append(parts, "hover")
	}
	if c.Definition {
		parts = append(parts, "definition")
	}
	if c.References {
		parts = append(parts, "references")
	}
	if c.TypeDefinition {
		parts = append(parts, "type_definition")
	}
	if c.DocumentSymbols {
		parts = append(parts, "document_symbols")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Client is the analysis backend contract.
//
// Each call completes exactly once: one result or one error. Callers
// must check Capabilities before invoking a fact method; invoking an
// unsupported one returns ErrUnsupported.
type Client interface {
	// Capabilities reports what the backend can do for this buffer.
	Capabilities(ctx context.Context, file string) (CapabilitySet, error)

	// Hover returns the hover documentation lines for the position.
	Hover(ctx context.Context, file string, line, col int) ([]string, error)

	// Definition returns the definition location, or nil if none.
	Definition(ctx context.Context, file string, line, col int) (*protocol.LocationInfo, error)

	// References returns up to maxCount reference locations plus the
	// total reference count.
	References(ctx context.Context, file string, line, col, maxCount int) ([]protocol.LocationInfo, int, error)

	// TypeDefinition returns the type definition location, or nil.
	TypeDefinition(ctx context.Context, file string, line, col int) (*protocol.LocationInfo, error)

	// DocumentSymbols returns the flattened set of named ranges in the
	// buffer.
	DocumentSymbols(ctx context.Context, file string) ([]Symbol, error)
}

// =============================================================================
// Capability cache
// =============================================================================

// capCache caches one CapabilitySet per buffer so the set is queried
// once, not per request.
type capCache struct {
	mu   sync.RWMutex
	sets map[string]CapabilitySet
}

func newCapCache() *capCache {
	return &capCache{sets: make(map[string]CapabilitySet)}
}

func (c *capCache) get(file string) (CapabilitySet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.sets[file]
	return set, ok
}

func (c *capCache) put(file string, set CapabilitySet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[file] = set
}

func (c *capCache) drop(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sets, file)
}
