// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/star-lance/nvim-hoverfloat/services/contextsync/protocol"
)

// GathererConfig configures snapshot assembly.
type GathererConfig struct {
	// MaxReferences is how many reference locations a snapshot carries;
	// the remainder is reported as a count. Default: 8
	MaxReferences int

	// RequestTimeout bounds one full gather. Default: 5s
	RequestTimeout time.Duration
}

// DefaultGathererConfig returns sensible defaults.
func DefaultGathererConfig() GathererConfig {
	return GathererConfig{
		MaxReferences:  8,
		RequestTimeout: 5 * time.Second,
	}
}

// Gatherer assembles one atomic ContextData snapshot per position by
// fanning out the supported fact requests concurrently.
//
// A per-fact failure only omits that field from the snapshot. The
// gather as a whole fails only when nothing was produced and at least
// one request actually errored; "no capabilities, nothing to fetch"
// yields an empty snapshot without error.
//
// Thread Safety: Safe for concurrent use.
type Gatherer struct {
	client Client
	config GathererConfig
	caps   *capCache
	logger *slog.Logger
}

// NewGatherer creates a gatherer over the given client.
func NewGatherer(client Client, config GathererConfig, logger *slog.Logger) *Gatherer {
	if config.MaxReferences <= 0 {
		config.MaxReferences = 8
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatherer{
		client: client,
		config: config,
		caps:   newCapCache(),
		logger: logger,
	}
}

// Capabilities returns the cached capability set for a buffer, querying
// the client on first use.
func (g *Gatherer) Capabilities(ctx context.Context, file string) (CapabilitySet, error) {
	if set, ok := g.caps.get(file); ok {
		return set, nil
	}
	set, err := g.client.Capabilities(ctx, file)
	if err != nil {
		return CapabilitySet{}, err
	}
	g.caps.put(file, set)
	return set, nil
}

// ForgetBuffer drops the cached capability set for a buffer, forcing a
// re-query on next use. Called when the buffer closes.
func (g *Gatherer) ForgetBuffer(file string) {
	g.caps.drop(file)
}

// Symbols enumerates the buffer's named ranges.
func (g *Gatherer) Symbols(ctx context.Context, file string) ([]Symbol, error) {
	set, err := g.Capabilities(ctx, file)
	if err != nil {
		return nil, err
	}
	if !set.DocumentSymbols {
		return nil, ErrUnsupported
	}
	return g.client.DocumentSymbols(ctx, file)
}

// Gather fetches all supported facts for the position and builds a
// single snapshot.
func (g *Gatherer) Gather(ctx context.Context, pos Position) (*protocol.ContextData, error) {
	set, err := g.Capabilities(ctx, pos.File)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.RequestTimeout)
	defer cancel()

	data := &protocol.ContextData{
		File:      pos.File,
		Line:      pos.Line,
		Col:       pos.Col,
		Timestamp: time.Now().UnixMilli(),
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	fail := func(fact string, err error) {
		if errors.Is(err, ErrUnsupported) || errors.Is(err, context.Canceled) {
			return
		}
		g.logger.Debug("gather fact failed",
			slog.String("fact", fact),
			slog.String("file", pos.File),
			slog.Int("line", pos.Line),
			slog.String("error", err.Error()),
		)
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	if set.Hover {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hover, err := g.client.Hover(ctx, pos.File, pos.Line, pos.Col)
			if err != nil {
				fail("hover", err)
				return
			}
			mu.Lock()
			data.Hover = hover
			mu.Unlock()
		}()
	}

	if set.Definition {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loc, err := g.client.Definition(ctx, pos.File, pos.Line, pos.Col)
			if err != nil {
				fail("definition", err)
				return
			}
			mu.Lock()
			data.Definition = loc
			mu.Unlock()
		}()
	}

	if set.References {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refs, total, err := g.client.References(ctx, pos.File, pos.Line, pos.Col, g.config.MaxReferences)
			if err != nil {
				fail("references", err)
				return
			}
			mu.Lock()
			data.References = refs
			data.ReferencesCount = total
			if more := total - len(refs); more > 0 {
				data.ReferencesMore = more
			}
			mu.Unlock()
		}()
	}

	if set.TypeDefinition {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loc, err := g.client.TypeDefinition(ctx, pos.File, pos.Line, pos.Col)
			if err != nil {
				fail("type_definition", err)
				return
			}
			mu.Lock()
			data.TypeDefinition = loc
			mu.Unlock()
		}()
	}

	wg.Wait()

	if data.IsEmpty() && firstErr != nil {
		return nil, firstErr
	}
	return data, nil
}
