// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/star-lance/nvim-hoverfloat/services/contextsync/gateway"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/protocol"
)

// Client adapts Operations to the analysis contract the pipeline
// consumes.
//
// Description:
//
//	Converts between the pipeline's 1-based display coordinates and
//	the protocol's zero-based positions, opens documents with the
//	server on first use, and maps missing capabilities to
//	gateway.ErrUnsupported so callers treat them as normal absence.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Client struct {
	ops *Operations

	openMu sync.Mutex
	opened map[string]bool
}

var _ gateway.Client = (*Client)(nil)

// NewClient creates the adapter over the given operations.
func NewClient(ops *Operations) *Client {
	return &Client{
		ops:    ops,
		opened: make(map[string]bool),
	}
}

// ensureOpen sends didOpen for the file on first use, reading content
// from disk. Subsequent calls are no-ops.
func (c *Client) ensureOpen(ctx context.Context, file string) error {
	c.openMu.Lock()
	already := c.opened[file]
	c.openMu.Unlock()
	if already {
		return nil
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	if err := c.ops.OpenDocument(ctx, file, string(content)); err != nil {
		return err
	}

	c.openMu.Lock()
	c.opened[file] = true
	c.openMu.Unlock()
	return nil
}

// ForgetFile closes the document with the server. Called when a buffer
// closes so the server can release its state.
func (c *Client) ForgetFile(ctx context.Context, file string) {
	c.openMu.Lock()
	delete(c.opened, file)
	c.openMu.Unlock()
	_ = c.ops.CloseDocument(ctx, file)
}

// ReopenFile re-sends the document after an external change so server
// state matches the file on disk.
func (c *Client) ReopenFile(ctx context.Context, file string) error {
	c.openMu.Lock()
	delete(c.opened, file)
	c.openMu.Unlock()
	return c.ensureOpen(ctx, file)
}

// Capabilities reports what the file's language server supports.
func (c *Client) Capabilities(ctx context.Context, file string) (gateway.CapabilitySet, error) {
	caps, err := c.ops.Capabilities(ctx, file)
	if err != nil {
		if errors.Is(err, ErrUnsupportedLanguage) || errors.Is(err, ErrServerNotInstalled) {
			return gateway.CapabilitySet{}, gateway.ErrNoClient
		}
		return gateway.CapabilitySet{}, err
	}
	return gateway.CapabilitySet{
		Hover:           caps.HasHoverProvider(),
		Definition:      caps.HasDefinitionProvider(),
		References:      caps.HasReferencesProvider(),
		TypeDefinition:  caps.HasTypeDefinitionProvider(),
		DocumentSymbols: caps.HasDocumentSymbolProvider(),
	}, nil
}

// Hover returns hover documentation lines for the position (1-based).
func (c *Client) Hover(ctx context.Context, file string, line, col int) ([]string, error) {
	if err := c.ensureOpen(ctx, file); err != nil {
		return nil, err
	}
	info, err := c.ops.Hover(ctx, file, line-1, col-1)
	if err != nil {
		return nil, mapCapabilityError(err)
	}
	if info == nil || info.Content == "" {
		return nil, nil
	}
	return strings.Split(info.Content, "\n"), nil
}

// Definition returns the definition location, nil if none.
func (c *Client) Definition(ctx context.Context, file string, line, col int) (*protocol.LocationInfo, error) {
	if err := c.ensureOpen(ctx, file); err != nil {
		return nil, err
	}
	locs, err := c.ops.Definition(ctx, file, line-1, col-1)
	if err != nil {
		return nil, mapCapabilityError(err)
	}
	if len(locs) == 0 {
		return nil, nil
	}
	return locationToInfo(locs[0]), nil
}

// References returns up to maxCount reference locations plus the total
// count.
func (c *Client) References(ctx context.Context, file string, line, col, maxCount int) ([]protocol.LocationInfo, int, error) {
	if err := c.ensureOpen(ctx, file); err != nil {
		return nil, 0, err
	}
	locs, err := c.ops.References(ctx, file, line-1, col-1, true)
	if err != nil {
		return nil, 0, mapCapabilityError(err)
	}

	total := len(locs)
	if maxCount > 0 && len(locs) > maxCount {
		locs = locs[:maxCount]
	}
	out := make([]protocol.LocationInfo, 0, len(locs))
	for _, loc := range locs {
		out = append(out, *locationToInfo(loc))
	}
	return out, total, nil
}

// TypeDefinition returns the type definition location, nil if none.
func (c *Client) TypeDefinition(ctx context.Context, file string, line, col int) (*protocol.LocationInfo, error) {
	if err := c.ensureOpen(ctx, file); err != nil {
		return nil, err
	}
	locs, err := c.ops.TypeDefinition(ctx, file, line-1, col-1)
	if err != nil {
		return nil, mapCapabilityError(err)
	}
	if len(locs) == 0 {
		return nil, nil
	}
	return locationToInfo(locs[0]), nil
}

// DocumentSymbols returns the buffer's named ranges with 1-based lines.
func (c *Client) DocumentSymbols(ctx context.Context, file string) ([]gateway.Symbol, error) {
	if err := c.ensureOpen(ctx, file); err != nil {
		return nil, err
	}
	syms, err := c.ops.DocumentSymbols(ctx, file)
	if err != nil {
		return nil, mapCapabilityError(err)
	}

	out := make([]gateway.Symbol, 0, len(syms))
	for _, sym := range syms {
		out = append(out, gateway.Symbol{
			Name:      sym.Name,
			Kind:      sym.Kind.String(),
			StartLine: sym.Location.Range.Start.Line + 1,
			EndLine:   sym.Location.Range.End.Line + 1,
			StartCol:  sym.Location.Range.Start.Character + 1,
			EndCol:    sym.Location.Range.End.Character + 1,
		})
	}
	return out, nil
}

// mapCapabilityError converts method-not-found from the server into
// the pipeline's unsupported sentinel.
func mapCapabilityError(err error) error {
	var lspErr *LSPError
	if errors.As(err, &lspErr) && lspErr.Code == -32601 {
		return gateway.ErrUnsupported
	}
	return err
}

func locationToInfo(loc Location) *protocol.LocationInfo {
	return &protocol.LocationInfo{
		File: uriToPath(loc.URI),
		Line: loc.Range.Start.Line + 1,
		Col:  loc.Range.Start.Character + 1,
	}
}
