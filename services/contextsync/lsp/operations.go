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
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"
)

// =============================================================================
// OPERATIONS
// =============================================================================

// Operations provides high-level LSP queries on file paths.
//
// Description:
//
//	Wraps the manager with path-based operations: callers pass absolute
//	file paths and zero-based positions, Operations resolves the
//	language, spawns the server if needed, and normalizes the response
//	shapes the protocol allows.
//
//	Requests pass through a shared rate limiter so a burst of prefetch
//	work cannot flood a freshly started server.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Operations struct {
	manager *Manager
	limiter *rate.Limiter
}

// NewOperations creates operations over the given manager.
//
// The limiter allows sustained 50 requests/second with a burst of 10,
// enough for interactive use plus background prefetch without
// overwhelming slow servers during indexing.
func NewOperations(manager *Manager) *Operations {
	return &Operations{
		manager: manager,
		limiter: rate.NewLimiter(rate.Limit(50), 10),
	}
}

// Manager returns the underlying manager.
func (o *Operations) Manager() *Manager {
	return o.manager
}

// IsAvailable reports whether a language server can handle the file.
func (o *Operations) IsAvailable(path string) bool {
	lang := o.languageFromPath(path)
	if lang == "" {
		return false
	}
	return o.manager.IsAvailable(lang)
}

// languageFromPath maps a file path to its language identifier, empty
// if no server configuration handles the extension.
func (o *Operations) languageFromPath(path string) string {
	ext := filepath.Ext(path)
	lang, _ := o.manager.Configs().LanguageForExtension(ext)
	return lang
}

// serverFor resolves a ready server for the file, spawning if needed.
func (o *Operations) serverFor(ctx context.Context, path string) (*Server, error) {
	lang := o.languageFromPath(path)
	if lang == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filepath.Ext(path))
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return o.manager.GetOrSpawn(ctx, lang)
}

// request resolves the file's server and issues one JSON-RPC request,
// retrying once when the first failure is transient. The retry
// re-resolves the server, so a crash between resolve and request gets
// a fresh attempt against a respawned process.
func (o *Operations) request(ctx context.Context, path, method string, params interface{}) (json.RawMessage, error) {
	return requestWithRetry(func() (json.RawMessage, error) {
		server, err := o.serverFor(ctx, path)
		if err != nil {
			return nil, err
		}
		return server.Request(ctx, method, params)
	})
}

// requestWithRetry runs attempt, retrying exactly once when the first
// failure is retryable (crashed or restarting server, or a server-side
// error in the implementation-defined band).
func requestWithRetry(attempt func() (json.RawMessage, error)) (json.RawMessage, error) {
	raw, err := attempt()
	if err == nil || !isRetryableError(err) {
		return raw, err
	}
	return attempt()
}

// =============================================================================
// DOCUMENT LIFECYCLE
// =============================================================================

// OpenDocument tells the server a document is open with the given
// content. Most position-based requests require this first.
func (o *Operations) OpenDocument(ctx context.Context, path, content string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	server, err := o.serverFor(ctx, path)
	if err != nil {
		return err
	}

	return server.Notify("textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        pathToURI(path),
			LanguageID: o.languageFromPath(path),
			Version:    1,
			Text:       content,
		},
	})
}

// CloseDocument tells the server a document is no longer open.
func (o *Operations) CloseDocument(ctx context.Context, path string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	lang := o.languageFromPath(path)
	if lang == "" {
		return fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filepath.Ext(path))
	}

	// Only notify a server that is already running; closing a document
	// is not a reason to spawn one.
	server := o.manager.Get(lang)
	if server == nil {
		return nil
	}
	return server.Notify("textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
	})
}

// =============================================================================
// POSITION QUERIES
// =============================================================================

// Hover returns hover documentation at the position (zero-based).
//
// Outputs:
//
//	*HoverInfo - Normalized hover content, nil if the server returned
//	             nothing for the position
//	error - Non-nil on transport or server error
func (o *Operations) Hover(ctx context.Context, path string, line, character int) (*HoverInfo, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	raw, err := o.request(ctx, path, "textDocument/hover", TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
		Position:     Position{Line: line, Character: character},
	})
	if err != nil {
		return nil, err
	}
	return parseHoverResponse(raw)
}

// Definition returns the definition locations for the position.
func (o *Operations) Definition(ctx context.Context, path string, line, character int) ([]Location, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	raw, err := o.request(ctx, path, "textDocument/definition", TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
		Position:     Position{Line: line, Character: character},
	})
	if err != nil {
		return nil, err
	}
	return parseLocationResponse(raw)
}

// TypeDefinition returns the type definition locations for the position.
func (o *Operations) TypeDefinition(ctx context.Context, path string, line, character int) ([]Location, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	raw, err := o.request(ctx, path, "textDocument/typeDefinition", TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
		Position:     Position{Line: line, Character: character},
	})
	if err != nil {
		return nil, err
	}
	return parseLocationResponse(raw)
}

// References returns all reference locations for the position.
func (o *Operations) References(ctx context.Context, path string, line, character int, includeDeclaration bool) ([]Location, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	raw, err := o.request(ctx, path, "textDocument/references", ReferenceParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
			Position:     Position{Line: line, Character: character},
		},
		Context: ReferenceContext{IncludeDeclaration: includeDeclaration},
	})
	if err != nil {
		return nil, err
	}
	return parseLocationResponse(raw)
}

// DocumentSymbols returns the symbols in a document, flattened.
//
// Description:
//
//	Handles both response shapes: the hierarchical DocumentSymbol form
//	(flattened depth-first) and the legacy SymbolInformation form.
func (o *Operations) DocumentSymbols(ctx context.Context, path string) ([]SymbolInformation, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	raw, err := o.request(ctx, path, "textDocument/documentSymbol", DocumentSymbolParams{
		TextDocument: TextDocumentIdentifier{URI: pathToURI(path)},
	})
	if err != nil {
		return nil, err
	}
	return parseSymbolResponse(raw, pathToURI(path))
}

// Capabilities returns the capability flags for the file's language
// server, spawning it if needed.
func (o *Operations) Capabilities(ctx context.Context, path string) (ServerCapabilities, error) {
	if ctx == nil {
		return ServerCapabilities{}, fmt.Errorf("ctx must not be nil")
	}
	server, err := o.serverFor(ctx, path)
	if err != nil {
		return ServerCapabilities{}, err
	}
	return server.Capabilities(), nil
}

// PathToURI converts a file path to a file:// URI.
func (o *Operations) PathToURI(path string) string { return pathToURI(path) }

// URIToPath converts a file:// URI back to a path.
func (o *Operations) URIToPath(uri string) string { return uriToPath(uri) }

// =============================================================================
// RESPONSE PARSING
// =============================================================================

func pathToURI(path string) string {
	u := url.URL{Scheme: "file", Path: path}
	return u.String()
}

func uriToPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return strings.TrimPrefix(uri, "file://")
	}
	return u.Path
}

// parseLocationResponse normalizes the three shapes definition-family
// responses come in: null, a single Location, an array of Locations,
// or an array of LocationLinks.
func parseLocationResponse(raw json.RawMessage) ([]Location, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "{") {
		var loc Location
		if err := json.Unmarshal(raw, &loc); err != nil {
			return nil, fmt.Errorf("decode location: %w", err)
		}
		return []Location{loc}, nil
	}

	var locs []Location
	if err := json.Unmarshal(raw, &locs); err == nil && len(locs) > 0 && locs[0].URI != "" {
		return locs, nil
	}

	var links []LocationLink
	if err := json.Unmarshal(raw, &links); err != nil {
		return nil, fmt.Errorf("decode location links: %w", err)
	}
	out := make([]Location, 0, len(links))
	for _, link := range links {
		out = append(out, Location{URI: link.TargetURI, Range: link.TargetSelectionRange})
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// parseHoverResponse normalizes hover contents: MarkupContent, a bare
// string, or an array of marked strings.
func parseHoverResponse(raw json.RawMessage) (*HoverInfo, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	var result HoverResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode hover: %w", err)
	}

	info := &HoverInfo{Range: result.Range}

	var markup MarkupContent
	if err := json.Unmarshal(result.Contents, &markup); err == nil && markup.Value != "" {
		info.Content = markup.Value
		info.Kind = markup.Kind
		return info, nil
	}

	var str string
	if err := json.Unmarshal(result.Contents, &str); err == nil {
		info.Content = str
		info.Kind = "plaintext"
		return info, nil
	}

	// Array of string | {language, value}
	var parts []json.RawMessage
	if err := json.Unmarshal(result.Contents, &parts); err != nil {
		return nil, fmt.Errorf("decode hover contents: %w", err)
	}
	var sb strings.Builder
	for _, part := range parts {
		var s string
		if err := json.Unmarshal(part, &s); err == nil {
			sb.WriteString(s)
			sb.WriteString("\n")
			continue
		}
		var marked struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(part, &marked); err == nil {
			sb.WriteString(marked.Value)
			sb.WriteString("\n")
		}
	}
	info.Content = strings.TrimRight(sb.String(), "\n")
	info.Kind = "markdown"
	if info.Content == "" {
		return nil, nil
	}
	return info, nil
}

// parseSymbolResponse normalizes documentSymbol responses into the
// flat SymbolInformation form. fileURI fills in the location for
// hierarchical responses, which carry no URI of their own.
func parseSymbolResponse(raw json.RawMessage, fileURI string) ([]SymbolInformation, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	// Try the hierarchical form first; it is what modern servers send.
	var tree []DocumentSymbol
	if err := json.Unmarshal(raw, &tree); err == nil && symbolsLookHierarchical(raw) {
		var flat []SymbolInformation
		flattenSymbols(tree, fileURI, "", &flat)
		return flat, nil
	}

	var flat []SymbolInformation
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("decode document symbols: %w", err)
	}
	return flat, nil
}

// symbolsLookHierarchical sniffs for the selectionRange field that only
// the DocumentSymbol form carries.
func symbolsLookHierarchical(raw json.RawMessage) bool {
	var probe []struct {
		SelectionRange *Range `json:"selectionRange"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return len(probe) > 0 && probe[0].SelectionRange != nil
}

func flattenSymbols(tree []DocumentSymbol, fileURI, container string, out *[]SymbolInformation) {
	for _, sym := range tree {
		*out = append(*out, SymbolInformation{
			Name:          sym.Name,
			Kind:          sym.Kind,
			Location:      Location{URI: fileURI, Range: sym.Range},
			ContainerName: container,
		})
		if len(sym.Children) > 0 {
			flattenSymbols(sym.Children, fileURI, sym.Name, out)
		}
	}
}
