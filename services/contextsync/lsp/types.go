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

import "encoding/json"

// =============================================================================
// BASE PROTOCOL TYPES
// =============================================================================

// Position is a zero-based line/character position in a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is a range within a document identified by URI.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// LocationLink is the richer location form some servers return for
// definition-family requests.
type LocationLink struct {
	TargetURI            string `json:"targetUri"`
	TargetRange          Range  `json:"targetRange"`
	TargetSelectionRange Range  `json:"targetSelectionRange"`
}

// TextDocumentIdentifier identifies a document by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// TextDocumentItem is a full document transferred to the server.
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// TextDocumentPositionParams is the common request payload for
// position-based requests.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// =============================================================================
// REQUEST PARAMS
// =============================================================================

// ReferenceContext controls reference lookup behavior.
type ReferenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

// ReferenceParams is the payload for textDocument/references.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context ReferenceContext `json:"context"`
}

// DocumentSymbolParams is the payload for textDocument/documentSymbol.
type DocumentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DidOpenTextDocumentParams is the payload for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidCloseTextDocumentParams is the payload for textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// =============================================================================
// RESULTS
// =============================================================================

// MarkupContent is a string with a declared format.
type MarkupContent struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// HoverResult is the raw textDocument/hover response.
//
// Contents is kept raw because servers return it in three shapes: a
// MarkupContent object, a bare string, or an array of marked strings.
type HoverResult struct {
	Contents json.RawMessage `json:"contents"`
	Range    *Range          `json:"range,omitempty"`
}

// HoverInfo is the normalized hover result.
type HoverInfo struct {
	Content string `json:"content"`
	Kind    string `json:"kind"`
	Range   *Range `json:"range,omitempty"`
}

// SymbolKind is the LSP symbol kind enumeration.
type SymbolKind int

// Symbol kinds the pipeline cares about. The full LSP enumeration has
// 26 values; unlisted ones still decode, they just render as "other".
const (
	SymbolKindFile          SymbolKind = 1
	SymbolKindModule        SymbolKind = 2
	SymbolKindNamespace     SymbolKind = 3
	SymbolKindPackage       SymbolKind = 4
	SymbolKindClass         SymbolKind = 5
	SymbolKindMethod        SymbolKind = 6
	SymbolKindProperty      SymbolKind = 7
	SymbolKindField         SymbolKind = 8
	SymbolKindConstructor   SymbolKind = 9
	SymbolKindEnum          SymbolKind = 10
	SymbolKindInterface     SymbolKind = 11
	SymbolKindFunction      SymbolKind = 12
	SymbolKindVariable      SymbolKind = 13
	SymbolKindConstant      SymbolKind = 14
	SymbolKindStruct        SymbolKind = 23
	SymbolKindTypeParameter SymbolKind = 26
)

// String renders the kind for display and candidate filtering.
func (k SymbolKind) String() string {
	switch k {
	case SymbolKindFile:
		return "file"
	case SymbolKindModule:
		return "module"
	case SymbolKindNamespace:
		return "namespace"
	case SymbolKindPackage:
		return "package"
	case SymbolKindClass:
		return "class"
	case SymbolKindMethod:
		return "method"
	case SymbolKindProperty:
		return "property"
	case SymbolKindField:
		return "field"
	case SymbolKindConstructor:
		return "constructor"
	case SymbolKindEnum:
		return "enum"
	case SymbolKindInterface:
		return "interface"
	case SymbolKindFunction:
		return "function"
	case SymbolKindVariable:
		return "variable"
	case SymbolKindConstant:
		return "constant"
	case SymbolKindStruct:
		return "struct"
	case SymbolKindTypeParameter:
		return "type_parameter"
	default:
		return "other"
	}
}

// DocumentSymbol is the hierarchical symbol form.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           SymbolKind       `json:"kind"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// SymbolInformation is the flat symbol form older servers return.
type SymbolInformation struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	Location      Location   `json:"location"`
	ContainerName string     `json:"containerName,omitempty"`
}

// =============================================================================
// INITIALIZE HANDSHAKE
// =============================================================================

// HoverCapabilities advertises hover content format preferences.
type HoverCapabilities struct {
	ContentFormat []string `json:"contentFormat,omitempty"`
}

// DefinitionCapabilities advertises definition support.
type DefinitionCapabilities struct {
	LinkSupport bool `json:"linkSupport,omitempty"`
}

// TextDocumentClientCapabilities is the subset of client capabilities
// this pipeline advertises.
type TextDocumentClientCapabilities struct {
	Hover          *HoverCapabilities      `json:"hover,omitempty"`
	Definition     *DefinitionCapabilities `json:"definition,omitempty"`
	TypeDefinition *DefinitionCapabilities `json:"typeDefinition,omitempty"`
}

// ClientCapabilities is the capabilities block of InitializeParams.
type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument,omitempty"`
}

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProcessID             int                `json:"processId"`
	RootURI               string             `json:"rootUri"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions interface{}        `json:"initializationOptions,omitempty"`
}

// ServerCapabilities is what the server reported during initialize.
//
// Provider fields are interface{} because the LSP allows either a bool
// or an options object; any non-nil, non-false value means supported.
type ServerCapabilities struct {
	HoverProvider          interface{} `json:"hoverProvider,omitempty"`
	DefinitionProvider     interface{} `json:"definitionProvider,omitempty"`
	TypeDefinitionProvider interface{} `json:"typeDefinitionProvider,omitempty"`
	ReferencesProvider     interface{} `json:"referencesProvider,omitempty"`
	DocumentSymbolProvider interface{} `json:"documentSymbolProvider,omitempty"`
}

// InitializeResult is the response to initialize.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
}

func providerEnabled(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		// Options object means enabled.
		return true
	}
}

// HasHoverProvider reports hover support.
func (c ServerCapabilities) HasHoverProvider() bool {
	return providerEnabled(c.HoverProvider)
}

// HasDefinitionProvider reports definition support.
func (c ServerCapabilities) HasDefinitionProvider() bool {
	return providerEnabled(c.DefinitionProvider)
}

// HasTypeDefinitionProvider reports type definition support.
func (c ServerCapabilities) HasTypeDefinitionProvider() bool {
	return providerEnabled(c.TypeDefinitionProvider)
}

// HasReferencesProvider reports references support.
func (c ServerCapabilities) HasReferencesProvider() bool {
	return providerEnabled(c.ReferencesProvider)
}

// HasDocumentSymbolProvider reports document symbol support.
func (c ServerCapabilities) HasDocumentSymbolProvider() bool {
	return providerEnabled(c.DocumentSymbolProvider)
}
