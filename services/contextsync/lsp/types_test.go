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
	"encoding/json"
	"testing"
)

func TestPosition_Marshal(t *testing.T) {
	pos := Position{Line: 0, Character: 0}

	data, err := json.Marshal(pos)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Zero values must still be present on the wire; the LSP treats a
	// missing line as a protocol error, not as line zero.
	expected := `{"line":0,"character":0}`
	if string(data) != expected {
		t.Errorf("got %s, want %s", data, expected)
	}
}

func TestRange_Roundtrip(t *testing.T) {
	r := Range{
		Start: Position{Line: 10, Character: 5},
		End:   Position{Line: 12, Character: 0},
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Range
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != r {
		t.Errorf("roundtrip mismatch: %+v != %+v", back, r)
	}
}

func TestReferenceParams_Marshal(t *testing.T) {
	params := ReferenceParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: "file:///test.go"},
			Position:     Position{Line: 5, Character: 10},
		},
		Context: ReferenceContext{IncludeDeclaration: true},
	}

	data, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Embedding must flatten into the top level, not nest.
	if _, ok := decoded["textDocument"]; !ok {
		t.Error("textDocument missing from top level")
	}
	if _, ok := decoded["position"]; !ok {
		t.Error("position missing from top level")
	}
	ctx, ok := decoded["context"].(map[string]interface{})
	if !ok {
		t.Fatal("context missing")
	}
	if ctx["includeDeclaration"] != true {
		t.Error("includeDeclaration not set")
	}
}

func TestHoverResult_Unmarshal(t *testing.T) {
	data := `{"contents":{"kind":"markdown","value":"docs"},"range":{"start":{"line":1,"character":0},"end":{"line":1,"character":4}}}`

	var result HoverResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(result.Contents) == 0 {
		t.Error("contents should be retained raw")
	}
	if result.Range == nil || result.Range.Start.Line != 1 {
		t.Errorf("range = %+v", result.Range)
	}
}

func TestInitializeParams_Marshal(t *testing.T) {
	params := InitializeParams{
		ProcessID: 1234,
		RootURI:   "file:///project",
	}

	data, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded["processId"] != float64(1234) {
		t.Errorf("processId = %v", decoded["processId"])
	}
	if decoded["rootUri"] != "file:///project" {
		t.Errorf("rootUri = %v", decoded["rootUri"])
	}
	if _, ok := decoded["initializationOptions"]; ok {
		t.Error("nil initializationOptions should be omitted")
	}
}

func TestServerCapabilities_HasProviders(t *testing.T) {
	t.Run("bool values", func(t *testing.T) {
		var caps ServerCapabilities
		data := `{"hoverProvider":true,"definitionProvider":false,"referencesProvider":true}`
		if err := json.Unmarshal([]byte(data), &caps); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}

		if !caps.HasHoverProvider() {
			t.Error("hover should be enabled")
		}
		if caps.HasDefinitionProvider() {
			t.Error("definition should be disabled")
		}
		if !caps.HasReferencesProvider() {
			t.Error("references should be enabled")
		}
	})

	t.Run("object value means enabled", func(t *testing.T) {
		var caps ServerCapabilities
		data := `{"documentSymbolProvider":{"label":"symbols"},"typeDefinitionProvider":{}}`
		if err := json.Unmarshal([]byte(data), &caps); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}

		if !caps.HasDocumentSymbolProvider() {
			t.Error("options object should mean enabled")
		}
		if !caps.HasTypeDefinitionProvider() {
			t.Error("empty options object should mean enabled")
		}
	})

	t.Run("missing means disabled", func(t *testing.T) {
		var caps ServerCapabilities
		if err := json.Unmarshal([]byte(`{}`), &caps); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}

		if caps.HasHoverProvider() || caps.HasDefinitionProvider() ||
			caps.HasTypeDefinitionProvider() || caps.HasReferencesProvider() ||
			caps.HasDocumentSymbolProvider() {
			t.Error("absent providers should all report disabled")
		}
	})
}

func TestSymbolKind_String(t *testing.T) {
	tests := []struct {
		kind     SymbolKind
		expected string
	}{
		{SymbolKindFunction, "function"},
		{SymbolKindMethod, "method"},
		{SymbolKindClass, "class"},
		{SymbolKind(0), "other"},
	}

	for _, tc := range tests {
		if got := tc.kind.String(); got != tc.expected {
			t.Errorf("SymbolKind(%d).String() = %q, want %q", tc.kind, got, tc.expected)
		}
	}
}
