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
	"testing"

	"github.com/star-lance/nvim-hoverfloat/services/contextsync/gateway"
)

func TestMapCapabilityError(t *testing.T) {
	t.Run("method not found becomes unsupported", func(t *testing.T) {
		err := mapCapabilityError(&LSPError{Code: -32601, Message: "method not found"})
		if !errors.Is(err, gateway.ErrUnsupported) {
			t.Errorf("expected gateway.ErrUnsupported, got %v", err)
		}
	})

	t.Run("wrapped method not found", func(t *testing.T) {
		wrapped := fmt.Errorf("hover: %w", &LSPError{Code: -32601, Message: "no"})
		if !errors.Is(mapCapabilityError(wrapped), gateway.ErrUnsupported) {
			t.Error("wrapped -32601 should map to gateway.ErrUnsupported")
		}
	})

	t.Run("other lsp errors pass through", func(t *testing.T) {
		orig := &LSPError{Code: -32050, Message: "busy"}
		if got := mapCapabilityError(orig); got != error(orig) {
			t.Errorf("expected passthrough, got %v", got)
		}
	})

	t.Run("plain errors pass through", func(t *testing.T) {
		orig := errors.New("boom")
		if got := mapCapabilityError(orig); got != orig {
			t.Errorf("expected passthrough, got %v", got)
		}
	})
}

func TestLocationToInfo(t *testing.T) {
	loc := Location{
		URI: "file:///project/main.go",
		Range: Range{
			Start: Position{Line: 9, Character: 4},
			End:   Position{Line: 9, Character: 10},
		},
	}

	info := locationToInfo(loc)

	if info.File != "/project/main.go" {
		t.Errorf("File = %q", info.File)
	}
	// LSP positions are zero-based; editors count from one.
	if info.Line != 10 {
		t.Errorf("Line = %d, want 10", info.Line)
	}
	if info.Col != 5 {
		t.Errorf("Col = %d, want 5", info.Col)
	}
}

func TestClient_HoverMissingFile(t *testing.T) {
	mgr := NewManager(t.TempDir(), DefaultManagerConfig())
	defer mgr.ShutdownAll(context.Background())

	client := NewClient(NewOperations(mgr))

	_, err := client.Hover(context.Background(), "/does/not/exist.go", 1, 1)
	if err == nil {
		t.Error("expected error for unreadable file")
	}
}

func TestClient_CapabilitiesUnknownLanguage(t *testing.T) {
	mgr := NewManager(t.TempDir(), DefaultManagerConfig())
	defer mgr.ShutdownAll(context.Background())

	client := NewClient(NewOperations(mgr))

	_, err := client.Capabilities(context.Background(), "/test.unknown")
	if !errors.Is(err, gateway.ErrNoClient) {
		t.Errorf("expected gateway.ErrNoClient, got %v", err)
	}
}

func TestClient_ForgetFileWithoutOpen(t *testing.T) {
	mgr := NewManager(t.TempDir(), DefaultManagerConfig())
	defer mgr.ShutdownAll(context.Background())

	client := NewClient(NewOperations(mgr))

	// Must not panic or spawn anything.
	client.ForgetFile(context.Background(), "/test.go")
	if len(mgr.RunningServers()) != 0 {
		t.Error("ForgetFile must not spawn a server")
	}
}
