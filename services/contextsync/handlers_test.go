// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contextsync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/star-lance/nvim-hoverfloat/services/contextsync/config"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Display.SocketPath = filepath.Join(dir, "display.sock")
	cfg.Events.SocketPath = filepath.Join(dir, "events.sock")

	svc, err := NewService(cfg, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestHandlers_HandleHealth(t *testing.T) {
	svc := newTestService(t)
	router := svc.Router()

	req, _ := http.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestHandlers_HandleStatus(t *testing.T) {
	svc := newTestService(t)
	router := svc.Router()

	req, _ := http.NewRequest("GET", "/v1/contextsync/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp["session_id"] != svc.SessionID() {
		t.Errorf("session_id = %v, want %v", resp["session_id"], svc.SessionID())
	}
	if _, ok := resp["cache"]; !ok {
		t.Error("response missing cache section")
	}
	if _, ok := resp["display"]; !ok {
		t.Error("response missing display section")
	}
	// Prefetch is on by default, so the section must be present.
	if _, ok := resp["prefetch"]; !ok {
		t.Error("response missing prefetch section")
	}
	if _, ok := resp["display_terminal_error"]; ok {
		t.Error("terminal error should be absent on a fresh service")
	}
}

func TestHandlers_HandleBuffers(t *testing.T) {
	svc := newTestService(t)
	router := svc.Router()

	svc.registry.Open("/src/main.go", 3)
	svc.registry.SetViewport("/src/main.go", 10, 60)
	svc.registry.SetCursorLine("/src/main.go", 25)

	req, _ := http.NewRequest("GET", "/v1/contextsync/buffers", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp struct {
		Buffers []struct {
			Path       string `json:"path"`
			Version    int64  `json:"version"`
			CursorLine int    `json:"cursor_line"`
			Viewport   struct {
				Top    int `json:"top"`
				Bottom int `json:"bottom"`
			} `json:"viewport"`
		} `json:"buffers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if len(resp.Buffers) != 1 {
		t.Fatalf("expected 1 buffer, got %d", len(resp.Buffers))
	}
	b := resp.Buffers[0]
	if b.Path != "/src/main.go" || b.Version != 3 || b.CursorLine != 25 {
		t.Errorf("buffer = %+v", b)
	}
	if b.Viewport.Top != 10 || b.Viewport.Bottom != 60 {
		t.Errorf("viewport = %+v", b.Viewport)
	}
}

func TestHandlers_MetricsEndpoint(t *testing.T) {
	svc := newTestService(t)
	router := svc.Router()

	req, _ := http.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}
