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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handlers holds the HTTP handlers for the operational surface.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers backed by the service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleHealth is a liveness check.
//
// GET /healthz
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleStatus returns a point-in-time view of the pipeline.
//
// GET /v1/contextsync/status
func (h *Handlers) HandleStatus(c *gin.Context) {
	s := h.svc

	s.mu.Lock()
	terminal := s.terminal
	s.mu.Unlock()

	received, dropped := s.listener.Counts()
	cacheStats := s.store.Stats()

	resp := gin.H{
		"session_id":     s.sessionID,
		"started_at":     s.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"display":        s.display.GetStats(),
		"cache": gin.H{
			"entries":   cacheStats.Entries,
			"hits":      cacheStats.Hits,
			"misses":    cacheStats.Misses,
			"evictions": cacheStats.Evictions,
		},
		"buffers": gin.H{
			"tracked": s.registry.Len(),
			"paths":   s.registry.Paths(),
		},
		"events": gin.H{
			"received": received,
			"dropped":  dropped,
		},
		"lsp": gin.H{
			"root_path": s.manager.RootPath(),
			"running":   s.manager.RunningServers(),
		},
	}
	if s.scheduler != nil {
		resp["prefetch"] = gin.H{
			"queue":   s.scheduler.QueueLen(),
			"running": s.scheduler.Running(),
		}
	}
	if terminal != nil {
		resp["display_terminal_error"] = terminal.Error()
	}

	c.JSON(http.StatusOK, resp)
}

// HandleBuffers returns the tracked buffer states.
//
// GET /v1/contextsync/buffers
func (h *Handlers) HandleBuffers(c *gin.Context) {
	s := h.svc

	buffers := make([]gin.H, 0, s.registry.Len())
	for _, path := range s.registry.Paths() {
		st, ok := s.registry.Get(path)
		if !ok {
			continue
		}
		buffers = append(buffers, gin.H{
			"path":        st.Path,
			"version":     st.Version,
			"cursor_line": st.CursorLine,
			"viewport": gin.H{
				"top":    st.Viewport.Top,
				"bottom": st.Viewport.Bottom,
			},
			"opened_at": st.OpenedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"buffers": buffers})
}
