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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the operational HTTP surface.
//
// Endpoints:
//
//	GET /healthz - Liveness check
//	GET /metrics - Prometheus metrics
//	GET /v1/contextsync/status - Pipeline snapshot
//	GET /v1/contextsync/buffers - Tracked buffer states
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handlers := NewHandlers(s)

	router.GET("/healthz", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		s.promRegistry, promhttp.HandlerOpts{},
	)))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	return router
}

// RegisterRoutes registers the /contextsync routes on the group.
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cs := rg.Group("/contextsync")
	{
		cs.GET("/status", handlers.HandleStatus)
		cs.GET("/buffers", handlers.HandleBuffers)
	}
}
