// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rngd

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the rngd endpoints on router.
//
// Routes:
//
//	GET  /health
//	GET  /metrics                 (when the server's Metrics export to Prometheus)
//	GET  /v1/random/bytes?n=
//	GET  /v1/random/uint64
//	GET  /v1/random/double
//	GET  /v1/random/range32?min=&max=
//	GET  /v1/random/range64?min=&max=
//	GET  /v1/random/stream?chunk=&count=
//	POST /v1/entangle
//	POST /v1/measure
//	GET  /v1/entropy
func RegisterRoutes(router *gin.Engine, h *Handlers) {
	router.GET("/health", h.HandleHealth)
	if handler := h.server.metrics.Handler(); handler != nil {
		router.GET("/metrics", gin.WrapH(handler))
	}

	v1 := router.Group("/v1")
	v1.Use(rateLimit(h.server.limiter))
	v1.Use(limitBody(h.server.cfg.BodyLimit()))
	{
		random := v1.Group("/random")
		random.GET("/bytes", h.HandleBytes)
		random.GET("/uint64", h.HandleUint64)
		random.GET("/double", h.HandleDouble)
		random.GET("/range32", h.HandleRange32)
		random.GET("/range64", h.HandleRange64)
		random.GET("/stream", h.HandleStream)

		v1.POST("/entangle", h.HandleEntangle)
		v1.POST("/measure", h.HandleMeasure)
		v1.GET("/entropy", h.HandleEntropy)
	}
}
