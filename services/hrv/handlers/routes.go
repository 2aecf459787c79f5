// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrvbrain/hrvbrain/services/hrv/engine"
	"github.com/hrvbrain/hrvbrain/services/hrv/middleware"
)

// SetupRoutes registers every route on router. Data routes sit behind
// identity extraction and per-user rate limiting; probes and metrics do
// not.
func SetupRoutes(router *gin.Engine, e *engine.Engine, limiter *middleware.RateLimiter) {
	router.GET("/healthz", Healthz)
	router.GET("/readyz", Readyz(e))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Identity(), middleware.RateLimit(limiter))
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", SubmitSession(e))
			sessions.GET("", ListSessions(e))
			// Registered before /:sessionId so the literal wins.
			sessions.GET("/statistics", SessionStatistics(e))
			sessions.GET("/:sessionId", GetSession(e))
			sessions.DELETE("/:sessionId", DeleteSession(e))
		}

		analytics := v1.Group("/analytics")
		{
			analytics.GET("/baseline", BaselineReport(e))
		}
	}
}
