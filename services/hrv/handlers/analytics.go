// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hrvbrain/hrvbrain/services/hrv/analytics"
	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
	"github.com/hrvbrain/hrvbrain/services/hrv/engine"
	"github.com/hrvbrain/hrvbrain/services/hrv/middleware"
)

// BaselineReport handles GET /api/v1/analytics/baseline.
//
// Query parameters: tag (default C), metrics (comma-separated, default
// rmssd,sdnn,sd2_sd1,mean_hr), m (fixed baseline points), n (rolling
// window), max_sessions. Out-of-range numeric parameters are clamped,
// not rejected; unknown tags and metrics are rejected with 400.
func BaselineReport(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var p analytics.Params
		if raw := c.Query("tag"); raw != "" {
			tag, err := datatypes.ParseTag(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "tag must be one of A, B, C, D"})
				return
			}
			p.Tag = tag
		}
		if raw := c.Query("metrics"); raw != "" {
			for _, name := range strings.Split(raw, ",") {
				m, err := datatypes.ParseMetric(strings.TrimSpace(name))
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "unknown metric " + name})
					return
				}
				p.Metrics = append(p.Metrics, m)
			}
		}
		var err error
		if p.FixedPoints, err = intQuery(c, "m", 0); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "m must be a non-negative integer"})
			return
		}
		if p.RollingWindow, err = intQuery(c, "n", 0); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a non-negative integer"})
			return
		}
		if p.MaxSessions, err = intQuery(c, "max_sessions", 0); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_sessions must be a non-negative integer"})
			return
		}

		report, err := e.Baseline(c.Request.Context(), userID, p)
		if err != nil {
			slog.Error("baseline report failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "baseline computation failed"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
