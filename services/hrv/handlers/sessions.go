// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers exposes the HRV engine over HTTP. Handlers translate
// engine outcomes to status codes and keep no state of their own.
//
// # Status Mapping
//
//   - validation rejection: 422 with the full report
//   - event-group conflict: 409 with the allocator reason
//   - duplicate submission: 200 with the stored record
//   - successful creation:  201
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hrvbrain/hrvbrain/services/hrv/allocator"
	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
	"github.com/hrvbrain/hrvbrain/services/hrv/engine"
	"github.com/hrvbrain/hrvbrain/services/hrv/middleware"
	"github.com/hrvbrain/hrvbrain/services/hrv/storage"
	"github.com/hrvbrain/hrvbrain/services/hrv/validation"
)

// SubmitSession handles POST /api/v1/sessions.
func SubmitSession(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var payload datatypes.SubmitPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			// Structural failures (malformed JSON, wrong types) never
			// reach the validator; shape them like its reports so
			// clients have one error format to parse.
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"status": "rejected",
				"validation": validation.Report{
					Errors: []validation.Issue{{
						Field:   "body",
						Code:    validation.CodeInvalidField,
						Message: err.Error(),
					}},
				},
			})
			return
		}

		result, err := e.Submit(c.Request.Context(), userID, payload)
		if err != nil {
			var verr *engine.ValidationError
			switch {
			case errors.As(err, &verr):
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"status":     "rejected",
					"validation": verr.Report,
				})
			case errors.Is(err, allocator.ErrIntervalTaken):
				conflict(c, "interval_taken", err)
			case errors.Is(err, allocator.ErrOutOfOrderInterval):
				conflict(c, "out_of_order_interval", err)
			case errors.Is(err, allocator.ErrNoOpenGroup):
				conflict(c, "no_open_group", err)
			default:
				slog.Error("submission failed", "user_id", userID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "submission failed"})
			}
			return
		}

		if result.Duplicate {
			c.JSON(http.StatusOK, gin.H{
				"status":  "duplicate",
				"session": result.Session,
			})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"status":     "created",
			"session":    result.Session,
			"validation": result.Report,
		})
	}
}

func conflict(c *gin.Context, reason string, err error) {
	c.JSON(http.StatusConflict, gin.H{
		"error":  err.Error(),
		"reason": reason,
	})
}

// GetSession handles GET /api/v1/sessions/:sessionId.
func GetSession(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		sessionID := c.Param("sessionId")

		sess, err := e.Get(c.Request.Context(), userID, sessionID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			slog.Error("session lookup failed", "user_id", userID, "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// ListSessions handles GET /api/v1/sessions with optional tag, limit and
// offset query parameters.
func ListSessions(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var q storage.ListQuery
		if raw := c.Query("tag"); raw != "" {
			tag, err := datatypes.ParseTag(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "tag must be one of A, B, C, D"})
				return
			}
			q.Tag = &tag
		}
		var err error
		if q.Limit, err = intQuery(c, "limit", 0); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		if q.Offset, err = intQuery(c, "offset", 0); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return
		}

		sessions, err := e.List(c.Request.Context(), userID, q)
		if err != nil {
			slog.Error("session list failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessions": sessions,
			"count":    len(sessions),
		})
	}
}

// DeleteSession handles DELETE /api/v1/sessions/:sessionId.
func DeleteSession(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		sessionID := c.Param("sessionId")

		if err := e.Delete(c.Request.Context(), userID, sessionID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			slog.Error("session delete failed", "user_id", userID, "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":             "deleted",
			"deleted_session_id": sessionID,
		})
	}
}

// SessionStatistics handles GET /api/v1/sessions/statistics.
func SessionStatistics(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		stats, err := e.Stats(c.Request.Context(), userID)
		if err != nil {
			slog.Error("statistics failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "statistics failed"})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// intQuery parses a non-negative integer query parameter.
func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}
