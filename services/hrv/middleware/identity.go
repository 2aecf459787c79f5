// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides the HTTP middleware for the HRV API:
// caller identity extraction and per-user rate limiting.
//
// # Identity
//
// Every data route requires an X-User-ID header. The gateway in front of
// this service resolves real credentials to that header; this service
// only partitions data by it. Requests without one are rejected with 401
// before any handler runs.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// userIDKey is the gin context key the resolved user id is stored under.
// A typed constant keeps handlers and middleware agreeing on one name.
const userIDKey = "hrvbrain_user_id"

// UserIDHeader is the request header carrying the caller identity.
const UserIDHeader = "X-User-ID"

// maxUserIDLength bounds the header so storage keys stay sane.
const maxUserIDLength = 128

// SetUserID stores the caller identity in the gin context. Exposed for
// handler tests that bypass the middleware.
func SetUserID(c *gin.Context, userID string) {
	c.Set(userIDKey, userID)
}

// GetUserID retrieves the caller identity set by Identity. Returns ""
// when the middleware did not run.
func GetUserID(c *gin.Context) string {
	if v, exists := c.Get(userIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// Identity returns middleware that requires and extracts the X-User-ID
// header. The value is trimmed; empty or oversized values are rejected.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing " + UserIDHeader + " header",
			})
			return
		}
		if len(userID) > maxUserIDLength {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": fmt.Sprintf("%s exceeds %d characters", UserIDHeader, maxUserIDLength),
			})
			return
		}
		SetUserID(c, userID)
		c.Next()
	}
}
