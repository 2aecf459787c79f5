// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func identityRouter() (*gin.Engine, *string) {
	var seen string
	r := gin.New()
	r.Use(Identity())
	r.GET("/ping", func(c *gin.Context) {
		seen = GetUserID(c)
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func doGet(r *gin.Engine, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdentityRequiresHeader(t *testing.T) {
	r, seen := identityRouter()

	w := doGet(r, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, *seen)
}

func TestIdentityExtractsAndTrims(t *testing.T) {
	r, seen := identityRouter()

	w := doGet(r, "  user-42  ")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-42", *seen)
}

func TestIdentityRejectsWhitespaceOnly(t *testing.T) {
	r, _ := identityRouter()

	w := doGet(r, "   ")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIdentityRejectsOversizedHeader(t *testing.T) {
	r, _ := identityRouter()

	w := doGet(r, strings.Repeat("x", maxUserIDLength+1))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetUserIDWithoutMiddleware(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, GetUserID(c))
}

func TestRateLimitEnforcesBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 3})

	r := gin.New()
	r.Use(Identity(), RateLimit(rl))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := doGet(r, "u1")
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}
	w := doGet(r, "u1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitIsPerUser(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})

	r := gin.New()
	r.Use(Identity(), RateLimit(rl))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, doGet(r, "u1").Code)
	assert.Equal(t, http.StatusTooManyRequests, doGet(r, "u1").Code)

	// A different user has a full bucket.
	assert.Equal(t, http.StatusOK, doGet(r, "u2").Code)
}

func TestRateLimitSkipsAnonymousRoutes(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 0})

	r := gin.New()
	r.GET("/healthz", RateLimit(rl), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiterSweepDropsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: 1})

	rl.Allow("u1")
	rl.mu.Lock()
	rl.sweep(rl.buckets["u1"].lastSeen.Add(2))
	_, kept := rl.buckets["u1"]
	rl.mu.Unlock()
	assert.False(t, kept)
}
