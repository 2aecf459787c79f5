// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig sets the per-user token bucket. RequestsPerSecond is
// the refill rate, Burst the bucket depth.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int

	// IdleTTL is how long an inactive user's bucket survives before the
	// sweep discards it. Zero uses the default.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig allows sustained 10 rps with bursts of 30 per
// user, which covers interval sessions arriving back to back.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             30,
		IdleTTL:           10 * time.Minute,
	}
}

type userBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per user id.
//
// # Thread Safety
//
// Safe for concurrent use.
type RateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*userBucket
	swept   time.Time
}

// NewRateLimiter builds a RateLimiter with cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*userBucket),
		swept:   time.Now(),
	}
}

// Allow reports whether userID may proceed now.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.swept) > rl.cfg.IdleTTL {
		rl.sweep(now)
	}

	b, ok := rl.buckets[userID]
	if !ok {
		b = &userBucket{
			limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
		}
		rl.buckets[userID] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

// sweep drops buckets idle past the TTL. Caller holds rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for id, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.cfg.IdleTTL {
			delete(rl.buckets, id)
		}
	}
	rl.swept = now
}

// RateLimit returns middleware enforcing rl per user. Run it after
// Identity so the user id is available.
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := GetUserID(c)
		if userID == "" {
			// Identity did not run on this route; nothing to key on.
			c.Next()
			return
		}
		if !rl.Allow(userID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
