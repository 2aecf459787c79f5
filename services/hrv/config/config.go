// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads service configuration from the environment.
// Every knob has a default that works for local development with the
// embedded store; production deployments override via HRV_* variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/hrvbrain/hrvbrain/services/hrv/middleware"
	"github.com/hrvbrain/hrvbrain/services/hrv/storage/postgres"
	"github.com/hrvbrain/hrvbrain/services/hrv/validation"
)

// Backend names accepted in HRV_STORE.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string

	// Backend selects the storage implementation: badger or postgres.
	Backend string

	// BadgerDir is the data directory for the embedded store. Ignored
	// when Backend is postgres.
	BadgerDir string

	// Postgres carries the relational backend settings. Ignored when
	// Backend is badger.
	Postgres postgres.Config

	// OTLPEndpoint enables trace export when non-empty
	// (host:port of an OTLP gRPC collector).
	OTLPEndpoint string

	Duration  validation.DurationPolicy
	RateLimit middleware.RateLimitConfig

	// LogLevel is one of debug, info, warn, error.
	LogLevel slog.Level
}

// Load reads the configuration from the environment.
func Load() Config {
	pg := postgres.Config{
		Host:            getEnvString("HRV_POSTGRES_HOST", "localhost"),
		Port:            getEnvString("HRV_POSTGRES_PORT", "5432"),
		User:            getEnvString("HRV_POSTGRES_USER", "hrvbrain"),
		Password:        getEnvString("HRV_POSTGRES_PASSWORD", ""),
		DBName:          getEnvString("HRV_POSTGRES_DB", "hrvbrain"),
		SSLMode:         getEnvString("HRV_POSTGRES_SSLMODE", "disable"),
		MaxOpenConns:    getEnvInt("HRV_POSTGRES_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("HRV_POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: 30 * time.Minute,
	}

	policy := validation.DefaultDurationPolicy()
	policy.ToleranceSeconds = getEnvFloat("HRV_DURATION_TOLERANCE_SECONDS", policy.ToleranceSeconds)
	policy.SlackSeconds = getEnvFloat("HRV_DURATION_SLACK_SECONDS", policy.SlackSeconds)
	policy.SlackFraction = getEnvFloat("HRV_DURATION_SLACK_FRACTION", policy.SlackFraction)

	limits := middleware.DefaultRateLimitConfig()
	limits.RequestsPerSecond = getEnvFloat("HRV_RATE_LIMIT_RPS", limits.RequestsPerSecond)
	limits.Burst = getEnvInt("HRV_RATE_LIMIT_BURST", limits.Burst)

	return Config{
		ListenAddr:   getEnvString("HRV_LISTEN_ADDR", ":8080"),
		Backend:      getEnvString("HRV_STORE", BackendBadger),
		BadgerDir:    getEnvString("HRV_BADGER_DIR", "./data/hrv"),
		Postgres:     pg,
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Duration:     policy,
		RateLimit:    limits,
		LogLevel:     parseLogLevel(getEnvString("HRV_LOG_LEVEL", "info")),
	}
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendBadger:
		if c.BadgerDir == "" {
			return fmt.Errorf("HRV_BADGER_DIR must be set for the badger backend")
		}
	case BackendPostgres:
		if c.Postgres.Host == "" || c.Postgres.DBName == "" {
			return fmt.Errorf("HRV_POSTGRES_HOST and HRV_POSTGRES_DB must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("HRV_STORE must be %q or %q, got %q", BackendBadger, BackendPostgres, c.Backend)
	}
	if c.Duration.ToleranceSeconds <= 0 {
		return fmt.Errorf("HRV_DURATION_TOLERANCE_SECONDS must be positive")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnvString returns the environment variable or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
