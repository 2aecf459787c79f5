// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, BackendBadger, cfg.Backend)
	assert.Equal(t, "./data/hrv", cfg.BadgerDir)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 5.0, cfg.Duration.ToleranceSeconds)
	assert.Equal(t, 10.0, cfg.RateLimit.RequestsPerSecond)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HRV_LISTEN_ADDR", ":9090")
	t.Setenv("HRV_STORE", "postgres")
	t.Setenv("HRV_POSTGRES_HOST", "db.internal")
	t.Setenv("HRV_POSTGRES_PORT", "5433")
	t.Setenv("HRV_DURATION_TOLERANCE_SECONDS", "2.5")
	t.Setenv("HRV_RATE_LIMIT_BURST", "5")
	t.Setenv("HRV_LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, "5433", cfg.Postgres.Port)
	assert.Equal(t, 2.5, cfg.Duration.ToleranceSeconds)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("HRV_RATE_LIMIT_BURST", "not-a-number")
	t.Setenv("HRV_DURATION_TOLERANCE_SECONDS", "2x")

	cfg := Load()
	assert.Equal(t, 30, cfg.RateLimit.Burst)
	assert.Equal(t, 5.0, cfg.Duration.ToleranceSeconds)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg := Load()
	cfg.Backend = "cassandra"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingBadgerDir(t *testing.T) {
	cfg := Load()
	cfg.BadgerDir = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsIncompletePostgres(t *testing.T) {
	cfg := Load()
	cfg.Backend = BackendPostgres
	cfg.Postgres.Host = ""
	assert.Error(t, cfg.Validate())
}

func TestDSNRendering(t *testing.T) {
	t.Setenv("HRV_POSTGRES_HOST", "db")
	t.Setenv("HRV_POSTGRES_PASSWORD", "secret")

	cfg := Load()
	assert.Contains(t, cfg.Postgres.DSN(), "host=db")
	assert.Contains(t, cfg.Postgres.DSN(), "password=secret")
}
