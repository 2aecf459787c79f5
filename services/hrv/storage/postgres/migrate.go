// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package postgres

import (
	"fmt"
	"log/slog"
)

// constraintDDL holds the invariants the schema enforces on its own,
// independent of application code. The partial unique index is the
// storage-level guarantee behind event-group slot uniqueness; the CHECK
// constraints reject rows that no validated session can produce.
var constraintDDL = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_user_group_interval
	   ON hrv_sessions (user_id, group_id, interval_number)
	   WHERE tag = 'C'`,

	`ALTER TABLE hrv_sessions DROP CONSTRAINT IF EXISTS ck_sessions_tag`,
	`ALTER TABLE hrv_sessions ADD CONSTRAINT ck_sessions_tag
	   CHECK (tag IN ('A', 'B', 'C', 'D'))`,

	`ALTER TABLE hrv_sessions DROP CONSTRAINT IF EXISTS ck_sessions_status`,
	`ALTER TABLE hrv_sessions ADD CONSTRAINT ck_sessions_status
	   CHECK (status IN ('received', 'processed', 'failed'))`,

	`ALTER TABLE hrv_sessions DROP CONSTRAINT IF EXISTS ck_sessions_duration`,
	`ALTER TABLE hrv_sessions ADD CONSTRAINT ck_sessions_duration
	   CHECK (duration_minutes > 0)`,

	`ALTER TABLE hrv_sessions DROP CONSTRAINT IF EXISTS ck_sessions_rr_count`,
	`ALTER TABLE hrv_sessions ADD CONSTRAINT ck_sessions_rr_count
	   CHECK (rr_count > 0)`,

	`ALTER TABLE hrv_sessions DROP CONSTRAINT IF EXISTS ck_sessions_group`,
	`ALTER TABLE hrv_sessions ADD CONSTRAINT ck_sessions_group
	   CHECK ((tag = 'C' AND group_id >= 1 AND interval_number >= 1)
	       OR (tag <> 'C' AND group_id = 0 AND interval_number = 0))`,

	`ALTER TABLE hrv_group_counters DROP CONSTRAINT IF EXISTS ck_counters_monotonic`,
	`ALTER TABLE hrv_group_counters ADD CONSTRAINT ck_counters_monotonic
	   CHECK (last_group_id >= 0 AND latest_group >= 0 AND latest_max_interval >= 0)`,
}

// Migrate creates or updates the schema: GORM auto-migration for the
// tables, then raw DDL for the constraints GORM cannot express.
func (s *Store) Migrate(log *slog.Logger) error {
	if err := s.db.AutoMigrate(&sessionRow{}, &groupCounterRow{}); err != nil {
		return fmt.Errorf("auto-migrate tables: %w", err)
	}
	for _, ddl := range constraintDDL {
		if err := s.db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("apply constraint DDL: %w", err)
		}
	}
	if log != nil {
		log.Info("schema migrated",
			slog.String("tables", "hrv_sessions, hrv_group_counters"),
			slog.Int("constraints", len(constraintDDL)))
	}
	return nil
}

// ValidateSchema verifies the expected tables and the slot index exist.
func (s *Store) ValidateSchema() error {
	for _, table := range []string{"hrv_sessions", "hrv_group_counters"} {
		if !s.db.Migrator().HasTable(table) {
			return fmt.Errorf("missing table %s", table)
		}
	}
	var count int64
	err := s.db.Raw(
		`SELECT count(*) FROM pg_indexes WHERE indexname = 'ux_user_group_interval'`).
		Scan(&count).Error
	if err != nil {
		return fmt.Errorf("check slot index: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("missing index ux_user_group_interval")
	}
	return nil
}

// Reset drops both tables. Destructive; used by hrvctl db reset only.
func (s *Store) Reset() error {
	if err := s.db.Migrator().DropTable(&sessionRow{}, &groupCounterRow{}); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return nil
}
