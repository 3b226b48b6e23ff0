package db

import (
	"fmt"

	"gorm.io/gorm"
)

// events is partitioned by month so zone+status+time-range scans stay
// bounded at ingestion-rate scale. EnsureEventsPartition creates the
// partition for any month an upload touches before its batch insert.
var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE TABLE IF NOT EXISTS events (
		id               BIGSERIAL,
		ts               TIMESTAMPTZ NOT NULL,
		zone             TEXT NOT NULL,
		direction        TEXT NOT NULL CHECK (direction IN ('IN','OUT')),
		plate_raw        TEXT NOT NULL,
		plate_norm       TEXT NOT NULL,
		plate_norm_fuzzy TEXT NOT NULL,
		state_raw        TEXT,
		state_norm       TEXT,
		camera_id        TEXT,
		quality          NUMERIC(5,2),
		upload_id        TEXT,
		dedup_key        TEXT NOT NULL,
		status           TEXT NOT NULL CHECK (status IN ('OPEN','PAIRED','ORPHAN_OPEN','ORPHAN_EXPIRED')),
		session_id       BIGINT,
		raw              JSONB,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (id, ts)
	) PARTITION BY RANGE (ts);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_events_zone_dedup ON events(zone, dedup_key, ts);`,
	`CREATE INDEX IF NOT EXISTS idx_events_zone_status_ts ON events(zone, status, ts);`,
	`CREATE INDEX IF NOT EXISTS idx_events_plate_norm ON events(plate_norm);`,
	`CREATE INDEX IF NOT EXISTS idx_events_plate_norm_fuzzy ON events(plate_norm_fuzzy);`,
	`CREATE INDEX IF NOT EXISTS idx_events_upload_id ON events(upload_id);`,
	`CREATE TABLE IF NOT EXISTS events_default PARTITION OF events DEFAULT;`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id               BIGSERIAL PRIMARY KEY,
		zone             TEXT NOT NULL,
		entry_event_id   BIGINT NOT NULL,
		exit_event_id    BIGINT NOT NULL,
		plate_norm       TEXT NOT NULL,
		state_entry      TEXT,
		state_exit       TEXT,
		entry_ts         TIMESTAMPTZ NOT NULL,
		exit_ts          TIMESTAMPTZ NOT NULL,
		duration_minutes BIGINT NOT NULL,
		match_type       TEXT NOT NULL CHECK (match_type IN ('EXACT','STATE_MISMATCH','FUZZY_ACCEPTED')),
		match_method     TEXT,
		confidence       NUMERIC(5,4),
		billing_cents    BIGINT NOT NULL DEFAULT 0,
		flags            JSONB,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (entry_ts < exit_ts)
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_sessions_entry_event ON sessions(entry_event_id);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_sessions_exit_event ON sessions(exit_event_id);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_zone_entry_ts ON sessions(zone, entry_ts);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_match_type ON sessions(match_type);`,
	`CREATE TABLE IF NOT EXISTS uploads (
		id             TEXT PRIMARY KEY,
		status         TEXT NOT NULL,
		rows_claimed   INT NOT NULL DEFAULT 0,
		rows_loaded    INT NOT NULL DEFAULT 0,
		rows_duplicate INT NOT NULL DEFAULT 0,
		rows_errored   INT NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at   TIMESTAMPTZ
	);`,
	`CREATE TABLE IF NOT EXISTS zone_config (
		zone_id            TEXT PRIMARY KEY,
		horizon_days       INT NOT NULL DEFAULT 7,
		fuzzy_threshold    NUMERIC(5,4) NOT NULL DEFAULT 0.95,
		review_below_score NUMERIC(5,4) NOT NULL DEFAULT 0.97,
		max_stay_hours     INT NOT NULL DEFAULT 24,
		billing            JSONB,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
}

func RunMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// EnsureEventsPartition creates the monthly events partition covering
// the given month, if missing.
func EnsureEventsPartition(db *gorm.DB, year int, month int) error {
	name := fmt.Sprintf("events_%04d_%02d", year, month)
	from := fmt.Sprintf("%04d-%02d-01", year, month)
	nextYear, nextMonth := year, month+1
	if nextMonth > 12 {
		nextYear, nextMonth = year+1, 1
	}
	to := fmt.Sprintf("%04d-%02d-01", nextYear, nextMonth)
	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF events FOR VALUES FROM ('%s') TO ('%s');`,
		name, from, to,
	)
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("ensure partition %s: %w", name, err)
	}
	return nil
}
