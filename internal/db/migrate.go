package db

import (
	"context"
	"fmt"
)

// Migrate creates the schema if it does not exist. Statements are idempotent
// so this runs safely on every startup.
//
// The partial unique index jobs_one_active_per_tenant_type enforces the
// single-flight guarantee: at most one pending or running job per
// (tenant_id, job_type). Article URL dedup rests on the
// (tenant_id, source_url) unique constraint.
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS jobs (
			id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id        UUID NOT NULL,
			job_type         TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'pending',
			progress_percent INTEGER NOT NULL DEFAULT 0,
			current_stage    TEXT NOT NULL DEFAULT '',
			params           JSONB NOT NULL DEFAULT '{}',
			result           JSONB,
			error_message    TEXT,
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			started_at       TIMESTAMPTZ,
			completed_at     TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS jobs_one_active_per_tenant_type
			ON jobs (tenant_id, job_type)
			WHERE status IN ('pending', 'running')`,
		`CREATE INDEX IF NOT EXISTS jobs_tenant_created_idx
			ON jobs (tenant_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS sources (
			id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id  UUID NOT NULL,
			name       TEXT NOT NULL,
			feed_url   TEXT NOT NULL,
			active     BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS sources_tenant_idx ON sources (tenant_id)`,

		`CREATE TABLE IF NOT EXISTS articles (
			id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id       UUID NOT NULL,
			source_url      TEXT NOT NULL,
			title           TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			summary         TEXT NOT NULL DEFAULT '',
			relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			categories      TEXT[] NOT NULL DEFAULT '{}',
			embedding       vector(768),
			status          TEXT NOT NULL DEFAULT 'pending_review',
			published_at    TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, source_url)
		)`,
		`CREATE INDEX IF NOT EXISTS articles_tenant_status_idx
			ON articles (tenant_id, status, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS tenant_settings (
			tenant_id            UUID PRIMARY KEY,
			relevance_threshold  DOUBLE PRECISION NOT NULL DEFAULT 0,
			similarity_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_age_days         INTEGER NOT NULL DEFAULT 0,
			recent_window        INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
