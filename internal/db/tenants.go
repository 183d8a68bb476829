package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetTenantSettings retrieves a tenant's curation overrides.
// Returns (nil, nil) if the tenant has none; callers fall back to the
// configured defaults.
func (db *DB) GetTenantSettings(ctx context.Context, tenantID uuid.UUID) (*TenantSettings, error) {
	var ts TenantSettings
	err := db.pool.QueryRow(ctx,
		`SELECT tenant_id, relevance_threshold, similarity_threshold, max_age_days, recent_window
		 FROM tenant_settings WHERE tenant_id = $1`,
		tenantID,
	).Scan(&ts.TenantID, &ts.RelevanceThreshold, &ts.SimilarityThreshold,
		&ts.MaxAgeDays, &ts.RecentWindow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tenant settings: %w", err)
	}
	return &ts, nil
}

// UpsertTenantSettings creates or replaces a tenant's curation overrides.
func (db *DB) UpsertTenantSettings(ctx context.Context, ts *TenantSettings) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO tenant_settings (tenant_id, relevance_threshold, similarity_threshold, max_age_days, recent_window)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   relevance_threshold = EXCLUDED.relevance_threshold,
		   similarity_threshold = EXCLUDED.similarity_threshold,
		   max_age_days = EXCLUDED.max_age_days,
		   recent_window = EXCLUDED.recent_window`,
		ts.TenantID, ts.RelevanceThreshold, ts.SimilarityThreshold,
		ts.MaxAgeDays, ts.RecentWindow,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant settings: %w", err)
	}
	return nil
}
