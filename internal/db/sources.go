package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sourceColumns = `id, tenant_id, name, feed_url, active, created_at`

func scanSource(row pgx.Row) (*Source, error) {
	var s Source
	err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.FeedURL, &s.Active, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSource registers a feed source for a tenant.
func (db *DB) CreateSource(ctx context.Context, tenantID uuid.UUID, name, feedURL string) (*Source, error) {
	s, err := scanSource(db.pool.QueryRow(ctx,
		`INSERT INTO sources (tenant_id, name, feed_url)
		 VALUES ($1, $2, $3)
		 RETURNING `+sourceColumns,
		tenantID, name, feedURL,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}
	return s, nil
}

// GetSource retrieves a source by ID. Returns (nil, nil) if not found.
func (db *DB) GetSource(ctx context.Context, sourceID uuid.UUID) (*Source, error) {
	s, err := scanSource(db.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, sourceID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return s, nil
}

// ListSources returns all of a tenant's sources, active or not.
func (db *DB) ListSources(ctx context.Context, tenantID uuid.UUID) ([]Source, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM sources
		 WHERE tenant_id = $1 ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *s)
	}
	return sources, rows.Err()
}

// ActiveSources returns the tenant's active sources. When ids is non-empty
// only active sources from that subset are returned; unknown or inactive
// IDs are silently dropped.
func (db *DB) ActiveSources(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources
		 WHERE tenant_id = $1 AND active = TRUE`
	args := []any{tenantID}
	if len(ids) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, ids)
	}
	query += ` ORDER BY created_at`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *s)
	}
	return sources, rows.Err()
}

// SetSourceActive toggles a source. Returns false if the source does not exist.
func (db *DB) SetSourceActive(ctx context.Context, sourceID uuid.UUID, active bool) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE sources SET active = $2 WHERE id = $1`, sourceID, active,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update source: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteSource removes a source. Returns false if the source does not exist.
func (db *DB) DeleteSource(ctx context.Context, sourceID uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM sources WHERE id = $1`, sourceID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete source: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
