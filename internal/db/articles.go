package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const articleColumns = `id, tenant_id, source_url, title, content, summary,
	relevance_score, categories, embedding, status, published_at, created_at`

func scanArticle(row pgx.Row) (*Article, error) {
	var a Article
	err := row.Scan(&a.ID, &a.TenantID, &a.SourceURL, &a.Title, &a.Content,
		&a.Summary, &a.RelevanceScore, &a.Categories, &a.Embedding,
		&a.Status, &a.PublishedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateArticle inserts a curated article in pending_review status. The
// per-tenant unique constraint on source_url turns a concurrent duplicate
// insert into a no-op; the returned bool reports whether a row was created.
func (db *DB) CreateArticle(ctx context.Context, a *Article) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO articles (tenant_id, source_url, title, content, summary,
		                       relevance_score, categories, embedding, status, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending_review', $9)
		 ON CONFLICT (tenant_id, source_url) DO NOTHING`,
		a.TenantID, a.SourceURL, a.Title, a.Content, a.Summary,
		a.RelevanceScore, a.Categories, a.Embedding, a.PublishedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create article: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ArticleExistsByURL reports whether the tenant already has an article with
// the given source URL, regardless of review status.
func (db *DB) ArticleExistsByURL(ctx context.Context, tenantID uuid.UUID, sourceURL string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM articles WHERE tenant_id = $1 AND source_url = $2)`,
		tenantID, sourceURL,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check article url: %w", err)
	}
	return exists, nil
}

// RecentEmbeddings returns the embeddings of the tenant's most recent
// articles, newest first, capped at limit. Rows without an embedding are
// skipped. This is the comparison window for semantic dedup.
func (db *DB) RecentEmbeddings(ctx context.Context, tenantID uuid.UUID, limit int) ([]pgvector.Vector, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT embedding FROM articles
		 WHERE tenant_id = $1 AND embedding IS NOT NULL
		 ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent embeddings: %w", err)
	}
	defer rows.Close()

	var vecs []pgvector.Vector
	for rows.Next() {
		var v pgvector.Vector
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		vecs = append(vecs, v)
	}
	return vecs, rows.Err()
}

// GetArticle retrieves an article by ID. Returns (nil, nil) if not found.
func (db *DB) GetArticle(ctx context.Context, articleID uuid.UUID) (*Article, error) {
	a, err := scanArticle(db.pool.QueryRow(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1`, articleID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return a, nil
}

// ListArticles retrieves a tenant's articles, optionally filtered by review
// status, newest first.
func (db *DB) ListArticles(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + articleColumns + ` FROM articles WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article row: %w", err)
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

// UpdateArticleStatus moves an article between review states. Returns false
// if the article does not exist.
func (db *DB) UpdateArticleStatus(ctx context.Context, articleID uuid.UUID, status string) (bool, error) {
	if !ValidArticleStatus(status) {
		return false, fmt.Errorf("invalid article status %q", status)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE articles SET status = $2 WHERE id = $1`, articleID, status,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update article status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
