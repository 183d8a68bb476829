package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// ArticleStatus constants: review lifecycle of a curated article.
// The pipeline only ever creates pending_review rows; the review UI
// moves them to approved or rejected.
const (
	ArticleStatusPendingReview = "pending_review"
	ArticleStatusApproved      = "approved"
	ArticleStatusRejected      = "rejected"
)

// ValidArticleStatus reports whether s is a known article status.
func ValidArticleStatus(s string) bool {
	switch s {
	case ArticleStatusPendingReview, ArticleStatusApproved, ArticleStatusRejected:
		return true
	}
	return false
}

// Article is a curated content item staged for review.
// SourceURL is unique per tenant: re-curating a known URL is a no-op.
type Article struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	SourceURL      string          `json:"source_url"`
	Title          string          `json:"title"`
	Content        string          `json:"content"`
	Summary        string          `json:"summary"`
	RelevanceScore float64         `json:"relevance_score"`
	Categories     []string        `json:"categories"`
	Embedding      pgvector.Vector `json:"-"`
	Status         string          `json:"status"`
	PublishedAt    *time.Time      `json:"published_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Source is a tenant-configured content feed.
type Source struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	FeedURL   string    `json:"feed_url"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// TenantSettings override the service-wide curation defaults for one tenant.
// A nil result from GetTenantSettings means the tenant uses the defaults.
type TenantSettings struct {
	TenantID            uuid.UUID `json:"tenant_id"`
	RelevanceThreshold  float64   `json:"relevance_threshold"`
	SimilarityThreshold float64   `json:"similarity_threshold"`
	MaxAgeDays          int       `json:"max_age_days"`
	RecentWindow        int       `json:"recent_window"`
}
