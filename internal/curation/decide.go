package curation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/jonathan/newsletter-curator/internal/db"
	"github.com/jonathan/newsletter-curator/internal/feeds"
	"github.com/jonathan/newsletter-curator/internal/llm"
)

const (
	// neutralScore is assigned when scoring fails after all retries.
	// A neutral default below the standard threshold means unscorable items
	// are rejected rather than silently published.
	neutralScore = 5.0

	scoreRetryBackoff = 250 * time.Millisecond

	// fallbackSummaryLen bounds the content excerpt used when
	// summarization fails.
	fallbackSummaryLen = 280
)

var fallbackCategories = []string{"general"}

// decide runs the full per-item decision: URL dedup, semantic dedup,
// scoring, enrichment, and persistence. It updates result counts and, when
// the item is accepted, appends its embedding to the in-run comparison
// window so near-identical items from the same run dedup against each other.
// Returns whether the item was curated.
func (p *Pipeline) decide(ctx context.Context, tenantID uuid.UUID, item feeds.Item, settings runSettings, recent *[][]float32, result *Result) bool {
	exists, err := p.store.ArticleExistsByURL(ctx, tenantID, item.SourceURL)
	if err != nil {
		result.Errors++
		return false
	}
	if exists {
		result.Duplicates++
		return false
	}

	// Embedding failures are never papered over with a default vector: a
	// made-up embedding would poison dedup for every later item.
	embedding, err := p.embedder.EmbedText(ctx, item.Title+"\n\n"+llm.Truncate(item.Content, 4000))
	if err != nil {
		result.Errors++
		return false
	}

	if maxSimilarity(embedding, *recent) >= settings.SimilarityThreshold {
		result.Duplicates++
		return false
	}

	score := p.scoreWithRetry(ctx, item)
	if score < settings.RelevanceThreshold {
		result.LowScore++
		return false
	}

	summary, err := p.scorer.Summarize(ctx, item.Title, item.Content)
	if err != nil {
		summary = llm.Truncate(item.Content, fallbackSummaryLen)
	}

	categories, err := p.scorer.Categorize(ctx, item.Title, summary)
	if err != nil {
		categories = fallbackCategories
	}

	article := &db.Article{
		TenantID:       tenantID,
		SourceURL:      item.SourceURL,
		Title:          item.Title,
		Content:        item.Content,
		Summary:        summary,
		RelevanceScore: score,
		Categories:     categories,
		Embedding:      pgvector.NewVector(embedding),
	}
	if !item.PublishedAt.IsZero() {
		published := item.PublishedAt
		article.PublishedAt = &published
	}

	created, err := p.store.CreateArticle(ctx, article)
	if err != nil {
		result.Errors++
		return false
	}
	if !created {
		// Lost a race with a concurrent run for the same URL.
		result.Duplicates++
		return false
	}

	result.Curated++
	*recent = append(*recent, embedding)
	return true
}

// scoreWithRetry rates the item, retrying transient failures with an
// exponential backoff. When every attempt fails the neutral default is
// returned; the run continues and the threshold decides the item's fate.
func (p *Pipeline) scoreWithRetry(ctx context.Context, item feeds.Item) float64 {
	attempts := p.cfg.ScoreRetries
	if attempts <= 0 {
		attempts = 1
	}

	backoff := scoreRetryBackoff
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return neutralScore
			}
			backoff *= 2
		}

		score, err := p.scorer.Score(ctx, item.Title, item.Content)
		if err == nil {
			return score
		}
		if ctx.Err() != nil {
			break
		}
	}
	return neutralScore
}
