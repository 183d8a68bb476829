// Package curation implements the content curation workflow: feed ingestion,
// duplicate detection, LLM relevance scoring, and staging of accepted
// articles for editorial review.
package curation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/newsletter-curator/internal/config"
	"github.com/jonathan/newsletter-curator/internal/db"
	"github.com/jonathan/newsletter-curator/internal/feeds"
	"github.com/jonathan/newsletter-curator/internal/jobs"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	ActiveSources(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]db.Source, error)
	GetTenantSettings(ctx context.Context, tenantID uuid.UUID) (*db.TenantSettings, error)
	ArticleExistsByURL(ctx context.Context, tenantID uuid.UUID, sourceURL string) (bool, error)
	RecentEmbeddings(ctx context.Context, tenantID uuid.UUID, limit int) ([]pgvector.Vector, error)
	CreateArticle(ctx context.Context, a *db.Article) (bool, error)
}

var _ Store = (*db.DB)(nil)

// Fetcher retrieves candidate items from one feed source.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]feeds.Item, error)
}

// Embedder computes embedding vectors for dedup comparison.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Evaluator rates, summarizes, and categorizes one item.
type Evaluator interface {
	Score(ctx context.Context, title, content string) (float64, error)
	Summarize(ctx context.Context, title, content string) (string, error)
	Categorize(ctx context.Context, title, summary string) ([]string, error)
}

// Params are the job parameters of a curation run. An empty SourceIDs means
// all active sources of the tenant.
type Params struct {
	SourceIDs []uuid.UUID `json:"source_ids,omitempty"`
}

// Result aggregates the outcome of one curation run.
type Result struct {
	Curated       int `json:"curated"`
	Duplicates    int `json:"duplicates"`
	LowScore      int `json:"low_score"`
	Errors        int `json:"errors"`
	FailedSources int `json:"failed_sources"`
}

// Pipeline wires the curation stages together.
type Pipeline struct {
	store    Store
	fetcher  Fetcher
	embedder Embedder
	scorer   Evaluator
	cfg      config.CurationConfig
}

// NewPipeline creates a curation Pipeline.
func NewPipeline(store Store, fetcher Fetcher, embedder Embedder, scorer Evaluator, cfg config.CurationConfig) *Pipeline {
	return &Pipeline{
		store:    store,
		fetcher:  fetcher,
		embedder: embedder,
		scorer:   scorer,
		cfg:      cfg,
	}
}

// JobPipeline adapts the Pipeline to the orchestrator contract.
func (p *Pipeline) JobPipeline() jobs.PipelineFunc {
	return func(ctx context.Context, job *db.Job, progress chan<- jobs.ProgressEvent) (json.RawMessage, error) {
		var params Params
		if len(job.Params) > 0 {
			if err := json.Unmarshal(job.Params, &params); err != nil {
				return nil, fmt.Errorf("invalid curation params: %w", err)
			}
		}

		result, runErr := p.Run(ctx, job.TenantID, params, progress)
		payload, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		return payload, runErr
	}
}

// Run executes a curation run for one tenant. It always returns a non-nil
// Result; on cancellation the counts cover the work done so far and the
// error is jobs.ErrCancelled.
func (p *Pipeline) Run(ctx context.Context, tenantID uuid.UUID, params Params, progress chan<- jobs.ProgressEvent) (*Result, error) {
	result := &Result{}
	settings := p.settingsFor(ctx, tenantID)

	report(progress, 5, "selecting_sources", "")
	sources, err := p.store.ActiveSources(ctx, tenantID, params.SourceIDs)
	if err != nil {
		return result, fmt.Errorf("failed to select sources: %w", err)
	}
	if len(sources) == 0 {
		report(progress, 100, "done", "no active sources")
		return result, nil
	}

	report(progress, 10, "fetching", fmt.Sprintf("%d sources", len(sources)))
	items, failed, err := p.fetchAll(ctx, sources)
	if err != nil {
		return result, err
	}
	result.FailedSources = failed
	if failed > 0 {
		report(progress, 15, "fetching", fmt.Sprintf("%d of %d sources failed", failed, len(sources)))
	}

	items = p.filterByAge(items, settings.MaxAgeDays)
	if len(items) == 0 {
		report(progress, 100, "done", "no recent items")
		return result, nil
	}

	window, err := p.store.RecentEmbeddings(ctx, tenantID, settings.RecentWindow)
	if err != nil {
		return result, fmt.Errorf("failed to load recent embeddings: %w", err)
	}
	recent := make([][]float32, 0, len(window))
	for _, v := range window {
		recent = append(recent, v.Slice())
	}

	report(progress, 20, "evaluating", fmt.Sprintf("%d candidates", len(items)))
	for i, item := range items {
		if ctx.Err() != nil {
			return result, jobs.ErrCancelled
		}

		accepted := p.decide(ctx, tenantID, item, settings, &recent, result)
		if ctx.Err() != nil {
			// The decision above may have been cut short mid-call; its
			// counts for this item are already folded into result.
			return result, jobs.ErrCancelled
		}

		percent := 20 + (75*(i+1))/len(items)
		msg := item.Title
		if accepted {
			msg = "curated: " + item.Title
		}
		report(progress, percent, "evaluating", msg)
	}

	report(progress, 100, "done", "")
	return result, nil
}

// fetchAll retrieves all sources concurrently, keeping items grouped in
// source order regardless of fetch completion order. A source that fails to
// fetch is logged and skipped; it never fails the run. The second return
// value is the number of sources that failed.
func (p *Pipeline) fetchAll(ctx context.Context, sources []db.Source) ([]feeds.Item, int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.FetchConcurrency)

	perSource := make([][]feeds.Item, len(sources))
	broken := make([]bool, len(sources))
	for i, source := range sources {
		g.Go(func() error {
			items, err := p.fetcher.Fetch(gctx, source.FeedURL)
			if err != nil {
				log.Printf("Fetching source %q failed: %v", source.Name, err)
				broken[i] = true
				return nil
			}
			perSource[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	if ctx.Err() != nil {
		return nil, 0, jobs.ErrCancelled
	}

	var items []feeds.Item
	failed := 0
	for i, batch := range perSource {
		if broken[i] {
			failed++
			continue
		}
		items = append(items, batch...)
	}
	return items, failed, nil
}

// filterByAge drops items published more than maxAgeDays ago. Items without
// a publication date pass the filter: a missing date is a feed quirk, not
// evidence of staleness.
func (p *Pipeline) filterByAge(items []feeds.Item, maxAgeDays int) []feeds.Item {
	if maxAgeDays <= 0 {
		return items
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)

	kept := items[:0]
	for _, item := range items {
		if item.PublishedAt.IsZero() || !item.PublishedAt.Before(cutoff) {
			kept = append(kept, item)
		}
	}
	return kept
}

type runSettings struct {
	RelevanceThreshold  float64
	SimilarityThreshold float64
	MaxAgeDays          int
	RecentWindow        int
}

// settingsFor resolves effective thresholds: tenant overrides when present,
// service configuration otherwise. A settings lookup failure falls back to
// the configured defaults rather than failing the run.
func (p *Pipeline) settingsFor(ctx context.Context, tenantID uuid.UUID) runSettings {
	s := runSettings{
		RelevanceThreshold:  p.cfg.RelevanceThreshold,
		SimilarityThreshold: p.cfg.SimilarityThreshold,
		MaxAgeDays:          p.cfg.MaxAgeDays,
		RecentWindow:        p.cfg.RecentWindow,
	}

	overrides, err := p.store.GetTenantSettings(ctx, tenantID)
	if err != nil || overrides == nil {
		return s
	}
	if overrides.RelevanceThreshold > 0 {
		s.RelevanceThreshold = overrides.RelevanceThreshold
	}
	if overrides.SimilarityThreshold > 0 {
		s.SimilarityThreshold = overrides.SimilarityThreshold
	}
	if overrides.MaxAgeDays > 0 {
		s.MaxAgeDays = overrides.MaxAgeDays
	}
	if overrides.RecentWindow > 0 {
		s.RecentWindow = overrides.RecentWindow
	}
	return s
}

func report(progress chan<- jobs.ProgressEvent, percent int, stage, message string) {
	if progress == nil {
		return
	}
	progress <- jobs.ProgressEvent{Percent: percent, Stage: stage, Message: message}
}
