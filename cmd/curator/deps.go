package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonathan/newsletter-curator/internal/config"
	"github.com/jonathan/newsletter-curator/internal/curation"
	"github.com/jonathan/newsletter-curator/internal/db"
	"github.com/jonathan/newsletter-curator/internal/feeds"
	"github.com/jonathan/newsletter-curator/internal/generation"
	"github.com/jonathan/newsletter-curator/internal/jobs"
	"github.com/jonathan/newsletter-curator/internal/llm"
	"github.com/jonathan/newsletter-curator/internal/scoring"
	"github.com/jonathan/newsletter-curator/internal/search"
)

// loadConfig reads the optional JSON config file; an empty path means
// defaults only.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func llmConfig(cfg *config.Config) *llm.Config {
	c := llm.DefaultGeminiConfig()
	c.Models[llm.TierFast] = cfg.LLM.FastModel
	c.Models[llm.TierAdvanced] = cfg.LLM.AdvancedModel
	c.EmbeddingModel = cfg.LLM.EmbeddingModel
	return c
}

// buildDeps connects the database and LLM client and assembles the
// orchestrator with every pipeline the environment supports. Search is only
// registered when SEARCH_API_KEY and SEARCH_CX are present.
func buildDeps(ctx context.Context, cfg *config.Config) (*db.DB, llm.Client, *jobs.Orchestrator, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, nil, nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, nil, nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	database, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	client, err := llm.NewClient(ctx, llmConfig(cfg), apiKey)
	if err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	fetcher := feeds.NewFetcher(cfg.Curation.MaxItemsPerFeed)
	if cfg.Curation.FetchPageContent {
		fetcher.EnablePageFetch()
	}
	scorer := scoring.NewScorer(client)
	pipeline := curation.NewPipeline(database, fetcher, client, scorer, cfg.Curation)
	generator := generation.NewGenerator(database, client)

	pipelines := map[string]jobs.PipelineFunc{
		db.JobTypeCuration:   pipeline.JobPipeline(),
		db.JobTypeGeneration: generator.JobPipeline(),
	}

	if searchKey, cx := os.Getenv("SEARCH_API_KEY"), os.Getenv("SEARCH_CX"); searchKey != "" && cx != "" {
		searcher, err := search.NewSearcher(ctx, searchKey, cx)
		if err != nil {
			client.Close()
			database.Close()
			return nil, nil, nil, fmt.Errorf("failed to create search client: %w", err)
		}
		pipelines[db.JobTypeSearch] = searcher.JobPipeline()
	}

	orch := jobs.NewOrchestrator(database, pipelines, cfg.JobTimeout())
	return database, client, orch, nil
}
