// Package search discovers candidate content sources via web search.
package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonathan/newsletter-curator/internal/db"
	"github.com/jonathan/newsletter-curator/internal/jobs"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

const resultsPerQuery = 10

// Params are the job parameters of a search run.
type Params struct {
	Query string `json:"query"`
}

// Hit is one search result.
type Hit struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Result is the output of a search run.
type Result struct {
	Query string `json:"query"`
	Hits  []Hit  `json:"hits"`
}

// Searcher runs programmable search queries.
type Searcher struct {
	svc *customsearch.Service
	cx  string
}

// NewSearcher creates a Searcher for the given API key and search engine ID.
func NewSearcher(ctx context.Context, apiKey, cx string) (*Searcher, error) {
	svc, err := customsearch.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	return &Searcher{svc: svc, cx: cx}, nil
}

// Search runs one query and returns its top results.
func (s *Searcher) Search(ctx context.Context, query string) ([]Hit, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	resp, err := s.svc.Cse.List().Cx(s.cx).Q(query).Num(resultsPerQuery).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(resp.Items))
	for _, item := range resp.Items {
		hits = append(hits, Hit{
			Title:   item.Title,
			Link:    item.Link,
			Snippet: item.Snippet,
		})
	}
	return hits, nil
}

// JobPipeline adapts the Searcher to the orchestrator contract.
func (s *Searcher) JobPipeline() jobs.PipelineFunc {
	return func(ctx context.Context, job *db.Job, progress chan<- jobs.ProgressEvent) (json.RawMessage, error) {
		var params Params
		if len(job.Params) > 0 {
			if err := json.Unmarshal(job.Params, &params); err != nil {
				return nil, fmt.Errorf("invalid search params: %w", err)
			}
		}
		if params.Query == "" {
			return nil, fmt.Errorf("search job requires a query")
		}

		if progress != nil {
			progress <- jobs.ProgressEvent{Percent: 20, Stage: "searching", Message: params.Query}
		}

		hits, err := s.Search(ctx, params.Query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, jobs.ErrCancelled
			}
			return nil, err
		}

		if progress != nil {
			progress <- jobs.ProgressEvent{Percent: 100, Stage: "done", Message: fmt.Sprintf("%d hits", len(hits))}
		}
		return json.Marshal(&Result{Query: params.Query, Hits: hits})
	}
}
