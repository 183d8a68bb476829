// Package generation drafts newsletter issues from approved articles.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/newsletter-curator/internal/db"
	"github.com/jonathan/newsletter-curator/internal/jobs"
	"github.com/jonathan/newsletter-curator/internal/llm"
	"github.com/jonathan/newsletter-curator/internal/prompts"
)

// maxDraftArticles caps how many approved articles go into one issue.
const maxDraftArticles = 25

// Store is the persistence surface the generator needs.
type Store interface {
	ListArticles(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]db.Article, error)
}

var _ Store = (*db.DB)(nil)

// Result is the output of a generation run.
type Result struct {
	Subject      string `json:"subject"`
	Draft        string `json:"draft"`
	ArticleCount int    `json:"article_count"`
}

// Generator produces newsletter drafts.
type Generator struct {
	store  Store
	client llm.Client
}

// NewGenerator creates a Generator.
func NewGenerator(store Store, client llm.Client) *Generator {
	return &Generator{store: store, client: client}
}

// JobPipeline adapts the Generator to the orchestrator contract.
func (g *Generator) JobPipeline() jobs.PipelineFunc {
	return func(ctx context.Context, job *db.Job, progress chan<- jobs.ProgressEvent) (json.RawMessage, error) {
		result, err := g.Run(ctx, job.TenantID, progress)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}
}

// Run drafts an issue from the tenant's approved articles. An empty approved
// queue completes with an empty result rather than failing: having nothing
// to publish is a normal state, not an error.
func (g *Generator) Run(ctx context.Context, tenantID uuid.UUID, progress chan<- jobs.ProgressEvent) (*Result, error) {
	report(progress, 10, "loading_articles", "")

	articles, err := g.store.ListArticles(ctx, tenantID, db.ArticleStatusApproved, maxDraftArticles)
	if err != nil {
		return nil, fmt.Errorf("failed to load approved articles: %w", err)
	}
	if len(articles) == 0 {
		report(progress, 100, "done", "no approved articles")
		return &Result{}, nil
	}

	if ctx.Err() != nil {
		return &Result{}, jobs.ErrCancelled
	}

	report(progress, 30, "drafting", fmt.Sprintf("%d articles", len(articles)))
	draft, err := g.draft(ctx, articles)
	if err != nil {
		if ctx.Err() != nil {
			return &Result{}, jobs.ErrCancelled
		}
		return nil, err
	}

	report(progress, 80, "subject_line", "")
	subject, err := g.subjectLine(ctx, articles)
	if err != nil {
		// The draft is the deliverable; a missing subject falls back to
		// the issue's first article title.
		subject = articles[0].Title
	}

	report(progress, 100, "done", "")
	return &Result{
		Subject:      subject,
		Draft:        draft,
		ArticleCount: len(articles),
	}, nil
}

type draftArticle struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	SourceURL  string   `json:"source_url"`
	Categories []string `json:"categories"`
}

func (g *Generator) draft(ctx context.Context, articles []db.Article) (string, error) {
	payload := make([]draftArticle, 0, len(articles))
	for _, a := range articles {
		payload = append(payload, draftArticle{
			Title:      a.Title,
			Summary:    a.Summary,
			SourceURL:  a.SourceURL,
			Categories: a.Categories,
		})
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	template := prompts.MustGet("generation.json", "draft-newsletter")
	prompt := prompts.Format(template, map[string]string{
		"Articles": string(encoded),
	})

	draft, err := g.client.GenerateContent(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return "", fmt.Errorf("failed to draft newsletter: %w", err)
	}
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return "", fmt.Errorf("empty draft in response")
	}
	return draft, nil
}

func (g *Generator) subjectLine(ctx context.Context, articles []db.Article) (string, error) {
	titles := make([]string, 0, len(articles))
	for _, a := range articles {
		titles = append(titles, "- "+a.Title)
	}

	template := prompts.MustGet("generation.json", "subject-line")
	prompt := prompts.Format(template, map[string]string{
		"Titles": strings.Join(titles, "\n"),
	})

	subject, err := g.client.GenerateContent(ctx, prompt, llm.TierFast)
	if err != nil {
		return "", err
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("empty subject in response")
	}
	return subject, nil
}

func report(progress chan<- jobs.ProgressEvent, percent int, stage, message string) {
	if progress == nil {
		return
	}
	progress <- jobs.ProgressEvent{Percent: percent, Stage: stage, Message: message}
}
