// Package scoring evaluates curated content with an LLM: relevance scoring,
// summarization, and categorization. All structured model output is schema
// validated before use.
package scoring

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jonathan/newsletter-curator/internal/llm"
	"github.com/jonathan/newsletter-curator/internal/prompts"
	"github.com/jonathan/newsletter-curator/internal/schemas"
)

// maxPromptContent caps how much article body is sent to the model.
const maxPromptContent = 8000

// Scorer wraps an LLM client with the curation evaluation operations.
type Scorer struct {
	client llm.Client
}

// NewScorer creates a Scorer backed by the given LLM client.
func NewScorer(client llm.Client) *Scorer {
	return &Scorer{client: client}
}

type scoreResponse struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
}

// Score rates an article's relevance on a 0-10 scale.
// The model response is schema validated; an out-of-schema response is a
// *ParseError, a provider failure an *APICallError. The returned score is
// clamped to [0, 10] as a final guard.
func (s *Scorer) Score(ctx context.Context, title, content string) (float64, error) {
	template := prompts.MustGet("curation.json", "score-relevance")
	prompt := prompts.Format(template, map[string]string{
		"Title":   title,
		"Content": llm.Truncate(content, maxPromptContent),
	})

	responseText, err := s.client.GenerateJSON(ctx, prompt, llm.TierFast)
	if err != nil {
		return 0, &APICallError{Message: "failed to score article", Cause: err}
	}

	if err := schemas.Validate("score_response.json", []byte(responseText)); err != nil {
		return 0, &ParseError{Message: "score response failed schema validation", Cause: err}
	}

	var resp scoreResponse
	if err := json.Unmarshal([]byte(responseText), &resp); err != nil {
		return 0, &ParseError{Message: "failed to parse score response", Cause: err}
	}

	return clampScore(resp.Score), nil
}

// Summarize produces a short newsletter summary for an article.
func (s *Scorer) Summarize(ctx context.Context, title, content string) (string, error) {
	template := prompts.MustGet("curation.json", "summarize")
	prompt := prompts.Format(template, map[string]string{
		"Title":   title,
		"Content": llm.Truncate(content, maxPromptContent),
	})

	summary, err := s.client.GenerateContent(ctx, prompt, llm.TierFast)
	if err != nil {
		return "", &APICallError{Message: "failed to summarize article", Cause: err}
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", &ParseError{Message: "empty summary in response"}
	}
	return summary, nil
}

// Categorize assigns one to three categories to an article.
func (s *Scorer) Categorize(ctx context.Context, title, summary string) ([]string, error) {
	template := prompts.MustGet("curation.json", "categorize")
	prompt := prompts.Format(template, map[string]string{
		"Title":   title,
		"Summary": summary,
	})

	responseText, err := s.client.GenerateJSON(ctx, prompt, llm.TierFast)
	if err != nil {
		return nil, &APICallError{Message: "failed to categorize article", Cause: err}
	}

	if err := schemas.Validate("categories_response.json", []byte(responseText)); err != nil {
		return nil, &ParseError{Message: "categories response failed schema validation", Cause: err}
	}

	var resp categoriesResponse
	if err := json.Unmarshal([]byte(responseText), &resp); err != nil {
		return nil, &ParseError{Message: "failed to parse categories response", Cause: err}
	}

	categories := make([]string, 0, len(resp.Categories))
	for _, c := range resp.Categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			categories = append(categories, c)
		}
	}
	if len(categories) == 0 {
		return nil, &ParseError{Message: "no usable categories in response"}
	}
	return categories, nil
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}
