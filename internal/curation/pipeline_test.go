package curation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/newsletter-curator/internal/config"
	"github.com/jonathan/newsletter-curator/internal/db"
	"github.com/jonathan/newsletter-curator/internal/feeds"
	"github.com/jonathan/newsletter-curator/internal/jobs"
)

type fakeStore struct {
	mu           sync.Mutex
	sources      []db.Source
	settings     *db.TenantSettings
	existingURLs map[string]bool
	recent       []pgvector.Vector
	created      []*db.Article
	failCreate   map[string]bool
}

func (s *fakeStore) ActiveSources(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]db.Source, error) {
	if len(ids) == 0 {
		return s.sources, nil
	}
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []db.Source
	for _, src := range s.sources {
		if want[src.ID] {
			out = append(out, src)
		}
	}
	return out, nil
}

func (s *fakeStore) GetTenantSettings(ctx context.Context, tenantID uuid.UUID) (*db.TenantSettings, error) {
	return s.settings, nil
}

func (s *fakeStore) ArticleExistsByURL(ctx context.Context, tenantID uuid.UUID, sourceURL string) (bool, error) {
	return s.existingURLs[sourceURL], nil
}

func (s *fakeStore) RecentEmbeddings(ctx context.Context, tenantID uuid.UUID, limit int) ([]pgvector.Vector, error) {
	return s.recent, nil
}

func (s *fakeStore) CreateArticle(ctx context.Context, a *db.Article) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate[a.SourceURL] {
		return false, errors.New("insert failed")
	}
	s.created = append(s.created, a)
	return true, nil
}

type fakeFetcher struct {
	feeds   map[string][]feeds.Item
	failing map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, feedURL string) ([]feeds.Item, error) {
	if f.failing[feedURL] {
		return nil, errors.New("connection refused")
	}
	return f.feeds[feedURL], nil
}

type fakeEmbedder struct {
	vectors map[string][]float32
	failFor map[string]bool
}

func (e *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	for title, v := range e.vectors {
		if len(text) >= len(title) && text[:len(title)] == title {
			return v, nil
		}
	}
	for title := range e.failFor {
		if len(text) >= len(title) && text[:len(title)] == title {
			return nil, errors.New("embedding unavailable")
		}
	}
	return []float32{0, 0, 0}, errors.New("no vector configured")
}

type fakeEvaluator struct {
	mu           sync.Mutex
	scores       map[string]float64
	scoreErrs    map[string]int // remaining failures per title; -1 means always fail
	scoreCalls   map[string]int
	summarizeErr bool
	categorizeErr bool
	onScore      func(title string)
}

func (e *fakeEvaluator) Score(ctx context.Context, title, content string) (float64, error) {
	e.mu.Lock()
	if e.scoreCalls == nil {
		e.scoreCalls = make(map[string]int)
	}
	e.scoreCalls[title]++
	remaining := e.scoreErrs[title]
	if remaining != 0 {
		if remaining > 0 {
			e.scoreErrs[title]--
		}
		e.mu.Unlock()
		return 0, errors.New("model overloaded")
	}
	score := e.scores[title]
	onScore := e.onScore
	e.mu.Unlock()

	if onScore != nil {
		onScore(title)
	}
	return score, nil
}

func (e *fakeEvaluator) Summarize(ctx context.Context, title, content string) (string, error) {
	if e.summarizeErr {
		return "", errors.New("model overloaded")
	}
	return "summary of " + title, nil
}

func (e *fakeEvaluator) Categorize(ctx context.Context, title, summary string) ([]string, error) {
	if e.categorizeErr {
		return nil, errors.New("model overloaded")
	}
	return []string{"engineering"}, nil
}

func testConfig() config.CurationConfig {
	return config.CurationConfig{
		RelevanceThreshold:  6.0,
		SimilarityThreshold: 0.85,
		MaxAgeDays:          7,
		RecentWindow:        50,
		ScoreRetries:        3,
		FetchConcurrency:    2,
	}
}

// oneHot builds a vector with a 1 at position i; distinct positions are
// orthogonal so they never trip the similarity threshold.
func oneHot(i int) []float32 {
	v := make([]float32, 12)
	v[i] = 1
	return v
}

func item(title string) feeds.Item {
	return feeds.Item{
		SourceURL:   "https://example.com/" + title,
		Title:       title,
		Content:     "body of " + title,
		PublishedAt: time.Now().Add(-24 * time.Hour),
	}
}

func drain(progress chan jobs.ProgressEvent) []jobs.ProgressEvent {
	close(progress)
	var events []jobs.ProgressEvent
	for ev := range progress {
		events = append(events, ev)
	}
	return events
}

func TestRun_EndToEnd(t *testing.T) {
	tenantID := uuid.New()

	store := &fakeStore{
		sources: []db.Source{
			{ID: uuid.New(), TenantID: tenantID, FeedURL: "https://a.example.com/feed", Active: true},
			{ID: uuid.New(), TenantID: tenantID, FeedURL: "https://b.example.com/feed", Active: true},
			{ID: uuid.New(), TenantID: tenantID, FeedURL: "https://down.example.com/feed", Active: true},
		},
		existingURLs: map[string]bool{"https://example.com/url-dup": true},
		recent:       []pgvector.Vector{pgvector.NewVector(oneHot(0))},
	}

	fetcher := &fakeFetcher{
		feeds: map[string][]feeds.Item{
			"https://a.example.com/feed": {
				item("url-dup"), item("sem-dup"), item("embed-fail"),
				item("low-1"), item("low-2"),
			},
			"https://b.example.com/feed": {
				item("low-3"), item("good-1"), item("good-2"),
				item("good-3"), item("good-4"),
			},
		},
		failing: map[string]bool{"https://down.example.com/feed": true},
	}

	embedder := &fakeEmbedder{
		vectors: map[string][]float32{
			"sem-dup": oneHot(0), // matches the recent window
			"low-1":   oneHot(1),
			"low-2":   oneHot(2),
			"low-3":   oneHot(3),
			"good-1":  oneHot(4),
			"good-2":  oneHot(5),
			"good-3":  oneHot(6),
			"good-4":  oneHot(7),
		},
		failFor: map[string]bool{"embed-fail": true},
	}

	evaluator := &fakeEvaluator{
		scores: map[string]float64{
			"low-1": 2, "low-2": 3, "low-3": 5.5,
			"good-1": 8, "good-2": 9, "good-3": 6.0, "good-4": 7,
		},
	}

	p := NewPipeline(store, fetcher, embedder, evaluator, testConfig())
	progress := make(chan jobs.ProgressEvent, 100)

	result, err := p.Run(context.Background(), tenantID, Params{}, progress)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Curated)
	assert.Equal(t, 2, result.Duplicates)
	assert.Equal(t, 3, result.LowScore)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, result.FailedSources)

	require.Len(t, store.created, 4)
	first := store.created[0]
	assert.Equal(t, tenantID, first.TenantID)
	assert.Equal(t, "good-1", first.Title)
	assert.Equal(t, "summary of good-1", first.Summary)
	assert.Equal(t, []string{"engineering"}, first.Categories)
	assert.Equal(t, 8.0, first.RelevanceScore)
	require.NotNil(t, first.PublishedAt)

	events := drain(progress)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, "done", last.Stage)

	// Progress percent never goes backwards
	prev := 0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Percent, prev)
		prev = ev.Percent
	}
}

func TestRun_NoActiveSources(t *testing.T) {
	store := &fakeStore{}
	p := NewPipeline(store, &fakeFetcher{}, &fakeEmbedder{}, &fakeEvaluator{}, testConfig())
	progress := make(chan jobs.ProgressEvent, 10)

	result, err := p.Run(context.Background(), uuid.New(), Params{}, progress)
	require.NoError(t, err)
	assert.Equal(t, &Result{}, result)

	events := drain(progress)
	assert.Equal(t, 100, events[len(events)-1].Percent)
}

func TestRun_AgeFilter(t *testing.T) {
	tenantID := uuid.New()
	stale := item("stale")
	stale.PublishedAt = time.Now().AddDate(0, 0, -30)
	undated := item("undated")
	undated.PublishedAt = time.Time{}

	store := &fakeStore{
		sources: []db.Source{{ID: uuid.New(), FeedURL: "https://a.example.com/feed", Active: true}},
	}
	fetcher := &fakeFetcher{feeds: map[string][]feeds.Item{
		"https://a.example.com/feed": {stale, undated},
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"stale": oneHot(0), "undated": oneHot(1),
	}}
	evaluator := &fakeEvaluator{scores: map[string]float64{"stale": 9, "undated": 9}}

	p := NewPipeline(store, fetcher, embedder, evaluator, testConfig())

	result, err := p.Run(context.Background(), tenantID, Params{}, nil)
	require.NoError(t, err)

	// Only the undated item survives; the stale one is dropped without
	// counting toward any bucket.
	assert.Equal(t, 1, result.Curated)
	assert.Equal(t, 0, result.Errors)
	require.Len(t, store.created, 1)
	assert.Equal(t, "undated", store.created[0].Title)
	assert.Nil(t, store.created[0].PublishedAt)
}

func TestRun_IntraRunSemanticDedup(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{
		sources: []db.Source{{ID: uuid.New(), FeedURL: "https://a.example.com/feed", Active: true}},
	}
	fetcher := &fakeFetcher{feeds: map[string][]feeds.Item{
		"https://a.example.com/feed": {item("original"), item("repost")},
	}}
	// Same vector for both: the second must dedup against the first even
	// though neither was in the database when the run started.
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"original": oneHot(0), "repost": oneHot(0),
	}}
	evaluator := &fakeEvaluator{scores: map[string]float64{"original": 8, "repost": 8}}

	p := NewPipeline(store, fetcher, embedder, evaluator, testConfig())

	result, err := p.Run(context.Background(), tenantID, Params{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Curated)
	assert.Equal(t, 1, result.Duplicates)
}

func TestRun_ScoreRetryThenSuccess(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{
		sources: []db.Source{{ID: uuid.New(), FeedURL: "https://a.example.com/feed", Active: true}},
	}
	fetcher := &fakeFetcher{feeds: map[string][]feeds.Item{
		"https://a.example.com/feed": {item("flaky")},
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float32{"flaky": oneHot(0)}}
	evaluator := &fakeEvaluator{
		scores:    map[string]float64{"flaky": 8},
		scoreErrs: map[string]int{"flaky": 2}, // fail twice, succeed on third
	}

	p := NewPipeline(store, fetcher, embedder, evaluator, testConfig())

	result, err := p.Run(context.Background(), tenantID, Params{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Curated)
	assert.Equal(t, 3, evaluator.scoreCalls["flaky"])
}

func TestRun_ScoreExhaustedFallsBackToNeutral(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{
		sources: []db.Source{{ID: uuid.New(), FeedURL: "https://a.example.com/feed", Active: true}},
	}
	fetcher := &fakeFetcher{feeds: map[string][]feeds.Item{
		"https://a.example.com/feed": {item("unscorable")},
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float32{"unscorable": oneHot(0)}}
	evaluator := &fakeEvaluator{
		scoreErrs: map[string]int{"unscorable": -1},
	}

	p := NewPipeline(store, fetcher, embedder, evaluator, testConfig())

	start := time.Now()
	result, err := p.Run(context.Background(), tenantID, Params{}, nil)
	require.NoError(t, err)

	// Neutral 5.0 is below the 6.0 threshold: rejected, not errored
	assert.Equal(t, 1, result.LowScore)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, 3, evaluator.scoreCalls["unscorable"])

	// Three attempts sleep 250ms then 500ms between them.
	assert.GreaterOrEqual(t, time.Since(start), 750*time.Millisecond)
}

func TestRun_SummarizeAndCategorizeFallbacks(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{
		sources: []db.Source{{ID: uuid.New(), FeedURL: "https://a.example.com/feed", Active: true}},
	}
	fetcher := &fakeFetcher{feeds: map[string][]feeds.Item{
		"https://a.example.com/feed": {item("good-1")},
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float32{"good-1": oneHot(0)}}
	evaluator := &fakeEvaluator{
		scores:        map[string]float64{"good-1": 8},
		summarizeErr:  true,
		categorizeErr: true,
	}

	p := NewPipeline(store, fetcher, embedder, evaluator, testConfig())

	result, err := p.Run(context.Background(), tenantID, Params{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Curated)

	require.Len(t, store.created, 1)
	created := store.created[0]
	assert.Equal(t, "body of good-1", created.Summary, "fallback summary is a content excerpt")
	assert.Equal(t, []string{"general"}, created.Categories)
}

func TestRun_CancelReturnsPartialResult(t *testing.T) {
	tenantID := uuid.New()

	var items []feeds.Item
	vectors := make(map[string][]float32)
	scores := make(map[string]float64)
	for i := 0; i < 6; i++ {
		title := fmt.Sprintf("item-%d", i)
		items = append(items, item(title))
		vectors[title] = oneHot(i)
		scores[title] = 8
	}

	store := &fakeStore{
		sources: []db.Source{{ID: uuid.New(), FeedURL: "https://a.example.com/feed", Active: true}},
	}
	fetcher := &fakeFetcher{feeds: map[string][]feeds.Item{"https://a.example.com/feed": items}}
	embedder := &fakeEmbedder{vectors: vectors}

	ctx, cancel := context.WithCancel(context.Background())
	scored := 0
	evaluator := &fakeEvaluator{
		scores: scores,
		onScore: func(title string) {
			scored++
			if scored == 2 {
				cancel()
			}
		},
	}

	p := NewPipeline(store, fetcher, embedder, evaluator, testConfig())

	result, err := p.Run(ctx, tenantID, Params{}, nil)
	assert.ErrorIs(t, err, jobs.ErrCancelled)
	assert.Equal(t, 2, result.Curated, "work done before cancellation is reported")
	assert.Less(t, result.Curated+result.Duplicates+result.LowScore+result.Errors, len(items))
}

func TestRun_SourceSubset(t *testing.T) {
	tenantID := uuid.New()
	wanted := uuid.New()
	store := &fakeStore{
		sources: []db.Source{
			{ID: wanted, FeedURL: "https://a.example.com/feed", Active: true},
			{ID: uuid.New(), FeedURL: "https://b.example.com/feed", Active: true},
		},
	}
	fetcher := &fakeFetcher{feeds: map[string][]feeds.Item{
		"https://a.example.com/feed": {item("good-1")},
		"https://b.example.com/feed": {item("good-2")},
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"good-1": oneHot(0), "good-2": oneHot(1),
	}}
	evaluator := &fakeEvaluator{scores: map[string]float64{"good-1": 8, "good-2": 8}}

	p := NewPipeline(store, fetcher, embedder, evaluator, testConfig())

	result, err := p.Run(context.Background(), tenantID, Params{SourceIDs: []uuid.UUID{wanted}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Curated)
	require.Len(t, store.created, 1)
	assert.Equal(t, "good-1", store.created[0].Title)
}

func TestRun_TenantOverrides(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{
		sources: []db.Source{{ID: uuid.New(), FeedURL: "https://a.example.com/feed", Active: true}},
		settings: &db.TenantSettings{
			TenantID:           tenantID,
			RelevanceThreshold: 9.0,
		},
	}
	fetcher := &fakeFetcher{feeds: map[string][]feeds.Item{
		"https://a.example.com/feed": {item("good-1")},
	}}
	embedder := &fakeEmbedder{vectors: map[string][]float32{"good-1": oneHot(0)}}
	evaluator := &fakeEvaluator{scores: map[string]float64{"good-1": 8}}

	p := NewPipeline(store, fetcher, embedder, evaluator, testConfig())

	result, err := p.Run(context.Background(), tenantID, Params{}, nil)
	require.NoError(t, err)

	// 8 < tenant threshold of 9, even though the default is 6
	assert.Equal(t, 1, result.LowScore)
	assert.Equal(t, 0, result.Curated)
}
