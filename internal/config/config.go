// Package config provides configuration loading and validation for the service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Default tuning values applied when the config file omits them.
const (
	DefaultRelevanceThreshold  = 6.0
	DefaultSimilarityThreshold = 0.85
	DefaultMaxAgeDays          = 7
	DefaultRecentWindow        = 200
	DefaultMaxItemsPerFeed     = 50
	DefaultJobTimeout          = 15 * time.Minute
	DefaultScoreRetries        = 3
	DefaultFetchConcurrency    = 4
)

// CurationConfig holds tuning knobs for the curation pipeline.
// Per-tenant settings in the database override these defaults.
type CurationConfig struct {
	RelevanceThreshold  float64 `json:"relevance_threshold,omitempty"`  // Minimum 0-10 score to keep an item
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"` // Cosine similarity at or above which an item is a near-duplicate
	MaxAgeDays          int     `json:"max_age_days,omitempty"`         // Items older than this are dropped before scoring
	RecentWindow        int     `json:"recent_window,omitempty"`        // How many recent articles to compare embeddings against
	MaxItemsPerFeed     int     `json:"max_items_per_feed,omitempty"`   // Cap on candidates taken from a single feed
	ScoreRetries        int     `json:"score_retries,omitempty"`        // Attempts before falling back to a neutral score
	FetchConcurrency    int     `json:"fetch_concurrency,omitempty"`    // Parallel feed fetches during stage 2
	JobTimeoutMinutes   int     `json:"job_timeout_minutes,omitempty"`  // Wall-clock budget for a whole pipeline run
	FetchPageContent    bool    `json:"fetch_page_content,omitempty"`   // Fetch linked pages when feed entries carry little content
}

// LLMConfig selects the models used for each capability.
type LLMConfig struct {
	FastModel      string `json:"fast_model,omitempty"`
	AdvancedModel  string `json:"advanced_model,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
}

// Config represents the service configuration loaded from a JSON file.
// All fields are optional; missing values use defaults. Secrets
// (DATABASE_URL, GEMINI_API_KEY, SEARCH_API_KEY, SEARCH_CX) come from the
// environment, never from this file.
type Config struct {
	Port     int            `json:"port,omitempty"`
	Curation CurationConfig `json:"curation,omitempty"`
	LLM      LLMConfig      `json:"llm,omitempty"`
	Verbose  bool           `json:"verbose,omitempty"`
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration populated entirely from defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in any zero-valued tuning fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Curation.RelevanceThreshold == 0 {
		c.Curation.RelevanceThreshold = DefaultRelevanceThreshold
	}
	if c.Curation.SimilarityThreshold == 0 {
		c.Curation.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.Curation.MaxAgeDays == 0 {
		c.Curation.MaxAgeDays = DefaultMaxAgeDays
	}
	if c.Curation.RecentWindow == 0 {
		c.Curation.RecentWindow = DefaultRecentWindow
	}
	if c.Curation.MaxItemsPerFeed == 0 {
		c.Curation.MaxItemsPerFeed = DefaultMaxItemsPerFeed
	}
	if c.Curation.ScoreRetries == 0 {
		c.Curation.ScoreRetries = DefaultScoreRetries
	}
	if c.Curation.FetchConcurrency == 0 {
		c.Curation.FetchConcurrency = DefaultFetchConcurrency
	}
	if c.Curation.JobTimeoutMinutes == 0 {
		c.Curation.JobTimeoutMinutes = int(DefaultJobTimeout / time.Minute)
	}
	if c.LLM.FastModel == "" {
		c.LLM.FastModel = "gemini-2.0-flash"
	}
	if c.LLM.AdvancedModel == "" {
		c.LLM.AdvancedModel = "gemini-2.5-pro"
	}
	if c.LLM.EmbeddingModel == "" {
		c.LLM.EmbeddingModel = "text-embedding-004"
	}
}

// JobTimeout returns the pipeline wall-clock budget as a duration.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Curation.JobTimeoutMinutes) * time.Minute
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}
	if c.Curation.RelevanceThreshold < 0 || c.Curation.RelevanceThreshold > 10 {
		return fmt.Errorf("config error: 'relevance_threshold' must be between 0 and 10")
	}
	if c.Curation.SimilarityThreshold < -1 || c.Curation.SimilarityThreshold > 1 {
		return fmt.Errorf("config error: 'similarity_threshold' must be between -1 and 1")
	}
	if c.Curation.MaxAgeDays < 0 {
		return fmt.Errorf("config error: 'max_age_days' must be non-negative")
	}
	if c.Curation.RecentWindow < 0 {
		return fmt.Errorf("config error: 'recent_window' must be non-negative")
	}
	if c.Curation.JobTimeoutMinutes < 0 {
		return fmt.Errorf("config error: 'job_timeout_minutes' must be non-negative")
	}
	return nil
}
