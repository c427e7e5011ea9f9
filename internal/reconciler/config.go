package reconciler

import (
	"context"
	"fmt"
	"io"
	"time"

	"ledger-reconciliation-service/internal/assignment"
	"ledger-reconciliation-service/internal/discrepancy"
	"ledger-reconciliation-service/internal/explain"
	"ledger-reconciliation-service/internal/matcher"
	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/internal/semantic"
)

// Config holds every setting of a reconciliation run. Field tags are the
// keys used in configuration files and RECONCILER_* environment variables.
type Config struct {
	matcher.MatchingConfig `mapstructure:",squash"`

	EnableLLM             bool                       `mapstructure:"enable_llm" json:"enable_llm"`
	MinSeverityForTickets models.Severity            `mapstructure:"min_severity_for_tickets" json:"min_severity_for_tickets"`
	Strategy              assignment.Strategy        `mapstructure:"strategy" json:"strategy"`
	MaxComponentSize      int                        `mapstructure:"max_component_size" json:"max_component_size"`
	Severity              discrepancy.SeverityConfig `mapstructure:"severity" json:"severity"`
	Embedder              EmbedderConfig             `mapstructure:"embedder" json:"embedder"`
	Explain               ExplainConfig              `mapstructure:"explain" json:"explain"`
}

// EmbedderConfig selects and configures the description embedder.
type EmbedderConfig struct {
	// Backend is "hashing" (local, deterministic) or "gemini".
	Backend    string `mapstructure:"backend" json:"backend"`
	Dimensions int    `mapstructure:"dimensions" json:"dimensions"`
	Model      string `mapstructure:"model" json:"model"`
	APIKey     string `mapstructure:"api_key" json:"-"`
	BatchSize  int    `mapstructure:"batch_size" json:"batch_size"`

	// CachePath enables the SQLite embedding cache when set.
	CachePath string `mapstructure:"cache_path" json:"cache_path"`
}

// ExplainConfig configures explanation enrichment and its Gemini backend.
type ExplainConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxConcurrency  int           `mapstructure:"max_concurrency" json:"max_concurrency"`
	MaxSnippetLen   int           `mapstructure:"max_snippet_len" json:"max_snippet_len"`
	Model           string        `mapstructure:"model" json:"model"`
	APIKey          string        `mapstructure:"api_key" json:"-"`
	MaxOutputTokens int32         `mapstructure:"max_output_tokens" json:"max_output_tokens"`
}

const (
	EmbedderHashing = "hashing"
	EmbedderGemini  = "gemini"
)

// DefaultConfig returns a default configuration for the reconciliation engine
func DefaultConfig() *Config {
	adapter := explain.DefaultConfig()
	gemini := explain.DefaultGeminiExplainerConfig()
	embedder := semantic.DefaultGeminiConfig()

	return &Config{
		MatchingConfig:        *matcher.DefaultMatchingConfig(),
		EnableLLM:             false,
		MinSeverityForTickets: models.SeverityHigh,
		Strategy:              assignment.StrategyGlobal,
		MaxComponentSize:      assignment.DefaultMaxComponentSize,
		Severity:              *discrepancy.DefaultSeverityConfig(),
		Embedder: EmbedderConfig{
			Backend:    EmbedderHashing,
			Dimensions: semantic.DefaultHashingDimensions,
			Model:      embedder.Model,
			BatchSize:  embedder.BatchSize,
		},
		Explain: ExplainConfig{
			Timeout:         adapter.Timeout,
			MaxConcurrency:  adapter.MaxConcurrency,
			MaxSnippetLen:   adapter.MaxSnippetLen,
			Model:           gemini.Model,
			MaxOutputTokens: gemini.MaxOutputTokens,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.MatchingConfig.Validate(); err != nil {
		return err
	}
	if !c.Strategy.IsValid() {
		return fmt.Errorf("strategy must be %q or %q, got %q", assignment.StrategyGlobal, assignment.StrategyGreedy, c.Strategy)
	}
	if c.MaxComponentSize <= 0 {
		return fmt.Errorf("max_component_size must be positive, got %d", c.MaxComponentSize)
	}
	if c.MinSeverityForTickets < models.SeverityLow || c.MinSeverityForTickets > models.SeverityCritical {
		return fmt.Errorf("min_severity_for_tickets is not a valid severity: %d", c.MinSeverityForTickets)
	}
	if err := c.Severity.Validate(); err != nil {
		return err
	}
	if err := c.AdapterConfig().Validate(); err != nil {
		return err
	}

	switch c.Embedder.Backend {
	case EmbedderHashing:
		if c.Embedder.Dimensions <= 0 {
			return fmt.Errorf("embedder.dimensions must be positive, got %d", c.Embedder.Dimensions)
		}
	case EmbedderGemini:
		if c.Embedder.BatchSize <= 0 || c.Embedder.BatchSize > 100 {
			return fmt.Errorf("embedder.batch_size must be between 1 and 100, got %d", c.Embedder.BatchSize)
		}
	default:
		return fmt.Errorf("embedder.backend must be %q or %q, got %q", EmbedderHashing, EmbedderGemini, c.Embedder.Backend)
	}
	return nil
}

// AdapterConfig returns the explanation adapter settings, enabled by EnableLLM.
func (c *Config) AdapterConfig() explain.Config {
	return explain.Config{
		Enabled:        c.EnableLLM,
		Timeout:        c.Explain.Timeout,
		MaxConcurrency: c.Explain.MaxConcurrency,
		MaxSnippetLen:  c.Explain.MaxSnippetLen,
	}
}

// CacheModelTag names the embedding space cfg produces. Cached vectors are
// stored under this tag, so purging by it removes exactly what NewEmbedder wrote.
func CacheModelTag(cfg EmbedderConfig) string {
	if cfg.Backend == EmbedderGemini {
		model := cfg.Model
		if model == "" {
			model = semantic.DefaultGeminiConfig().Model
		}
		return "gemini:" + model
	}
	return semantic.NewHashingEmbedder(cfg.Dimensions).Model()
}

// NewEmbedder builds the configured embedder, wrapped in the SQLite cache when
// a cache path is set. The returned closer releases the cache and is never nil.
func NewEmbedder(ctx context.Context, cfg EmbedderConfig) (semantic.Embedder, io.Closer, error) {
	var inner semantic.Embedder

	switch cfg.Backend {
	case EmbedderGemini:
		g, err := semantic.NewGeminiEmbedder(ctx, semantic.GeminiConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		})
		if err != nil {
			return nil, nil, err
		}
		inner = g
	default:
		inner = semantic.NewHashingEmbedder(cfg.Dimensions)
	}

	if cfg.CachePath == "" {
		return inner, nopCloser{}, nil
	}

	cache, err := semantic.OpenSQLiteCache(cfg.CachePath)
	if err != nil {
		return nil, nil, err
	}
	return semantic.NewCachedEmbedder(inner, cache, CacheModelTag(cfg)), cache, nil
}

// NewExplainer builds the Gemini explainer, or returns nil when EnableLLM is off.
func NewExplainer(ctx context.Context, c *Config) (explain.Explainer, error) {
	if !c.EnableLLM {
		return nil, nil
	}
	g, err := explain.NewGeminiExplainer(ctx, explain.GeminiExplainerConfig{
		APIKey:          c.Explain.APIKey,
		Model:           c.Explain.Model,
		MaxOutputTokens: c.Explain.MaxOutputTokens,
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
