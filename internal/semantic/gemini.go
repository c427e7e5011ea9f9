package semantic

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini embedding backend.
type GeminiConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BatchSize int    `mapstructure:"batch_size"`
}

// DefaultGeminiConfig returns the default embedding backend settings
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Model:     "gemini-embedding-001",
		BatchSize: 100,
	}
}

// GeminiEmbedder embeds descriptions with the Gemini embedding API. A side's
// texts go out in as few requests as the API batch limit allows.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	batchSize int
}

// NewGeminiEmbedder creates an embedder. An empty API key falls back to the
// GEMINI_API_KEY / GOOGLE_API_KEY environment variables read by the SDK.
func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	defaults := DefaultGeminiConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiEmbedder{client: client, model: cfg.Model, batchSize: cfg.BatchSize}, nil
}

// Model identifies the embedding space, used as part of cache keys.
func (e *GeminiEmbedder) Model() string {
	return "gemini:" + e.model
}

// Embed implements Embedder. Blank texts are not sent and map to nil vectors.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var pending []int
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += e.batchSize {
		end := start + e.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		contents := make([]*genai.Content, len(batch))
		for j, i := range batch {
			contents[j] = &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: texts[i]}},
			}
		}

		resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
			TaskType: "SEMANTIC_SIMILARITY",
		})
		if err != nil {
			return nil, fmt.Errorf("gemini embed request failed: %w", err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(batch))
		}

		for j, i := range batch {
			if resp.Embeddings[j] == nil {
				return nil, fmt.Errorf("gemini returned an empty embedding for text %d", i)
			}
			out[i] = resp.Embeddings[j].Values
		}
	}

	return out, nil
}
