package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/embedding/ollama"
	"github.com/cloudwego/eino-ext/components/embedding/openai"

	"github.com/limitless/limitless/pkg/config"
)

// NewEmbedder creates an Embedder from provider config.
// Supported providers: openai (and openai-compatible endpoints via base_url),
// ollama.
func NewEmbedder(ctx context.Context, cfg config.ProviderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai", "custom", "":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		model := cfg.Model
		if model == "" {
			model = config.DefaultEmbeddingModel
		}
		embedder, err := openai.NewEmbedder(ctx, &openai.EmbeddingConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  apiKey,
			Model:   model,
		})
		if err != nil {
			return nil, fmt.Errorf("create OpenAI embedder: %w", err)
		}
		return &einoEmbedder{inner: embedder}, nil

	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		embedder, err := ollama.NewEmbedder(ctx, &ollama.EmbeddingConfig{
			BaseURL: baseURL,
			Model:   model,
		})
		if err != nil {
			return nil, fmt.Errorf("create Ollama embedder: %w", err)
		}
		return &einoEmbedder{inner: embedder}, nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
