package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/limitless/limitless/pkg/config"
)

// chatGenerator adapts an eino chat model to the Generator contract.
type chatGenerator struct {
	inner einoModel.BaseChatModel
}

func (g *chatGenerator) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	msg, err := g.inner.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationService, err)
	}
	if msg == nil || msg.Content == "" {
		return "", fmt.Errorf("%w: model returned no content", ErrGenerationService)
	}
	return msg.Content, nil
}

// NewGenerator creates a Generator from provider config.
// Supported providers: openai (and openai-compatible endpoints), anthropic,
// deepseek, ollama, qwen.
func NewGenerator(ctx context.Context, cfg config.ProviderConfig) (Generator, error) {
	apiKey := cfg.APIKey

	switch cfg.Provider {
	case "openai", "custom", "":
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		model := cfg.Model
		if model == "" {
			model = config.DefaultGenerationModel
		}
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  apiKey,
			Model:   model,
		})
		if err != nil {
			return nil, fmt.Errorf("create OpenAI model: %w", err)
		}
		return &chatGenerator{inner: chatModel}, nil

	case "anthropic":
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		baseURL := cfg.BaseURL
		chatModel, err := claude.NewChatModel(ctx, &claude.Config{
			BaseURL:   &baseURL,
			APIKey:    apiKey,
			Model:     cfg.Model,
			MaxTokens: 8192,
		})
		if err != nil {
			return nil, fmt.Errorf("create Claude model: %w", err)
		}
		return &chatGenerator{inner: chatModel}, nil

	case "deepseek":
		chatModel, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  apiKey,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("create DeepSeek model: %w", err)
		}
		return &chatGenerator{inner: chatModel}, nil

	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		chatModel, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("create Ollama model: %w", err)
		}
		return &chatGenerator{inner: chatModel}, nil

	case "qwen":
		chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  apiKey,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("create Qwen model: %w", err)
		}
		return &chatGenerator{inner: chatModel}, nil

	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", cfg.Provider)
	}
}
