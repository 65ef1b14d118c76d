// Package llm wraps the external embedding and generation services behind
// small interfaces. Failures surface as typed service errors; the engine
// never degrades to fabricated answers when a call fails.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"
)

var (
	ErrEmbeddingService  = errors.New("embedding service error")
	ErrGenerationService = errors.New("generation service error")
)

// Embedder produces a fixed-dimension vector per input text. Deterministic
// for identical text and model version; drift across model versions is an
// accepted characteristic of the upstream service.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator synthesizes an answer from a fully assembled prompt. The result
// is a single typed string; there is no loosely-typed payload to probe.
type Generator interface {
	Generate(ctx context.Context, messages []*schema.Message) (string, error)
}

// einoEmbedder adapts an eino embedding.Embedder to the float32 vectors the
// vector index stores.
type einoEmbedder struct {
	inner embedding.Embedder
}

func (e *einoEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.inner.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingService, len(vectors), len(texts))
	}
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		out[i] = make([]float32, len(v))
		for j, f := range v {
			out[i][j] = float32(f)
		}
	}
	return out, nil
}

// ========== Decorators ==========
//
// Retry and timeout policy belong to the caller, not to the case store or
// the vector index. Wrap the clients at construction time as needed.

type timeoutEmbedder struct {
	inner   Embedder
	timeout time.Duration
}

// WithEmbedTimeout bounds every embedding call with a deadline.
func WithEmbedTimeout(inner Embedder, timeout time.Duration) Embedder {
	return &timeoutEmbedder{inner: inner, timeout: timeout}
}

func (e *timeoutEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	vectors, err := e.inner.EmbedTexts(ctx, texts)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", ErrEmbeddingService, e.timeout)
		}
		return nil, err
	}
	return vectors, nil
}

type timeoutGenerator struct {
	inner   Generator
	timeout time.Duration
}

// WithGenerateTimeout bounds every generation call with a deadline.
func WithGenerateTimeout(inner Generator, timeout time.Duration) Generator {
	return &timeoutGenerator{inner: inner, timeout: timeout}
}

func (g *timeoutGenerator) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	answer, err := g.inner.Generate(ctx, messages)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timed out after %s", ErrGenerationService, g.timeout)
		}
		return "", err
	}
	return answer, nil
}

type retryEmbedder struct {
	inner    Embedder
	attempts int
	backoff  time.Duration
}

// WithEmbedRetry retries failed embedding calls with linear backoff.
func WithEmbedRetry(inner Embedder, attempts int, backoff time.Duration) Embedder {
	if attempts < 1 {
		attempts = 1
	}
	return &retryEmbedder{inner: inner, attempts: attempts, backoff: backoff}
}

func (e *retryEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for i := 0; i < e.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, ctx.Err())
			case <-time.After(time.Duration(i) * e.backoff):
			}
		}
		vectors, err := e.inner.EmbedTexts(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
