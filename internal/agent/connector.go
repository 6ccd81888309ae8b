// Package agent implements the dermatology reasoning engine on top of langchaingo.
package agent

import (
	"context"
	"fmt"

	"dermabot/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModel creates the chat model for the configured provider. Groq is served
// through its OpenAI-compatible endpoint.
func NewModel(ctx context.Context, cfg config.ModelConfig) (llms.Model, error) {
	log.Debug().
		Str("provider", cfg.Provider).
		Str("model", cfg.ModelID).
		Msg("Creating chat model")

	switch cfg.Provider {
	case "groq", "openai":
		opts := []openai.Option{
			openai.WithModel(cfg.ModelID),
			openai.WithToken(cfg.APIKey),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "gemini":
		model, err := googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultModel(cfg.ModelID),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// NewEmbedder creates the OpenAI embedder used to query the knowledge base.
func NewEmbedder(cfg config.KnowledgeConfig) (embeddings.Embedder, error) {
	client, err := openai.New(
		openai.WithToken(cfg.EmbeddingKey),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return embeddings.NewEmbedder(client)
}
