package agent

import (
	"context"
	"fmt"

	"dermabot/internal/config"

	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

// KnowledgeHit is one passage returned by a knowledge base search.
type KnowledgeHit struct {
	Content string
	Source  string
	Score   float32
}

// KnowledgeBase searches reference dermatology material.
type KnowledgeBase interface {
	Search(ctx context.Context, query string) ([]KnowledgeHit, error)
}

// QdrantKnowledgeBase runs dense vector search over a Qdrant collection whose
// points carry "content" and "source" payload fields.
type QdrantKnowledgeBase struct {
	client     *qdrant.Client
	embedder   embeddings.Embedder
	collection string
	limit      uint64
}

func NewQdrantKnowledgeBase(cfg config.KnowledgeConfig, embedder embeddings.Embedder) (*QdrantKnowledgeBase, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	limit := cfg.Results
	if limit <= 0 {
		limit = 4
	}
	log.Info().Str("host", cfg.Host).Str("collection", cfg.Collection).Msg("Knowledge base connected")
	return &QdrantKnowledgeBase{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		limit:      uint64(limit),
	}, nil
}

func (kb *QdrantKnowledgeBase) Search(ctx context.Context, query string) ([]KnowledgeHit, error) {
	vec, err := kb.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	points, err := kb.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: kb.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(kb.limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	return hitsFromPoints(points), nil
}

// hitsFromPoints keeps points with a non-empty "content" payload, in score order.
func hitsFromPoints(points []*qdrant.ScoredPoint) []KnowledgeHit {
	hits := make([]KnowledgeHit, 0, len(points))
	for _, p := range points {
		content := p.GetPayload()["content"].GetStringValue()
		if content == "" {
			continue
		}
		hits = append(hits, KnowledgeHit{
			Content: content,
			Source:  p.GetPayload()["source"].GetStringValue(),
			Score:   p.GetScore(),
		})
	}
	return hits
}

func (kb *QdrantKnowledgeBase) Close() error {
	return kb.client.Close()
}
