package bootstrap

import (
	"context"
	"fmt"

	"ai-ragchat-be/internal/config"
	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/internal/repository/ragstore"
	"ai-ragchat-be/internal/repository/unitofwork"
	"ai-ragchat-be/pkg/embedding"
	embfactory "ai-ragchat-be/pkg/embedding/factory"
	"ai-ragchat-be/pkg/rag/chunk"
	"ai-ragchat-be/pkg/rag/ingest"
	"ai-ragchat-be/pkg/rag/retrieval"
	"ai-ragchat-be/pkg/vectorstore"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Pipeline is the ingestion and retrieval half of the system. The server
// and the ingest CLI build it the same way so both see the same index.
type Pipeline struct {
	Embedder  embedding.EmbeddingProvider
	Index     vectorstore.Index
	Splitter  *chunk.Splitter
	Ingestor  *ingest.Ingestor
	Retriever *retrieval.Retriever
}

// NewPipeline builds the configured embedder and vector backend. db may be
// nil unless the backend is pgvector; rdb may be nil unless the embedding
// cache is redis.
func NewPipeline(
	ctx context.Context,
	cfg *config.Config,
	db *gorm.DB,
	rdb *redis.Client,
	uowFactory unitofwork.RepositoryFactory,
	log logger.ILogger,
) (*Pipeline, error) {
	splitter, err := chunk.NewSplitter(cfg.Rag.ChunkSize, cfg.Rag.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	embedder, err := embfactory.NewEmbeddingProvider(ctx, embfactory.Settings{
		Provider:  cfg.Ai.EmbeddingProvider,
		Model:     cfg.Ai.EmbeddingModel,
		BaseURL:   embeddingBaseURL(cfg),
		APIKey:    embeddingKey(cfg),
		Dimension: cfg.Ai.EmbeddingDimension,
		Cache:     cfg.Cache.Embedding,
		CacheTTL:  cfg.Cache.EmbeddingTTL,
		Redis:     rdb,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	index, err := vectorstore.New(ctx, vectorstore.Settings{
		Backend:    cfg.Vector.Backend,
		Dimension:  cfg.Ai.EmbeddingDimension,
		BadgerPath: cfg.Vector.BadgerPath,
		DB:         db,
		Vectorize: vectorstore.VectorizeConfig{
			AccountID:         cfg.Vector.CFAccountID,
			APIToken:          cfg.Vector.CFAPIToken,
			IndexName:         cfg.Vector.CFIndexName,
			RequestsPerSecond: cfg.Vector.CFRequestsPerSecond,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}
	if err := vectorstore.CheckThreshold(index.Metric(), cfg.Rag.MinSimilarity); err != nil {
		index.Close()
		return nil, err
	}

	ingestor := ingest.NewIngestor(
		splitter,
		embedder,
		index,
		ragstore.NewDocumentStore(uowFactory),
		ingest.Timeouts{Embed: cfg.Timeouts.Embed, Vector: cfg.Timeouts.Vector},
		log,
	)
	retriever := retrieval.NewRetriever(
		embedder,
		index,
		retrieval.Timeouts{Embed: cfg.Timeouts.Embed, Vector: cfg.Timeouts.Vector},
		log,
	)

	return &Pipeline{
		Embedder:  embedder,
		Index:     index,
		Splitter:  splitter,
		Ingestor:  ingestor,
		Retriever: retriever,
	}, nil
}

func embeddingKey(cfg *config.Config) string {
	switch cfg.Ai.EmbeddingProvider {
	case "gemini":
		return cfg.Ai.GoogleGemini
	case "jina":
		return cfg.Ai.JinaAPIKey
	default:
		return ""
	}
}

func embeddingBaseURL(cfg *config.Config) string {
	if cfg.Ai.EmbeddingProvider == "ollama" {
		return cfg.Ai.OllamaBaseURL
	}
	return ""
}
