package factory

import (
	"context"
	"fmt"
	"time"

	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/embedding"
	"ai-ragchat-be/pkg/embedding/jina"

	"github.com/redis/go-redis/v9"
)

type Settings struct {
	Provider  string // ollama | gemini | jina
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int

	Cache    string // local | redis | none
	CacheTTL time.Duration
	Redis    *redis.Client
}

// NewEmbeddingProvider builds the configured provider and wraps it in the
// configured cache.
func NewEmbeddingProvider(ctx context.Context, s Settings) (embedding.EmbeddingProvider, error) {
	var (
		provider embedding.EmbeddingProvider
		err      error
	)

	switch s.Provider {
	case "ollama":
		provider = embedding.NewOllamaProvider(s.BaseURL, s.Model, s.Dimension)
	case "gemini":
		provider, err = embedding.NewGeminiProvider(ctx, s.APIKey, s.Model, s.Dimension)
	case "jina":
		if s.APIKey == "" {
			return nil, apperr.Configuration("embedding.factory", "JINA_API_KEY is required for the jina embedding provider")
		}
		p := jina.NewJinaProvider(s.APIKey, s.Dimension)
		if s.BaseURL != "" {
			p.WithBaseURL(s.BaseURL)
		}
		provider = p
	default:
		return nil, apperr.Configuration("embedding.factory", fmt.Sprintf("unsupported embedding provider: %s", s.Provider))
	}
	if err != nil {
		return nil, err
	}

	switch s.Cache {
	case "", "none":
		return provider, nil
	case "local":
		return embedding.NewCachedProvider(provider, embedding.NewLocalVectorCache(s.CacheTTL)), nil
	case "redis":
		if s.Redis == nil {
			return nil, apperr.Configuration("embedding.factory", "redis embedding cache requires a redis connection")
		}
		return embedding.NewCachedProvider(provider, embedding.NewRedisVectorCache(s.Redis, s.CacheTTL)), nil
	default:
		return nil, apperr.Configuration("embedding.factory", fmt.Sprintf("unsupported embedding cache: %s", s.Cache))
	}
}
