package config

import (
	"testing"
	"time"

	"ai-ragchat-be/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App: AppConfig{JwtSecret: "secret"},
		Ai: AIConfig{
			EmbeddingProvider:  "ollama",
			EmbeddingDimension: 768,
			LLMProvider:        "ollama",
		},
		Rag:      RagConfig{ChunkSize: 1000, ChunkOverlap: 200, MinSimilarity: 0.7, NumResults: 3},
		Vector:   VectorConfig{Backend: "memory"},
		Timeouts: TimeoutConfig{Embed: time.Second, Vector: time.Second, Generate: time.Second},
		Cache:    CacheConfig{Embedding: "local"},
		Session:  SessionConfig{Policy: "preempt"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, ok: true},
		{name: "overlap equals size", mutate: func(c *Config) { c.Rag.ChunkOverlap = 1000 }},
		{name: "overlap above size", mutate: func(c *Config) { c.Rag.ChunkOverlap = 1500 }},
		{name: "negative overlap", mutate: func(c *Config) { c.Rag.ChunkOverlap = -1 }},
		{name: "zero chunk size", mutate: func(c *Config) { c.Rag.ChunkSize = 0 }},
		{name: "unknown backend", mutate: func(c *Config) { c.Vector.Backend = "faiss" }},
		{name: "pgvector without database", mutate: func(c *Config) { c.Vector.Backend = "pgvector" }},
		{name: "pgvector with database", mutate: func(c *Config) {
			c.Vector.Backend = "pgvector"
			c.Database.Connection = "postgres://localhost/db"
		}, ok: true},
		{name: "threshold above metric", mutate: func(c *Config) { c.Rag.MinSimilarity = 1.1 }},
		{name: "threshold below metric", mutate: func(c *Config) { c.Rag.MinSimilarity = -1.5 }},
		{name: "unknown embedding provider", mutate: func(c *Config) { c.Ai.EmbeddingProvider = "openai" }},
		{name: "unknown llm provider", mutate: func(c *Config) { c.Ai.LLMProvider = "claude" }},
		{name: "redis cache without redis", mutate: func(c *Config) { c.Cache.Embedding = "redis" }},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeouts.Generate = 0 }},
		{name: "reject policy", mutate: func(c *Config) { c.Session.Policy = "reject" }},
		{name: "missing jwt secret", mutate: func(c *Config) { c.App.JwtSecret = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("TEST_TIMEOUT_GO", "250ms")
	t.Setenv("TEST_TIMEOUT_SECS", "7")
	t.Setenv("TEST_TIMEOUT_BAD", "soon")

	assert.Equal(t, 250*time.Millisecond, getEnvAsDuration("TEST_TIMEOUT_GO", time.Second))
	assert.Equal(t, 7*time.Second, getEnvAsDuration("TEST_TIMEOUT_SECS", time.Second))
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_TIMEOUT_BAD", time.Second))
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_TIMEOUT_UNSET", time.Second))
}

func TestGetEnvAsFloat(t *testing.T) {
	t.Setenv("TEST_TEMPERATURE", "0.2")
	assert.InDelta(t, 0.2, getEnvAsFloat("TEST_TEMPERATURE", 0.7), 1e-9)
	assert.InDelta(t, 0.7, getEnvAsFloat("TEST_TEMPERATURE_UNSET", 0.7), 1e-9)
}
