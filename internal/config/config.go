package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/vectorstore"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Ai       AIConfig
	Rag      RagConfig
	Vector   VectorConfig
	Timeouts TimeoutConfig
	Cache    CacheConfig
	Session  SessionConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	SessionLogFilePath string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	JwtSecret          string
}

type DatabaseConfig struct {
	// Empty connection string runs on in-memory repositories.
	Connection string
}

type AIConfig struct {
	EmbeddingProvider  string // "ollama", "gemini" or "jina"
	EmbeddingModel     string
	EmbeddingDimension int
	OllamaBaseURL      string
	GoogleGemini       string
	JinaAPIKey         string

	LLMProvider     string // "ollama", "gemini" or "huggingface"
	LLMModel        string
	LLMBaseURL      string
	HuggingFaceKey  string
	Temperature     float64
	MaxOutputTokens int
	SystemPrompt    string
}

type RagConfig struct {
	ChunkSize       int
	ChunkOverlap    int
	MinSimilarity   float64
	NumResults      int
	MaxHistory      int
	MaxPromptTokens int // 0 disables the token budget
	IngestTopic     string
}

type VectorConfig struct {
	Backend             string // "memory", "badger", "pgvector" or "vectorize"
	BadgerPath          string
	CFAccountID         string
	CFAPIToken          string
	CFIndexName         string
	CFRequestsPerSecond float64
}

type TimeoutConfig struct {
	Embed    time.Duration
	Vector   time.Duration
	Generate time.Duration
}

type CacheConfig struct {
	Embedding    string // "local", "redis" or "none"
	EmbeddingTTL time.Duration
	HistoryTTL   time.Duration
}

type SessionConfig struct {
	// Only "preempt" is supported: a newer channel for the same user closes
	// the older one.
	Policy string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			SessionLogFilePath: getEnv("SESSION_LOG_FILE_PATH", "logs/session.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
			JwtSecret:          getEnv("JWT_SECRET", ""),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Ai: AIConfig{
			EmbeddingProvider:  getEnv("EMBEDDING_PROVIDER", "ollama"),
			EmbeddingModel:     getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", 768),
			OllamaBaseURL:      getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			GoogleGemini:       getEnv("GOOGLE_GEMINI_API_KEY", ""),
			JinaAPIKey:         getEnv("JINA_API_KEY", ""),
			LLMProvider:        getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:           getEnv("LLM_MODEL", "llama3"),
			LLMBaseURL:         getEnv("LLM_BASE_URL", ""),
			HuggingFaceKey:     getEnv("HUGGINGFACE_API_KEY", ""),
			Temperature:        getEnvAsFloat("LLM_TEMPERATURE", 0.7),
			MaxOutputTokens:    getEnvAsInt("LLM_MAX_OUTPUT_TOKENS", 2048),
			SystemPrompt:       getEnv("LLM_SYSTEM_PROMPT", ""),
		},
		Rag: RagConfig{
			ChunkSize:       getEnvAsInt("RAG_CHUNK_SIZE", 1000),
			ChunkOverlap:    getEnvAsInt("RAG_CHUNK_OVERLAP", 200),
			MinSimilarity:   getEnvAsFloat("RAG_MIN_SIMILARITY", 0.7),
			NumResults:      getEnvAsInt("RAG_NUM_RESULTS", 3),
			MaxHistory:      getEnvAsInt("RAG_MAX_HISTORY", 10),
			MaxPromptTokens: getEnvAsInt("RAG_MAX_PROMPT_TOKENS", 0),
			IngestTopic:     getEnv("INGEST_DOCUMENT_TOPIC_NAME", "INGEST_DOCUMENT"),
		},
		Vector: VectorConfig{
			Backend:             getEnv("VECTOR_DB_TYPE", "memory"),
			BadgerPath:          getEnv("BADGER_PATH", "data/vectors"),
			CFAccountID:         getEnv("CF_ACCOUNT_ID", ""),
			CFAPIToken:          getEnv("CF_API_TOKEN", ""),
			CFIndexName:         getEnv("CF_VECTORIZE_INDEX_NAME", ""),
			CFRequestsPerSecond: getEnvAsFloat("CF_REQUESTS_PER_SECOND", 10),
		},
		Timeouts: TimeoutConfig{
			Embed:    getEnvAsDuration("EMBED_TIMEOUT", 15*time.Second),
			Vector:   getEnvAsDuration("VECTOR_TIMEOUT", 10*time.Second),
			Generate: getEnvAsDuration("GENERATE_TIMEOUT", 60*time.Second),
		},
		Cache: CacheConfig{
			Embedding:    getEnv("EMBEDDING_CACHE", "local"),
			EmbeddingTTL: getEnvAsDuration("EMBEDDING_CACHE_TTL", 24*time.Hour),
			HistoryTTL:   getEnvAsDuration("HISTORY_CACHE_TTL", 30*time.Minute),
		},
		Session: SessionConfig{
			Policy: getEnv("SESSION_POLICY", "preempt"),
		},
	}
}

// Validate reports the first setting the service cannot start with.
func (c *Config) Validate() error {
	const op = "config.validate"

	if c.Rag.ChunkSize <= 0 {
		return apperr.Configuration(op, fmt.Sprintf("RAG_CHUNK_SIZE must be positive, got %d", c.Rag.ChunkSize))
	}
	if c.Rag.ChunkOverlap < 0 || c.Rag.ChunkOverlap >= c.Rag.ChunkSize {
		return apperr.Configuration(op, fmt.Sprintf("RAG_CHUNK_OVERLAP must be in [0, %d), got %d", c.Rag.ChunkSize, c.Rag.ChunkOverlap))
	}
	if c.Rag.NumResults <= 0 {
		return apperr.Configuration(op, "RAG_NUM_RESULTS must be positive")
	}
	if c.Ai.EmbeddingDimension <= 0 {
		return apperr.Configuration(op, "EMBEDDING_DIMENSION must be positive")
	}

	switch c.Ai.EmbeddingProvider {
	case "ollama", "gemini", "jina":
	default:
		return apperr.Configuration(op, fmt.Sprintf("unsupported EMBEDDING_PROVIDER: %s", c.Ai.EmbeddingProvider))
	}
	switch c.Ai.LLMProvider {
	case "ollama", "gemini", "huggingface":
	default:
		return apperr.Configuration(op, fmt.Sprintf("unsupported LLM_PROVIDER: %s", c.Ai.LLMProvider))
	}
	switch c.Cache.Embedding {
	case "local", "redis", "none":
	default:
		return apperr.Configuration(op, fmt.Sprintf("unsupported EMBEDDING_CACHE: %s", c.Cache.Embedding))
	}
	if c.Cache.Embedding == "redis" && c.App.RedisURL == "" {
		return apperr.Configuration(op, "EMBEDDING_CACHE=redis requires REDIS_URL")
	}

	switch c.Vector.Backend {
	case "memory", "badger", "vectorize":
	case "pgvector":
		if c.Database.Connection == "" {
			return apperr.Configuration(op, "VECTOR_DB_TYPE=pgvector requires DB_CONNECTION_STRING")
		}
	default:
		return apperr.Configuration(op, fmt.Sprintf("unsupported VECTOR_DB_TYPE: %s", c.Vector.Backend))
	}
	// Every backend scores with cosine similarity.
	if err := vectorstore.CheckThreshold(vectorstore.Cosine, c.Rag.MinSimilarity); err != nil {
		return err
	}

	if c.Timeouts.Embed <= 0 || c.Timeouts.Vector <= 0 || c.Timeouts.Generate <= 0 {
		return apperr.Configuration(op, "external call timeouts must be positive")
	}
	if c.Session.Policy != "preempt" {
		return apperr.Configuration(op, fmt.Sprintf("unsupported SESSION_POLICY: %s", c.Session.Policy))
	}
	if c.App.JwtSecret == "" {
		return apperr.Configuration(op, "JWT_SECRET is required")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("15s") or plain seconds ("15").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
