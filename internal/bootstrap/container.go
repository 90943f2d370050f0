package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"ai-ragchat-be/internal/config"
	"ai-ragchat-be/internal/controller"
	"ai-ragchat-be/internal/handler"
	"ai-ragchat-be/internal/model"
	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/internal/pkg/serverutils"
	"ai-ragchat-be/internal/repository/memory"
	"ai-ragchat-be/internal/repository/ragstore"
	"ai-ragchat-be/internal/repository/unitofwork"
	"ai-ragchat-be/internal/service"
	"ai-ragchat-be/internal/websocket"
	"ai-ragchat-be/pkg/events"
	llmfactory "ai-ragchat-be/pkg/llm/factory"
	pktNats "ai-ragchat-be/pkg/nats"
	"ai-ragchat-be/pkg/rag/history"
	"ai-ragchat-be/pkg/rag/prompt"
	"ai-ragchat-be/pkg/rag/response"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	ConversationController controller.IConversationController
	DocumentController     controller.IDocumentController
	HealthController       controller.IHealthController

	// Background Services (Exposed for main.go to run)
	ConsumerService     service.IConsumerService
	NotificationService *service.NotificationService

	// WebSockets
	ChatHandler  *handler.ChatHandler
	WebSocketHub *websocket.Hub

	Logger logger.ILogger

	closers []func()
}

// NewContainer wires every component. db is nil when no DSN is configured,
// in which case conversations and documents live in memory.
func NewContainer(ctx context.Context, db *gorm.DB, cfg *config.Config) (*Container, error) {
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	c := &Container{Logger: sysLogger}

	// 1. Persistence
	var uowFactory unitofwork.RepositoryFactory
	if db != nil {
		if err := db.AutoMigrate(&model.Conversation{}, &model.ChatMessage{}, &model.Document{}); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		uowFactory = unitofwork.NewRepositoryFactory(db)
	} else {
		log.Println("[WARN] DB_CONNECTION_STRING not set, conversations and documents are kept in memory")
		uowFactory = memory.NewRepositoryFactory(memory.NewStore())
	}

	// 2. Infrastructure
	rdb := connectRedis(ctx, cfg.App.RedisURL)
	if rdb != nil {
		c.closers = append(c.closers, func() { rdb.Close() })
	}

	var eventPublisher events.Publisher
	var natsSub *pktNats.Subscriber
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			eventPublisher = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
		natsSub, err = pktNats.NewSubscriber(cfg.App.NatsURL, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
			natsSub = nil
		} else {
			c.closers = append(c.closers, natsSub.Close)
		}
	}

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewStdLogger(false, false),
	)
	c.closers = append(c.closers, func() { pubSub.Close() })

	// 3. RAG pipeline
	pipeline, err := NewPipeline(ctx, cfg, db, rdb, uowFactory, sysLogger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.closers = append(c.closers, func() { pipeline.Index.Close() })

	llmProvider, err := llmfactory.NewLLMProvider(ctx, llmfactory.Settings{
		Provider: cfg.Ai.LLMProvider,
		Model:    cfg.Ai.LLMModel,
		BaseURL:  llmBaseURL(cfg),
		APIKey:   llmKey(cfg),
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	hist := history.New(ragstore.NewHistoryStore(uowFactory), cfg.Rag.MaxHistory, cfg.Cache.HistoryTTL)

	assemblerOpts := []prompt.Option{prompt.WithSystemPrompt(cfg.Ai.SystemPrompt)}
	if cfg.Rag.MaxPromptTokens > 0 {
		assemblerOpts = append(assemblerOpts, prompt.WithTokenBudget(cfg.Rag.MaxPromptTokens, prompt.NewTiktokenCounter(sysLogger)))
	}
	assembler := prompt.NewAssembler(assemblerOpts...)

	generator := response.NewGenerator(
		llmProvider,
		response.DecodingParams{Temperature: cfg.Ai.Temperature, MaxOutputTokens: cfg.Ai.MaxOutputTokens},
		cfg.Timeouts.Generate,
		sysLogger,
	)

	// 4. Services
	conversationService := service.NewConversationService(uowFactory, hist)
	chatService := service.NewChatService(
		uowFactory,
		conversationService,
		hist,
		pipeline.Retriever,
		assembler,
		generator,
		eventPublisher,
		service.ChatSettings{
			NumResults:    cfg.Rag.NumResults,
			MinSimilarity: cfg.Rag.MinSimilarity,
			MaxHistory:    cfg.Rag.MaxHistory,
		},
		sysLogger,
	)
	publisherService := service.NewPublisherService(cfg.Rag.IngestTopic, pubSub)
	documentService := service.NewDocumentService(pipeline.Ingestor, pipeline.Retriever, publisherService, eventPublisher, sysLogger)
	c.ConsumerService = service.NewConsumerService(pubSub, cfg.Rag.IngestTopic, documentService, sysLogger)

	// WebSocket Hub
	wsLogger := logger.NewIsolatedLogger(cfg.App.SessionLogFilePath)
	c.WebSocketHub = websocket.NewHub(rdb, wsLogger)
	if natsSub != nil {
		c.NotificationService = service.NewNotificationService(natsSub, c.WebSocketHub, wsLogger)
	}

	// 5. Controllers
	tokens := serverutils.NewTokenValidator(cfg.App.JwtSecret)
	c.ConversationController = controller.NewConversationController(conversationService, tokens)
	c.DocumentController = controller.NewDocumentController(documentService, tokens)
	c.HealthController = controller.NewHealthController(controller.HealthInfo{
		VectorBackend:     pipeline.Index.Name(),
		Metric:            pipeline.Index.Metric().Name,
		MetricMin:         pipeline.Index.Metric().Min,
		MetricMax:         pipeline.Index.Metric().Max,
		EmbeddingProvider: pipeline.Embedder.Name(),
		LLMProvider:       llmProvider.Name(),
	}, c.WebSocketHub)
	c.ChatHandler = handler.NewChatHandler(c.WebSocketHub, tokens, chatService, wsLogger)

	return c, nil
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
	if c.Logger != nil {
		c.Logger.Sync()
	}
}

// connectRedis returns nil when no URL is configured. An unreachable server
// is only a warning: the client reconnects on its own.
func connectRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}
	return rdb
}

func llmBaseURL(cfg *config.Config) string {
	if cfg.Ai.LLMBaseURL != "" {
		return cfg.Ai.LLMBaseURL
	}
	if cfg.Ai.LLMProvider == "ollama" {
		return cfg.Ai.OllamaBaseURL
	}
	return ""
}

func llmKey(cfg *config.Config) string {
	switch cfg.Ai.LLMProvider {
	case "gemini":
		return cfg.Ai.GoogleGemini
	case "huggingface":
		return cfg.Ai.HuggingFaceKey
	default:
		return ""
	}
}
