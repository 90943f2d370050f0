package service

import (
	"context"
	"fmt"

	"ai-ragchat-be/internal/entity"
	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/internal/repository/specification"
	"ai-ragchat-be/internal/repository/unitofwork"
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/events"
	"ai-ragchat-be/pkg/rag/history"
	"ai-ragchat-be/pkg/rag/prompt"
	"ai-ragchat-be/pkg/rag/response"
	"ai-ragchat-be/pkg/rag/retrieval"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ChatSettings are the per-turn retrieval and history knobs.
type ChatSettings struct {
	NumResults    int
	MinSimilarity float64
	MaxHistory    int
}

// IChatService runs conversation turns. It is what realtime sessions drive.
type IChatService interface {
	OpenConversation(ctx context.Context, userId uuid.UUID, conversationId string) (string, error)
	HandleTurn(ctx context.Context, userId uuid.UUID, conversationId, content string) (*history.Message, error)
}

type chatService struct {
	uowFactory    unitofwork.RepositoryFactory
	conversations IConversationService
	history       *history.History
	retriever     *retrieval.Retriever
	assembler     *prompt.Assembler
	generator     *response.Generator
	publisher     events.Publisher
	settings      ChatSettings
	logger        logger.ILogger
	tracer        trace.Tracer
}

func NewChatService(
	uowFactory unitofwork.RepositoryFactory,
	conversations IConversationService,
	hist *history.History,
	retriever *retrieval.Retriever,
	assembler *prompt.Assembler,
	generator *response.Generator,
	publisher events.Publisher,
	settings ChatSettings,
	log logger.ILogger,
) IChatService {
	return &chatService{
		uowFactory:    uowFactory,
		conversations: conversations,
		history:       hist,
		retriever:     retriever,
		assembler:     assembler,
		generator:     generator,
		publisher:     publisher,
		settings:      settings,
		logger:        log,
		tracer:        otel.Tracer("chat"),
	}
}

func (s *chatService) OpenConversation(ctx context.Context, userId uuid.UUID, conversationId string) (string, error) {
	conversation, err := s.conversations.Open(ctx, userId, conversationId)
	if err != nil {
		return "", err
	}
	return conversation.Id.String(), nil
}

// HandleTurn answers one user message. Both messages are appended only
// after generation succeeds, so a failed turn leaves the history as it was
// and the client can simply resend.
func (s *chatService) HandleTurn(ctx context.Context, userId uuid.UUID, conversationId, content string) (*history.Message, error) {
	ctx, span := s.tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("conversation_id", conversationId),
	))
	defer span.End()

	conversation, err := s.ownedConversation(ctx, userId, conversationId)
	if err != nil {
		return nil, traced(span, err)
	}

	hist, err := s.history.Recent(ctx, conversationId, s.settings.MaxHistory)
	if err != nil {
		return nil, traced(span, err)
	}

	results, err := s.retrieve(ctx, content)
	if err != nil {
		return nil, traced(span, err)
	}

	p := s.assembler.Assemble(hist, results, content)
	reply, err := s.generate(ctx, p)
	if err != nil {
		return nil, traced(span, err)
	}

	assistant, err := s.persist(ctx, conversation, content, reply, results)
	if err != nil {
		return nil, traced(span, err)
	}

	s.logger.Info("ChatService", "Turn completed", map[string]interface{}{
		"conversation_id": conversationId,
		"context_chunks":  len(results),
		"history":         len(hist),
	})
	s.publish(ctx, events.New(events.TurnCompleted, map[string]interface{}{
		"user_id":         userId.String(),
		"conversation_id": conversationId,
		"message_id":      assistant.ID,
		"context_chunks":  len(results),
	}))
	return assistant, nil
}

func (s *chatService) ownedConversation(ctx context.Context, userId uuid.UUID, conversationId string) (*entity.Conversation, error) {
	const op = "chat.conversation"
	id, err := uuid.Parse(conversationId)
	if err != nil {
		return nil, apperr.NotFound(op, fmt.Sprintf("conversation %q not found", conversationId))
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	conversation, err := uow.ConversationRepository().FindOne(ctx,
		specification.ByID{ID: id},
		specification.UserOwnedBy{UserID: userId},
	)
	if err != nil {
		return nil, apperr.Wrap(op, err, apperr.KindTransient)
	}
	if conversation == nil {
		return nil, apperr.NotFound(op, fmt.Sprintf("conversation %s not found", id))
	}
	return conversation, nil
}

func (s *chatService) retrieve(ctx context.Context, query string) ([]retrieval.ContextResult, error) {
	ctx, span := s.tracer.Start(ctx, "retrieve")
	defer span.End()

	results, err := s.retriever.Retrieve(ctx, query, s.settings.NumResults, s.settings.MinSimilarity)
	if err != nil {
		return nil, traced(span, err)
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (s *chatService) generate(ctx context.Context, p prompt.Prompt) (string, error) {
	ctx, span := s.tracer.Start(ctx, "generate")
	defer span.End()

	reply, err := s.generator.Generate(ctx, p, s.generator.Defaults())
	if err != nil {
		return "", traced(span, err)
	}
	return reply, nil
}

// persist stores the user message and the reply as one unit; the
// conversation's updated_at and title move in the same transaction.
func (s *chatService) persist(
	ctx context.Context,
	conversation *entity.Conversation,
	userText, reply string,
	results []retrieval.ContextResult,
) (*history.Message, error) {
	ctx, span := s.tracer.Start(ctx, "persist")
	defer span.End()

	conversationId := conversation.Id.String()
	userMsg := &history.Message{
		ConversationID: conversationId,
		Role:           history.RoleUser,
		Content:        userText,
	}
	assistant := &history.Message{
		ConversationID: conversationId,
		Role:           history.RoleAssistant,
		Content:        reply,
		Context:        results,
	}
	if err := s.history.Append(ctx, userMsg, assistant); err != nil {
		return nil, traced(span, err)
	}
	return assistant, nil
}

func (s *chatService) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("ChatService", "Failed to publish event", map[string]interface{}{
			"type":  event.EventType(),
			"error": err.Error(),
		})
	}
}

func traced(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperr.KindOf(err).String())
	return err
}
