package service

import (
	"context"
	"fmt"
	"time"

	"ai-ragchat-be/internal/dto"
	"ai-ragchat-be/internal/entity"
	"ai-ragchat-be/internal/repository/ragstore"
	"ai-ragchat-be/internal/repository/specification"
	"ai-ragchat-be/internal/repository/unitofwork"
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/rag/history"

	"github.com/google/uuid"
)

const defaultPageLimit = 20

type IConversationService interface {
	Create(ctx context.Context, userId uuid.UUID, req *dto.CreateConversationRequest) (*dto.CreateConversationResponse, error)
	Show(ctx context.Context, userId uuid.UUID, id uuid.UUID) (*dto.ShowConversationResponse, error)
	GetAll(ctx context.Context, userId uuid.UUID, req *dto.ListConversationsRequest) (*dto.ListConversationsResponse, error)
	Delete(ctx context.Context, userId uuid.UUID, id uuid.UUID) error

	// Open binds a realtime session to a conversation. An empty id starts a
	// new conversation; an unknown id is created for the user; a
	// conversation owned by someone else is NotFound.
	Open(ctx context.Context, userId uuid.UUID, conversationId string) (*entity.Conversation, error)
}

type conversationService struct {
	uowFactory unitofwork.RepositoryFactory
	history    *history.History
}

func NewConversationService(uowFactory unitofwork.RepositoryFactory, hist *history.History) IConversationService {
	return &conversationService{
		uowFactory: uowFactory,
		history:    hist,
	}
}

func (s *conversationService) Create(ctx context.Context, userId uuid.UUID, req *dto.CreateConversationRequest) (*dto.CreateConversationResponse, error) {
	conversation := &entity.Conversation{
		Id:        uuid.New(),
		UserId:    userId,
		Title:     req.Title,
		CreatedAt: time.Now().UTC(),
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.ConversationRepository().Create(ctx, conversation); err != nil {
		return nil, apperr.Wrap("conversation.create", err, apperr.KindTransient)
	}

	return &dto.CreateConversationResponse{Id: conversation.Id}, nil
}

func (s *conversationService) Show(ctx context.Context, userId uuid.UUID, id uuid.UUID) (*dto.ShowConversationResponse, error) {
	const op = "conversation.show"
	uow := s.uowFactory.NewUnitOfWork(ctx)

	conversation, err := s.findOwned(ctx, uow, userId, id)
	if err != nil {
		return nil, err
	}

	messages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByConversationID{ConversationID: id},
		specification.OrderBy{Field: "created_at"},
		specification.OrderBy{Field: "id"},
	)
	if err != nil {
		return nil, apperr.Wrap(op, err, apperr.KindTransient)
	}

	res := &dto.ShowConversationResponse{
		ConversationResponse: *toConversationResponse(conversation),
		Messages:             make([]*dto.ChatMessageResponse, 0, len(messages)),
	}
	for _, m := range messages {
		res.Messages = append(res.Messages, toChatMessageResponse(m))
	}
	return res, nil
}

func (s *conversationService) GetAll(ctx context.Context, userId uuid.UUID, req *dto.ListConversationsRequest) (*dto.ListConversationsResponse, error) {
	const op = "conversation.list"
	page, limit := req.Page, req.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	total, err := uow.ConversationRepository().Count(ctx, specification.UserOwnedBy{UserID: userId})
	if err != nil {
		return nil, apperr.Wrap(op, err, apperr.KindTransient)
	}

	conversations, err := uow.ConversationRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.OrderBy{Field: "created_at", Desc: true},
		specification.Pagination{Limit: limit, Offset: (page - 1) * limit},
	)
	if err != nil {
		return nil, apperr.Wrap(op, err, apperr.KindTransient)
	}

	res := &dto.ListConversationsResponse{
		Conversations: make([]*dto.ConversationResponse, 0, len(conversations)),
		Total:         total,
		Page:          page,
		Limit:         limit,
	}
	for _, c := range conversations {
		res.Conversations = append(res.Conversations, toConversationResponse(c))
	}
	return res, nil
}

func (s *conversationService) Delete(ctx context.Context, userId uuid.UUID, id uuid.UUID) error {
	const op = "conversation.delete"
	uow := s.uowFactory.NewUnitOfWork(ctx)

	if _, err := s.findOwned(ctx, uow, userId, id); err != nil {
		return err
	}

	if err := uow.Begin(ctx); err != nil {
		return apperr.Wrap(op, err, apperr.KindTransient)
	}
	defer uow.Rollback()

	if err := uow.ChatMessageRepository().DeleteByConversationId(ctx, id); err != nil {
		return apperr.Wrap(op, err, apperr.KindTransient)
	}
	if err := uow.ConversationRepository().Delete(ctx, id); err != nil {
		return apperr.Wrap(op, err, apperr.KindTransient)
	}
	if err := uow.Commit(); err != nil {
		return apperr.Wrap(op, err, apperr.KindTransient)
	}

	s.history.Forget(id.String())
	return nil
}

func (s *conversationService) Open(ctx context.Context, userId uuid.UUID, conversationId string) (*entity.Conversation, error) {
	const op = "conversation.open"
	uow := s.uowFactory.NewUnitOfWork(ctx)

	id := uuid.New()
	if conversationId != "" {
		parsed, err := uuid.Parse(conversationId)
		if err != nil {
			return nil, apperr.NotFound(op, fmt.Sprintf("conversation %q not found", conversationId))
		}
		id = parsed

		existing, err := uow.ConversationRepository().FindOne(ctx, specification.ByID{ID: id})
		if err != nil {
			return nil, apperr.Wrap(op, err, apperr.KindTransient)
		}
		if existing != nil {
			if existing.UserId != userId {
				return nil, apperr.NotFound(op, fmt.Sprintf("conversation %s not found", id))
			}
			return existing, nil
		}
	}

	conversation := &entity.Conversation{
		Id:        id,
		UserId:    userId,
		CreatedAt: time.Now().UTC(),
	}
	if err := uow.ConversationRepository().Create(ctx, conversation); err != nil {
		return nil, apperr.Wrap(op, err, apperr.KindTransient)
	}
	return conversation, nil
}

// findOwned hides conversations of other users behind NotFound.
func (s *conversationService) findOwned(ctx context.Context, uow unitofwork.UnitOfWork, userId, id uuid.UUID) (*entity.Conversation, error) {
	const op = "conversation.find"
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

func toConversationResponse(c *entity.Conversation) *dto.ConversationResponse {
	return &dto.ConversationResponse{
		Id:        c.Id,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toChatMessageResponse(m *entity.ChatMessage) *dto.ChatMessageResponse {
	return &dto.ChatMessageResponse{
		Id:        m.Id,
		Role:      string(m.Role),
		Content:   m.Content,
		Context:   ragstore.ToHistoryMessage(m).Context,
		CreatedAt: m.CreatedAt,
	}
}
