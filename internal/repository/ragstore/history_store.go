// Package ragstore backs the rag collaborators with the relational
// repositories.
package ragstore

import (
	"context"
	"fmt"
	"strings"

	"ai-ragchat-be/internal/entity"
	"ai-ragchat-be/internal/repository/specification"
	"ai-ragchat-be/internal/repository/unitofwork"
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/rag/history"
	"ai-ragchat-be/pkg/rag/retrieval"

	"github.com/google/uuid"
)

type HistoryStore struct {
	uowFactory unitofwork.RepositoryFactory
}

var _ history.Store = (*HistoryStore)(nil)

func NewHistoryStore(uowFactory unitofwork.RepositoryFactory) *HistoryStore {
	return &HistoryStore{uowFactory: uowFactory}
}

// AppendMessages stores a turn in one transaction. The owning conversation
// is touched in the same transaction, taking its title from the first user
// message when it has none, so a failed write leaves neither messages nor
// a moved updated_at behind.
func (s *HistoryStore) AppendMessages(ctx context.Context, msgs []*history.Message) (err error) {
	const op = "history_store.append"
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]*entity.ChatMessage, len(msgs))
	for i, msg := range msgs {
		if rows[i], err = toChatMessage(msg); err != nil {
			return apperr.Permanent(op, err)
		}
	}
	convID := rows[0].ConversationId

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return apperr.Wrap(op, err, apperr.KindTransient)
	}
	defer uow.Rollback()

	conversation, err := uow.ConversationRepository().FindOne(ctx, specification.ByID{ID: convID})
	if err != nil {
		return apperr.Wrap(op, err, apperr.KindTransient)
	}
	if conversation == nil {
		return apperr.NotFound(op, fmt.Sprintf("conversation %s not found", convID))
	}

	for _, row := range rows {
		if err := uow.ChatMessageRepository().Create(ctx, row); err != nil {
			return apperr.Wrap(op, err, apperr.KindTransient)
		}
	}

	if conversation.Title == "" {
		for _, row := range rows {
			if row.Role == entity.ChatMessageRoleUser && strings.TrimSpace(row.Content) != "" {
				conversation.Title = titleFrom(row.Content)
				break
			}
		}
	}
	updatedAt := rows[len(rows)-1].CreatedAt
	conversation.UpdatedAt = &updatedAt
	if err := uow.ConversationRepository().Update(ctx, conversation); err != nil {
		return apperr.Wrap(op, err, apperr.KindTransient)
	}

	if err := uow.Commit(); err != nil {
		return apperr.Wrap(op, err, apperr.KindTransient)
	}
	return nil
}

func toChatMessage(msg *history.Message) (*entity.ChatMessage, error) {
	id, err := uuid.Parse(msg.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", msg.ID, err)
	}
	convID, err := uuid.Parse(msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id %q: %w", msg.ConversationID, err)
	}

	refs := make([]entity.ContextReference, len(msg.Context))
	for i, c := range msg.Context {
		refs[i] = entity.ContextReference{
			Content:         c.Content,
			DocumentId:      c.DocumentID,
			SimilarityScore: c.SimilarityScore,
			Metadata:        c.Metadata,
		}
	}
	return &entity.ChatMessage{
		Id:             id,
		ConversationId: convID,
		Role:           entity.ChatMessageRole(msg.Role),
		Content:        msg.Content,
		Context:        refs,
		CreatedAt:      msg.CreatedAt,
	}, nil
}

// RecentMessages reads newest first with an id tie-break (ids are v7, so
// time ordered) and returns the window oldest first.
func (s *HistoryStore) RecentMessages(ctx context.Context, conversationID string, n int) ([]history.Message, error) {
	convID, err := uuid.Parse(conversationID)
	if err != nil {
		return []history.Message{}, nil
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	rows, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByConversationID{ConversationID: convID},
		specification.OrderBy{Field: "created_at", Desc: true},
		specification.OrderBy{Field: "id", Desc: true},
		specification.Pagination{Limit: n},
	)
	if err != nil {
		return nil, err
	}

	out := make([]history.Message, len(rows))
	for i, m := range rows {
		out[len(rows)-1-i] = ToHistoryMessage(m)
	}
	return out, nil
}

func ToHistoryMessage(m *entity.ChatMessage) history.Message {
	var ctxResults []retrieval.ContextResult
	if len(m.Context) > 0 {
		ctxResults = make([]retrieval.ContextResult, len(m.Context))
		for i, c := range m.Context {
			ctxResults[i] = retrieval.ContextResult{
				Content:         c.Content,
				DocumentID:      c.DocumentId,
				SimilarityScore: c.SimilarityScore,
				Metadata:        c.Metadata,
			}
		}
	}
	return history.Message{
		ID:             m.Id.String(),
		ConversationID: m.ConversationId.String(),
		Role:           history.Role(m.Role),
		Content:        m.Content,
		Context:        ctxResults,
		CreatedAt:      m.CreatedAt,
	}
}

func titleFrom(text string) string {
	const maxTitle = 50
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > maxTitle {
		return string(runes[:maxTitle]) + "..."
	}
	return string(runes)
}
