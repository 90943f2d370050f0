package contract

import (
	"context"

	"ai-ragchat-be/internal/entity"
	"ai-ragchat-be/internal/repository/specification"

	"github.com/google/uuid"
)

// ChatMessageRepository is append-only apart from dropping a whole
// conversation.
type ChatMessageRepository interface {
	Create(ctx context.Context, message *entity.ChatMessage) error
	DeleteByConversationId(ctx context.Context, conversationId uuid.UUID) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatMessage, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
