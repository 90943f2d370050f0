package unitofwork

import (
	"context"

	"ai-ragchat-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	ConversationRepository() contract.ConversationRepository
	ChatMessageRepository() contract.ChatMessageRepository
	DocumentRepository() contract.DocumentRepository
}
