package contract

import (
	"context"

	"ai-ragchat-be/internal/entity"
	"ai-ragchat-be/internal/repository/specification"
)

type DocumentRepository interface {
	// Save inserts or replaces the document with the same id.
	Save(ctx context.Context, document *entity.Document) error
	Delete(ctx context.Context, id string) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Document, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Document, error)
}
