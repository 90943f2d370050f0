package ragstore

import (
	"context"

	"ai-ragchat-be/internal/entity"
	"ai-ragchat-be/internal/repository/specification"
	"ai-ragchat-be/internal/repository/unitofwork"
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/rag/ingest"

	"github.com/google/uuid"
)

type DocumentStore struct {
	uowFactory unitofwork.RepositoryFactory
}

var _ ingest.DocumentStore = (*DocumentStore)(nil)

func NewDocumentStore(uowFactory unitofwork.RepositoryFactory) *DocumentStore {
	return &DocumentStore{uowFactory: uowFactory}
}

func (s *DocumentStore) Put(ctx context.Context, doc *ingest.Document) error {
	// documents ingested without an owner (CLI) are stored under the nil uuid
	owner, _ := uuid.Parse(doc.OwnerID)

	uow := s.uowFactory.NewUnitOfWork(ctx)
	e := &entity.Document{
		Id:        doc.ID,
		UserId:    owner,
		Content:   doc.Content,
		Metadata:  doc.Metadata,
		CreatedAt: doc.CreatedAt,
	}
	if err := uow.DocumentRepository().Save(ctx, e); err != nil {
		return apperr.Wrap("document_store.put", err, apperr.KindTransient)
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, id string) (*ingest.Document, error) {
	const op = "document_store.get"
	uow := s.uowFactory.NewUnitOfWork(ctx)
	doc, err := uow.DocumentRepository().FindOne(ctx, specification.ByKey{Key: id})
	if err != nil {
		return nil, apperr.Wrap(op, err, apperr.KindTransient)
	}
	if doc == nil {
		return nil, apperr.NotFound(op, "document not found: "+id)
	}

	owner := ""
	if doc.UserId != uuid.Nil {
		owner = doc.UserId.String()
	}
	return &ingest.Document{
		ID:        doc.Id,
		OwnerID:   owner,
		Content:   doc.Content,
		Metadata:  doc.Metadata,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.DocumentRepository().Delete(ctx, id); err != nil {
		return apperr.Wrap("document_store.delete", err, apperr.KindTransient)
	}
	return nil
}
