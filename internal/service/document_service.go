package service

import (
	"context"
	"encoding/json"
	"fmt"

	"ai-ragchat-be/internal/dto"
	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/events"
	"ai-ragchat-be/pkg/rag/ingest"
	"ai-ragchat-be/pkg/rag/retrieval"

	"github.com/google/uuid"
)

const defaultSearchLimit = 5

type IDocumentService interface {
	// Ingest stores and indexes a document. With async set the request is
	// queued and only the assigned id is returned.
	Ingest(ctx context.Context, userId uuid.UUID, req *dto.IngestDocumentRequest, async bool) (*dto.IngestDocumentResponse, error)
	// IngestNow runs a queued ingestion.
	IngestNow(ctx context.Context, msg *dto.PublishIngestDocumentMessage) (*dto.IngestDocumentResponse, error)
	Show(ctx context.Context, userId uuid.UUID, id string) (*dto.DocumentResponse, error)
	Delete(ctx context.Context, userId uuid.UUID, id string) error
	Search(ctx context.Context, req *dto.SearchDocumentsRequest) (*dto.SearchDocumentsResponse, error)
}

type documentService struct {
	ingestor         *ingest.Ingestor
	retriever        *retrieval.Retriever
	publisherService IPublisherService
	events           events.Publisher
	logger           logger.ILogger
}

func NewDocumentService(
	ingestor *ingest.Ingestor,
	retriever *retrieval.Retriever,
	publisherService IPublisherService,
	eventPublisher events.Publisher,
	log logger.ILogger,
) IDocumentService {
	return &documentService{
		ingestor:         ingestor,
		retriever:        retriever,
		publisherService: publisherService,
		events:           eventPublisher,
		logger:           log,
	}
}

func (s *documentService) Ingest(ctx context.Context, userId uuid.UUID, req *dto.IngestDocumentRequest, async bool) (*dto.IngestDocumentResponse, error) {
	const op = "document.ingest"

	id := req.Id
	if id == "" {
		v7, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate document id: %w", err)
		}
		id = v7.String()
	} else if err := s.checkReingest(ctx, userId, id); err != nil {
		return nil, err
	}

	msg := &dto.PublishIngestDocumentMessage{
		DocumentId: id,
		UserId:     userId.String(),
		Content:    req.Content,
		Metadata:   req.Metadata,
	}
	if !async {
		return s.IngestNow(ctx, msg)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, apperr.Permanent(op, err)
	}
	if err := s.publisherService.Publish(ctx, payload); err != nil {
		return nil, apperr.Transient(op, err)
	}

	s.logger.Info("DocumentService", "Document queued for ingestion", map[string]interface{}{"document_id": id})
	return &dto.IngestDocumentResponse{Id: id, Queued: true}, nil
}

func (s *documentService) IngestNow(ctx context.Context, msg *dto.PublishIngestDocumentMessage) (*dto.IngestDocumentResponse, error) {
	res, err := s.ingestor.Ingest(ctx, ingest.Request{
		DocumentID: msg.DocumentId,
		OwnerID:    msg.UserId,
		Content:    msg.Content,
		Metadata:   msg.Metadata,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.New(events.DocumentIngested, map[string]interface{}{
		"user_id":     msg.UserId,
		"document_id": res.DocumentID,
		"chunks":      res.Chunks,
	}))
	return &dto.IngestDocumentResponse{Id: res.DocumentID, Chunks: res.Chunks}, nil
}

func (s *documentService) Show(ctx context.Context, userId uuid.UUID, id string) (*dto.DocumentResponse, error) {
	doc, err := s.owned(ctx, userId, id)
	if err != nil {
		return nil, err
	}
	return &dto.DocumentResponse{
		Id:        doc.ID,
		Content:   doc.Content,
		Metadata:  doc.Metadata,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (s *documentService) Delete(ctx context.Context, userId uuid.UUID, id string) error {
	if _, err := s.owned(ctx, userId, id); err != nil {
		return err
	}
	if err := s.ingestor.Delete(ctx, id); err != nil {
		return err
	}

	s.publish(ctx, events.New(events.DocumentDeleted, map[string]interface{}{
		"user_id":     userId.String(),
		"document_id": id,
	}))
	return nil
}

func (s *documentService) Search(ctx context.Context, req *dto.SearchDocumentsRequest) (*dto.SearchDocumentsResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	results, err := s.retriever.Search(ctx, req.Query, limit)
	if err != nil {
		return nil, err
	}
	return &dto.SearchDocumentsResponse{Results: results}, nil
}

// owned hides documents of other users behind NotFound.
func (s *documentService) owned(ctx context.Context, userId uuid.UUID, id string) (*ingest.Document, error) {
	doc, err := s.ingestor.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != userId.String() {
		return nil, apperr.NotFound("document.get", fmt.Sprintf("document %s not found", id))
	}
	return doc, nil
}

// checkReingest refuses to overwrite another user's document. Unknown ids
// are free to take.
func (s *documentService) checkReingest(ctx context.Context, userId uuid.UUID, id string) error {
	doc, err := s.ingestor.Get(ctx, id)
	if apperr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if doc.OwnerID != userId.String() {
		return apperr.NotFound("document.ingest", fmt.Sprintf("document %s not found", id))
	}
	return nil
}

func (s *documentService) publish(ctx context.Context, event events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("DocumentService", "Failed to publish event", map[string]interface{}{
			"type":  event.EventType(),
			"error": err.Error(),
		})
	}
}
