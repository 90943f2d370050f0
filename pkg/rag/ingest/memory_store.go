package ingest

import (
	"context"
	"sync"

	"ai-ragchat-be/pkg/apperr"
)

// MemoryDocumentStore is the process-local DocumentStore used when no
// database is configured.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]Document)}
}

func (s *MemoryDocumentStore) Put(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = *doc
	return nil
}

func (s *MemoryDocumentStore) Get(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, apperr.NotFound("documents.get", "document not found: "+id)
	}
	return &doc, nil
}

func (s *MemoryDocumentStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}
