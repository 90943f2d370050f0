package ingest

import (
	"context"
	"time"
)

// Document is the durable record of ingested text. Immutable once stored,
// except for deletion.
type Document struct {
	ID        string
	OwnerID   string
	Content   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// DocumentStore keeps documents independent of the vector index.
// Get returns an apperr NotFound error for unknown ids.
type DocumentStore interface {
	Put(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	Delete(ctx context.Context, id string) error
}
