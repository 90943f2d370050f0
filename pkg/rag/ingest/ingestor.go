package ingest

import (
	"context"
	"fmt"
	"time"

	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/embedding"
	"ai-ragchat-be/pkg/rag/chunk"
	"ai-ragchat-be/pkg/vectorstore"

	"github.com/google/uuid"
)

const module = "DocumentIngestor"

type Request struct {
	// DocumentID re-ingests (overwrites) an existing document when set.
	DocumentID string
	OwnerID    string
	Content    string
	Metadata   map[string]interface{}
}

type Result struct {
	DocumentID string
	Chunks     int
}

type Timeouts struct {
	Embed  time.Duration
	Vector time.Duration
}

type Ingestor struct {
	splitter *chunk.Splitter
	embedder embedding.EmbeddingProvider
	index    vectorstore.Index
	docs     DocumentStore
	timeouts Timeouts
	logger   logger.ILogger
	now      func() time.Time
}

func NewIngestor(
	splitter *chunk.Splitter,
	embedder embedding.EmbeddingProvider,
	index vectorstore.Index,
	docs DocumentStore,
	timeouts Timeouts,
	log logger.ILogger,
) *Ingestor {
	return &Ingestor{
		splitter: splitter,
		embedder: embedder,
		index:    index,
		docs:     docs,
		timeouts: timeouts,
		logger:   log,
		now:      time.Now,
	}
}

// Ingest stores the document, then replaces its chunk set in the index.
// If embedding or indexing fails the document stays in durable storage but
// none of its chunks are left queryable.
func (i *Ingestor) Ingest(ctx context.Context, req Request) (*Result, error) {
	const op = "ingest.document"

	docID := req.DocumentID
	if docID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate document id: %w", err)
		}
		docID = id.String()
	}

	now := i.now().UTC()
	doc := &Document{
		ID:        docID,
		OwnerID:   req.OwnerID,
		Content:   req.Content,
		Metadata:  req.Metadata,
		CreatedAt: now,
	}
	if err := i.docs.Put(ctx, doc); err != nil {
		return nil, apperr.Wrap(op, err, apperr.KindTransient)
	}

	spans := i.splitter.Spans(req.Content)
	texts := make([]string, len(spans))
	for n, sp := range spans {
		texts[n] = sp.Text
	}

	var vectors [][]float32
	if len(texts) > 0 {
		embedCtx, cancel := context.WithTimeout(ctx, i.timeouts.Embed)
		var err error
		vectors, err = i.embedder.EmbedBatch(embedCtx, texts)
		cancel()
		if err != nil {
			i.logger.Error(module, "Embedding failed, document not indexed", map[string]interface{}{
				"document_id": docID, "chunks": len(texts), "error": err.Error(),
			})
			return nil, i.abort(ctx, op, docID, err)
		}
		if len(vectors) != len(texts) {
			return nil, i.abort(ctx, op, docID, apperr.Permanent(op,
				fmt.Errorf("%w: %d vectors for %d chunks", embedding.ErrEmbeddingFailure, len(vectors), len(texts))))
		}
	}

	records := make([]vectorstore.Record, len(texts))
	for n, text := range texts {
		records[n] = vectorstore.Record{
			ID:       ChunkID(docID, n),
			Vector:   vectors[n],
			Metadata: chunkMetadata(req.Metadata, docID, n, text, now),
		}
	}

	vecCtx, cancel := context.WithTimeout(ctx, i.timeouts.Vector)
	defer cancel()

	// Drop the previous chunk set first so a shorter re-ingestion leaves no
	// stale tail behind.
	if err := i.index.DeleteBySource(vecCtx, docID); err != nil {
		return nil, apperr.Wrap(op, err, apperr.KindTransient)
	}
	if len(records) > 0 {
		if err := i.index.Insert(vecCtx, records); err != nil {
			i.logger.Error(module, "Index insert failed, ingestion not committed", map[string]interface{}{
				"document_id": docID, "chunks": len(records), "error": err.Error(),
			})
			return nil, i.abort(ctx, op, docID, err)
		}
	}

	i.logger.Info(module, "Document ingested", map[string]interface{}{
		"document_id": docID, "chunks": len(records), "index": i.index.Name(),
	})
	return &Result{DocumentID: docID, Chunks: len(records)}, nil
}

// abort removes whatever part of the chunk set may have reached the index.
func (i *Ingestor) abort(ctx context.Context, op, docID string, cause error) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.timeouts.Vector)
	defer cancel()
	if err := i.index.DeleteBySource(cleanupCtx, docID); err != nil {
		i.logger.Warn(module, "Cleanup of partial chunk set failed", map[string]interface{}{
			"document_id": docID, "error": err.Error(),
		})
	}
	return apperr.Wrap(op, cause, apperr.KindTransient)
}

// Delete removes the chunks from the index first, then the durable record.
func (i *Ingestor) Delete(ctx context.Context, docID string) error {
	const op = "ingest.delete"

	if _, err := i.docs.Get(ctx, docID); err != nil {
		return err
	}

	vecCtx, cancel := context.WithTimeout(ctx, i.timeouts.Vector)
	defer cancel()
	if err := i.index.DeleteBySource(vecCtx, docID); err != nil {
		return apperr.Wrap(op, err, apperr.KindTransient)
	}
	if err := i.docs.Delete(ctx, docID); err != nil {
		return apperr.Wrap(op, err, apperr.KindTransient)
	}

	i.logger.Info(module, "Document deleted", map[string]interface{}{"document_id": docID})
	return nil
}

// Get reads a document back from durable storage.
func (i *Ingestor) Get(ctx context.Context, docID string) (*Document, error) {
	return i.docs.Get(ctx, docID)
}

func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s_%d", docID, index)
}

func chunkMetadata(docMeta map[string]interface{}, docID string, index int, text string, ts time.Time) map[string]interface{} {
	meta := make(map[string]interface{}, len(docMeta)+5)
	meta[vectorstore.MetaSource] = "unknown"
	for k, v := range docMeta {
		meta[k] = v
	}
	meta[vectorstore.MetaDocumentID] = docID
	meta[vectorstore.MetaChunkIndex] = index
	meta[vectorstore.MetaTimestamp] = ts.Format(time.RFC3339)
	meta[vectorstore.MetaContent] = text
	return meta
}
