package vectorstore

import (
	"context"
	"fmt"
	"time"

	"ai-ragchat-be/pkg/apperr"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChunkEmbedding is the pgvector row for one chunk. Seq is assigned by the
// database on first insert and never rewritten by an upsert.
type ChunkEmbedding struct {
	Id         string            `gorm:"type:text;primaryKey"`
	DocumentId string            `gorm:"type:text;not null;index"`
	Content    string            `gorm:"type:text"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	Embedding  pgvector.Vector
	Seq        int64     `gorm:"->"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (ChunkEmbedding) TableName() string {
	return "chunk_embeddings"
}

type PgVectorIndex struct {
	db        *gorm.DB
	dimension int
}

// NewPgVectorIndex prepares the extension and table. The vector column
// dimension comes from the embedding provider, so the table is created with
// raw DDL instead of AutoMigrate.
func NewPgVectorIndex(ctx context.Context, db *gorm.DB, dimension int) (*PgVectorIndex, error) {
	if db == nil {
		return nil, apperr.Configuration("vectorstore.pgvector", "DB_CONNECTION_STRING is required for the pgvector backend")
	}
	if dimension <= 0 {
		return nil, apperr.Configuration("vectorstore.pgvector", "embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_embeddings (
			id text PRIMARY KEY,
			document_id text NOT NULL,
			content text,
			metadata jsonb,
			embedding vector(%d) NOT NULL,
			seq bigserial,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_document_id ON chunk_embeddings (document_id)",
	}
	for _, stmt := range stmts {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("failed to prepare pgvector schema: %w", err)
		}
	}
	return &PgVectorIndex{db: db, dimension: dimension}, nil
}

func (p *PgVectorIndex) Name() string   { return "pgvector" }
func (p *PgVectorIndex) Metric() Metric { return Cosine }
func (p *PgVectorIndex) Close() error   { return nil }

func (p *PgVectorIndex) Insert(ctx context.Context, records []Record) error {
	const op = "vectorstore.pgvector.insert"
	if len(records) == 0 {
		return nil
	}

	rows := make([]ChunkEmbedding, len(records))
	for i, r := range records {
		content, _ := r.Metadata[MetaContent].(string)
		rows[i] = ChunkEmbedding{
			Id:         r.ID,
			DocumentId: r.DocumentID(),
			Content:    content,
			Metadata:   datatypes.JSONMap(r.Metadata),
			Embedding:  pgvector.NewVector(r.Vector),
		}
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"document_id", "content", "metadata", "embedding"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return apperr.Wrap(op, fmt.Errorf("%w: %w", ErrVectorStore, err), apperr.KindTransient)
	}
	return nil
}

func (p *PgVectorIndex) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	const op = "vectorstore.pgvector.query"
	if topK <= 0 {
		return []Match{}, nil
	}

	type result struct {
		Id       string
		Metadata datatypes.JSONMap
		Score    float64
	}
	var results []result

	queryVector := pgvector.NewVector(vector)
	err := p.db.WithContext(ctx).
		Table("chunk_embeddings").
		Select("id, metadata, 1 - (embedding <=> ?) AS score", queryVector).
		Order("score DESC, seq ASC").
		Limit(topK).
		Scan(&results).Error
	if err != nil {
		return nil, apperr.Wrap(op, fmt.Errorf("%w: %w", ErrVectorStore, err), apperr.KindTransient)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{ID: r.Id, Score: r.Score, Metadata: normalizeMetadata(map[string]interface{}(r.Metadata))}
	}
	return matches, nil
}

func (p *PgVectorIndex) DeleteBySource(ctx context.Context, documentID string) error {
	const op = "vectorstore.pgvector.delete"
	err := p.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&ChunkEmbedding{}).Error
	if err != nil {
		return apperr.Wrap(op, fmt.Errorf("%w: %w", ErrVectorStore, err), apperr.KindTransient)
	}
	return nil
}
