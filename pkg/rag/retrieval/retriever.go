package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/embedding"
	"ai-ragchat-be/pkg/vectorstore"
)

const module = "ContextRetriever"

// ContextResult is one retrieved chunk. It is transient, but may be kept as
// provenance on the assistant message it informed.
type ContextResult struct {
	Content         string                 `json:"content"`
	DocumentID      string                 `json:"document_id"`
	SimilarityScore float64                `json:"similarity_score"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

type Timeouts struct {
	Embed  time.Duration
	Vector time.Duration
}

type Retriever struct {
	embedder embedding.EmbeddingProvider
	index    vectorstore.Index
	timeouts Timeouts
	logger   logger.ILogger
}

func NewRetriever(embedder embedding.EmbeddingProvider, index vectorstore.Index, timeouts Timeouts, log logger.ILogger) *Retriever {
	return &Retriever{embedder: embedder, index: index, timeouts: timeouts, logger: log}
}

// Retrieve returns at most numResults chunks scoring at least
// minSimilarity, best first. The threshold is a hard cutoff: when nothing
// qualifies the result is empty.
func (r *Retriever) Retrieve(ctx context.Context, query string, numResults int, minSimilarity float64) ([]ContextResult, error) {
	if numResults <= 0 || minSimilarity > r.index.Metric().Max {
		return []ContextResult{}, nil
	}

	candidates, err := r.Search(ctx, query, numResults)
	if err != nil {
		return nil, err
	}

	results := make([]ContextResult, 0, len(candidates))
	for _, c := range candidates {
		if c.SimilarityScore >= minSimilarity {
			results = append(results, c)
		}
	}

	r.logger.Debug(module, "Context retrieved", map[string]interface{}{
		"candidates": len(candidates), "kept": len(results), "min_similarity": minSimilarity,
	})
	return results, nil
}

// Search embeds the query once and returns the raw top matches without
// any threshold.
func (r *Retriever) Search(ctx context.Context, query string, limit int) ([]ContextResult, error) {
	const op = "retrieval.search"
	if limit <= 0 {
		return []ContextResult{}, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.timeouts.Embed)
	vector, err := r.embedder.Embed(embedCtx, query)
	cancel()
	if err != nil {
		return nil, apperr.Wrap(op, err, apperr.KindUnknown)
	}

	vecCtx, cancel := context.WithTimeout(ctx, r.timeouts.Vector)
	matches, err := r.index.Query(vecCtx, vector, limit)
	cancel()
	if err != nil {
		return nil, apperr.Wrap(op, err, apperr.KindUnknown)
	}

	results := make([]ContextResult, len(matches))
	for i, m := range matches {
		results[i] = toResult(m)
	}
	return results, nil
}

func toResult(m vectorstore.Match) ContextResult {
	content, _ := m.Metadata[vectorstore.MetaContent].(string)
	docID, _ := m.Metadata[vectorstore.MetaDocumentID].(string)

	meta := make(map[string]interface{}, len(m.Metadata))
	for k, v := range m.Metadata {
		if k == vectorstore.MetaContent {
			continue
		}
		meta[k] = v
	}
	return ContextResult{Content: content, DocumentID: docID, SimilarityScore: m.Score, Metadata: meta}
}

// Format numbers results 1..N in the order given (descending score) with
// the chunk text verbatim. Empty input gives an empty string.
func Format(results []ContextResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant context:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, r.Content)
	}
	return b.String()
}
