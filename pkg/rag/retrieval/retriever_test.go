package retrieval

import (
	"context"
	"testing"
	"time"

	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/rag/ragtest"
	"ai-ragchat-be/pkg/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededRetriever(t *testing.T, emb *ragtest.Embedder) *Retriever {
	t.Helper()
	ctx := context.Background()
	idx := vectorstore.NewMemoryIndex()

	texts := []string{"the sky is blue", "the grass is green", "quarterly revenue grew"}
	vectors, err := emb.EmbedBatch(ctx, texts)
	require.NoError(t, err)

	records := make([]vectorstore.Record, len(texts))
	for i, text := range texts {
		records[i] = vectorstore.Record{
			ID:     text,
			Vector: vectors[i],
			Metadata: map[string]interface{}{
				vectorstore.MetaDocumentID: "doc",
				vectorstore.MetaContent:    text,
				vectorstore.MetaChunkIndex: i,
			},
		}
	}
	require.NoError(t, idx.Insert(ctx, records))

	return NewRetriever(emb, idx, Timeouts{Embed: time.Second, Vector: time.Second}, logger.NewNopLogger())
}

func TestRetrieveAppliesHardThreshold(t *testing.T) {
	r := seededRetriever(t, ragtest.NewEmbedder())

	results, err := r.Retrieve(context.Background(), "the sky is blue", 3, 0.99)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "the sky is blue", results[0].Content)
	assert.Equal(t, "doc", results[0].DocumentID)
	assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-6)
	assert.NotContains(t, results[0].Metadata, vectorstore.MetaContent)

	results, err = r.Retrieve(context.Background(), "completely unrelated words", 3, 0.7)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveAboveAnyScoreIsEmpty(t *testing.T) {
	emb := ragtest.NewEmbedder()
	r := seededRetriever(t, emb)
	calls := emb.Calls

	for _, q := range []string{"the sky is blue", "grass", ""} {
		results, err := r.Retrieve(context.Background(), q, 3, 1.1)
		require.NoError(t, err)
		assert.Empty(t, results)
	}
	assert.Equal(t, calls, emb.Calls)
}

func TestRetrieveOrdersByScore(t *testing.T) {
	r := seededRetriever(t, ragtest.NewEmbedder())

	results, err := r.Retrieve(context.Background(), "the sky is blue", 3, -1)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].SimilarityScore, results[i].SimilarityScore)
	}
}

func TestRetrievePropagatesTransientFailure(t *testing.T) {
	emb := ragtest.NewEmbedder()
	r := seededRetriever(t, emb)
	emb.Err = context.DeadlineExceeded

	_, err := r.Retrieve(context.Background(), "sky", 3, 0.5)
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

func TestFormatNumbersResults(t *testing.T) {
	assert.Equal(t, "", Format(nil))

	got := Format([]ContextResult{
		{Content: "first chunk", SimilarityScore: 0.9},
		{Content: "second chunk", SimilarityScore: 0.8},
	})
	assert.Equal(t, "Relevant context:\n\n1. first chunk\n\n2. second chunk\n\n", got)
}
