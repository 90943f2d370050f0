package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls int
	texts []string
}

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (c *countingProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts = append(c.texts, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (c *countingProvider) Dimensions() int { return 1 }
func (c *countingProvider) Name() string    { return "counting" }

func TestCachedProviderOnlyEmbedsMisses(t *testing.T) {
	inner := &countingProvider{}
	p := NewCachedProvider(inner, NewLocalVectorCache(time.Minute))
	ctx := context.Background()

	_, err := p.Embed(ctx, "bb")
	require.NoError(t, err)

	vectors, err := p.EmbedBatch(ctx, []string{"a", "bb", "ccc"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1}, {2}, {3}}, vectors)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, []string{"bb", "a", "ccc"}, inner.texts)

	again, err := p.EmbedBatch(ctx, []string{"ccc", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3}, {1}}, again)
	assert.Equal(t, 2, inner.calls)
}
