package embedding

import (
	"context"
	"errors"
)

// ErrEmbeddingFailure marks every failure raised by an embedding backend.
// The wrapping apperr kind tells transient outages from malformed input.
var ErrEmbeddingFailure = errors.New("embedding failure")

// EmbeddingProvider maps text to vectors of a fixed dimension. The same text
// must always produce the same vector for a given provider instance, so
// callers are free to cache results.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch preserves input order and returns exactly one vector per text.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	Dimensions() int
	Name() string
}
