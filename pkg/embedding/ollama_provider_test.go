package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ai-ragchat-be/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProviderEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := ollamaEmbedResponse{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(i + 1), 0, 0})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", 3)
	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)

	for _, v := range vectors {
		assert.InDelta(t, 1.0, magnitude(v), 1e-6)
	}
	assert.Equal(t, "ollama:nomic-embed-text", p.Name())
	assert.Equal(t, 3, p.Dimensions())
}

func TestOllamaProviderClassifiesFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind apperr.Kind
	}{
		{"server error is transient", http.StatusServiceUnavailable, "loading model", apperr.KindTransient},
		{"rate limit is transient", http.StatusTooManyRequests, "slow down", apperr.KindTransient},
		{"bad request is permanent", http.StatusBadRequest, "invalid input", apperr.KindPermanent},
		{"dimension mismatch is permanent", http.StatusOK, `{"embeddings":[[1,2]]}`, apperr.KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOllamaProvider(srv.URL, "m", 3).Embed(context.Background(), "text")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			assert.True(t, errors.Is(err, ErrEmbeddingFailure))
		})
	}
}

func TestOllamaProviderTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewOllamaProvider(srv.URL, "m", 3).Embed(ctx, "text")
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
