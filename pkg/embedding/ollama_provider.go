package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"ai-ragchat-be/pkg/apperr"
)

// OllamaProvider implements EmbeddingProvider for local Ollama models (e.g., nomic-embed-text)
type OllamaProvider struct {
	BaseURL    string
	Model      string
	Dimension  int
	HTTPClient *http.Client
}

func NewOllamaProvider(baseURL string, model string, dimension int) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaProvider{
		BaseURL:    baseURL,
		Model:      model,
		Dimension:  dimension,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Ollama /api/embed request/response structures
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func (p *OllamaProvider) Name() string    { return "ollama:" + p.Model }
func (p *OllamaProvider) Dimensions() int { return p.Dimension }

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedding.ollama"
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	jsonBody, err := json.Marshal(ollamaEmbedRequest{Model: p.Model, Input: texts})
	if err != nil {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: marshal request: %v", ErrEmbeddingFailure, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/embed", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: create request: %v", ErrEmbeddingFailure, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		// connection refused, reset, deadline: the backend may come back
		return nil, apperr.Transient(op, fmt.Errorf("%w: %v", ErrEmbeddingFailure, err))
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transient(op, fmt.Errorf("%w: read response: %v", ErrEmbeddingFailure, err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.FromHTTPStatus(op, resp.StatusCode, string(bodyBytes), ErrEmbeddingFailure)
	}

	var ollamaResp ollamaEmbedResponse
	if err := json.Unmarshal(bodyBytes, &ollamaResp); err != nil {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: decode response: %v", ErrEmbeddingFailure, err))
	}

	if len(ollamaResp.Embeddings) != len(texts) {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailure, len(texts), len(ollamaResp.Embeddings)))
	}

	vectors := make([][]float32, len(texts))
	for i, raw := range ollamaResp.Embeddings {
		// Convert float64 to float32 for compatibility with our system
		values := make([]float32, len(raw))
		for j, v := range raw {
			values[j] = float32(v)
		}
		if err := checkDimension(op, p.Dimension, values); err != nil {
			return nil, err
		}
		// Cosine scores across backends assume unit-length vectors
		vectors[i] = normalizeVector(values)
	}

	return vectors, nil
}

func checkDimension(op string, want int, values []float32) error {
	if want > 0 && len(values) != want {
		return apperr.Permanent(op, fmt.Errorf("%w: dimension mismatch: expected %d, got %d", ErrEmbeddingFailure, want, len(values)))
	}
	return nil
}

// normalizeVector normalizes a vector to unit length (magnitude = 1)
func normalizeVector(vec []float32) []float32 {
	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	magnitude = math.Sqrt(magnitude)

	// Avoid division by zero
	if magnitude == 0 {
		return vec
	}

	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = float32(float64(v) / magnitude)
	}
	return normalized
}
