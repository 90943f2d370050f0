package jina

import (
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/embedding"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"
)

const op = "embedding.jina"

type JinaProvider struct {
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
}

// Ensure JinaProvider implements EmbeddingProvider
var _ embedding.EmbeddingProvider = &JinaProvider{}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewJinaProvider(apiKey string, dimension int) *JinaProvider {
	if dimension <= 0 {
		// jina-embeddings-v2-base-en
		dimension = 768
	}
	return &JinaProvider{
		apiKey:     apiKey,
		baseURL:    "https://api.jina.ai/v1/embeddings",
		model:      "jina-embeddings-v2-base-en",
		dimension:  dimension,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// WithBaseURL points the provider at another endpoint (self-hosted or test server).
func (p *JinaProvider) WithBaseURL(url string) *JinaProvider {
	p.baseURL = url
	return p
}

func (p *JinaProvider) Name() string    { return "jina:" + p.model }
func (p *JinaProvider) Dimensions() int { return p.dimension }

func (p *JinaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *JinaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	jsonData, err := json.Marshal(embeddingRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: failed to marshal request: %v", embedding.ErrEmbeddingFailure, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: failed to create request: %v", embedding.ErrEmbeddingFailure, err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Transient(op, fmt.Errorf("%w: request failed: %v", embedding.ErrEmbeddingFailure, err))
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.FromHTTPStatus(op, resp.StatusCode, string(bodyBytes), embedding.ErrEmbeddingFailure)
	}

	var jinaResp embeddingResponse
	if err := json.Unmarshal(bodyBytes, &jinaResp); err != nil {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: failed to decode response: %v", embedding.ErrEmbeddingFailure, err))
	}

	if jinaResp.Error != nil {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: jina api returned error: %s", embedding.ErrEmbeddingFailure, jinaResp.Error.Message))
	}

	if len(jinaResp.Data) != len(texts) {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: expected %d embeddings, got %d", embedding.ErrEmbeddingFailure, len(texts), len(jinaResp.Data)))
	}

	// The API reports an index per item; do not rely on response order
	sort.SliceStable(jinaResp.Data, func(i, j int) bool {
		return jinaResp.Data[i].Index < jinaResp.Data[j].Index
	})

	vectors := make([][]float32, len(texts))
	for i, d := range jinaResp.Data {
		if len(d.Embedding) != p.dimension {
			return nil, apperr.Permanent(op, fmt.Errorf("%w: dimension mismatch: expected %d, got %d", embedding.ErrEmbeddingFailure, p.dimension, len(d.Embedding)))
		}
		vectors[i] = unit(d.Embedding)
	}
	return vectors, nil
}

func unit(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
