package embedding

import (
	"context"
	"errors"
	"fmt"

	"ai-ragchat-be/pkg/apperr"

	"google.golang.org/genai"
)

// GeminiProvider embeds text through the Gemini API using the genai SDK.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	dimension int
}

func NewGeminiProvider(ctx context.Context, apiKey, model string, dimension int) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, apperr.Configuration("embedding.gemini", "GOOGLE_GEMINI_API_KEY is required for the gemini embedding provider")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if dimension <= 0 {
		dimension = 768
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	return &GeminiProvider{client: client, model: model, dimension: dimension}, nil
}

func (p *GeminiProvider) Name() string    { return "gemini:" + p.model }
func (p *GeminiProvider) Dimensions() int { return p.dimension }

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedding.gemini"
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		if text == "" {
			return nil, apperr.Permanent(op, fmt.Errorf("%w: text %d is empty", ErrEmbeddingFailure, i))
		}
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	outputDim := int32(p.dimension)
	result, err := p.client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	})
	if err != nil {
		return nil, classifyGenaiError(op, err, ErrEmbeddingFailure)
	}

	if result == nil || len(result.Embeddings) != len(texts) {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: embedding count does not match input", ErrEmbeddingFailure))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range result.Embeddings {
		if err := checkDimension(op, p.dimension, e.Values); err != nil {
			return nil, err
		}
		// reduced-dimension gemini vectors are not unit length
		vectors[i] = normalizeVector(e.Values)
	}
	return vectors, nil
}

// classifyGenaiError sorts SDK errors into retry-eligible and final failures.
func classifyGenaiError(op string, err error, sentinel error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apperr.FromHTTPStatus(op, apiErr.Code, apiErr.Message, sentinel)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apperr.FromHTTPStatus(op, apiErrPtr.Code, apiErrPtr.Message, sentinel)
	}
	// transport level: unreachable, reset, deadline
	return apperr.Transient(op, fmt.Errorf("%w: %v", sentinel, err))
}
