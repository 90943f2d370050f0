package huggingface

import (
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/llm"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const op = "llm.huggingface"

// HuggingFaceProvider talks to any OpenAI-compatible chat completions
// endpoint; the Hugging Face router is the default.
type HuggingFaceProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

var _ llm.LLMProvider = &HuggingFaceProvider{}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewHuggingFaceProvider(apiKey, baseURL, model string) *HuggingFaceProvider {
	if baseURL == "" {
		baseURL = "https://router.huggingface.co/v1"
	}
	return &HuggingFaceProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *HuggingFaceProvider) Name() string { return "huggingface:" + p.model }

func (p *HuggingFaceProvider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	opts := llm.Apply(llm.Options{Model: p.model, Temperature: 0.7, MaxTokens: 500}, options...)

	jsonData, err := json.Marshal(chatRequest{
		Model:       opts.Model,
		Messages:    history,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", apperr.Permanent(op, fmt.Errorf("%w: failed to marshal request: %v", llm.ErrGenerationFailure, err))
	}

	url := fmt.Sprintf("%s/chat/completions", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", apperr.Permanent(op, fmt.Errorf("%w: failed to create request: %v", llm.ErrGenerationFailure, err))
	}

	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", apperr.Transient(op, fmt.Errorf("%w: request failed: %v", llm.ErrGenerationFailure, err))
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", apperr.FromHTTPStatus(op, resp.StatusCode, string(bodyBytes), llm.ErrGenerationFailure)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(bodyBytes, &chatResp); err != nil {
		return "", apperr.Permanent(op, fmt.Errorf("%w: failed to decode response: %v", llm.ErrGenerationFailure, err))
	}

	if chatResp.Error != nil {
		return "", apperr.Permanent(op, fmt.Errorf("%w: %s", llm.ErrGenerationFailure, chatResp.Error.Message))
	}

	if len(chatResp.Choices) == 0 {
		return "", apperr.Permanent(op, fmt.Errorf("%w: empty choices", llm.ErrGenerationFailure))
	}

	if chatResp.Choices[0].FinishReason == "content_filter" {
		return "", apperr.Permanent(op, fmt.Errorf("%w: response withheld by content filter", llm.ErrGenerationFailure))
	}

	return chatResp.Choices[0].Message.Content, nil
}

func (p *HuggingFaceProvider) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return p.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, options...)
}
