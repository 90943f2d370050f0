package ollama

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

const op = "llm.ollama"

type OllamaProvider struct {
	BaseURL   string
	ModelName string
	Client    *http.Client
}

// Ensure OllamaProvider implements LLMProvider
var _ llm.LLMProvider = &OllamaProvider{}

func NewOllamaProvider(baseURL, modelName string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		BaseURL:   baseURL,
		ModelName: modelName,
		Client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *modelOptions `json:"options,omitempty"`
}

type modelOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Model      string      `json:"model"`
	Message    llm.Message `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason"`
	Error      string      `json:"error,omitempty"`
}

func (o *OllamaProvider) Name() string { return "ollama:" + o.ModelName }

func (o *OllamaProvider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	options := llm.Apply(llm.Options{Temperature: 0.7, Model: o.ModelName}, opts...)

	messages := make([]llm.Message, len(history))
	for i, msg := range history {
		role := msg.Role
		if role == "model" {
			role = "assistant"
		}
		messages[i] = llm.Message{Role: role, Content: msg.Content}
	}

	reqPayload := chatRequest{
		Model:    options.Model,
		Messages: messages,
		Stream:   false,
		Options:  &modelOptions{Temperature: options.Temperature},
	}
	// num_predict stops generation at the limit; a truncated reply is still a reply
	if options.MaxTokens > 0 {
		reqPayload.Options.NumPredict = options.MaxTokens
	}

	payloadBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return "", apperr.Permanent(op, fmt.Errorf("%w: marshal request: %v", llm.ErrGenerationFailure, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", apperr.Permanent(op, fmt.Errorf("%w: create request: %v", llm.ErrGenerationFailure, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(req)
	if err != nil {
		return "", apperr.Transient(op, fmt.Errorf("%w: ollama request failed: %v", llm.ErrGenerationFailure, err))
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Transient(op, fmt.Errorf("%w: read response: %v", llm.ErrGenerationFailure, err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", apperr.FromHTTPStatus(op, resp.StatusCode, string(bodyBytes), llm.ErrGenerationFailure)
	}

	var ollamaResp chatResponse
	if err := json.Unmarshal(bodyBytes, &ollamaResp); err != nil {
		return "", apperr.Permanent(op, fmt.Errorf("%w: unmarshal response: %v", llm.ErrGenerationFailure, err))
	}
	if ollamaResp.Error != "" {
		return "", apperr.Permanent(op, fmt.Errorf("%w: %s", llm.ErrGenerationFailure, ollamaResp.Error))
	}

	return ollamaResp.Message.Content, nil
}

func (o *OllamaProvider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return o.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}
