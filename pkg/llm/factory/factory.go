package factory

import (
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/llm"
	"ai-ragchat-be/pkg/llm/gemini"
	"ai-ragchat-be/pkg/llm/huggingface"
	"ai-ragchat-be/pkg/llm/ollama"
	"context"
	"fmt"
)

// Settings carries what any provider may need; each provider reads its own fields.
type Settings struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

func NewLLMProvider(ctx context.Context, s Settings) (llm.LLMProvider, error) {
	switch s.Provider {
	case "ollama":
		return ollama.NewOllamaProvider(s.BaseURL, s.Model), nil
	case "gemini":
		return gemini.NewGeminiProvider(ctx, s.APIKey, s.Model)
	case "huggingface":
		return huggingface.NewHuggingFaceProvider(s.APIKey, s.BaseURL, s.Model), nil
	default:
		return nil, apperr.Configuration("llm.factory", fmt.Sprintf("unsupported LLM provider: %s", s.Provider))
	}
}
