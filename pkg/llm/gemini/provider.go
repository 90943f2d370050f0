package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/llm"

	"google.golang.org/genai"
)

const op = "llm.gemini"

// GeminiProvider generates replies through the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

var _ llm.LLMProvider = &GeminiProvider{}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, apperr.Configuration(op, "GOOGLE_GEMINI_API_KEY is required for the gemini llm provider")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string { return "gemini:" + p.model }

// toContents splits out the first system message for SystemInstruction and
// maps the remaining roles onto user/model.
func toContents(history []llm.Message) ([]*genai.Content, string) {
	contents := make([]*genai.Content, 0, len(history))
	var system string
	for _, msg := range history {
		if msg.Role == "system" {
			if system == "" {
				system = msg.Content
			}
			continue
		}
		role := genai.RoleUser
		if msg.Role == "assistant" || msg.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
		})
	}
	return contents, system
}

func (p *GeminiProvider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	options := llm.Apply(llm.Options{Temperature: 0.7, Model: p.model}, opts...)

	contents, system := toContents(history)
	if len(contents) == 0 {
		return "", apperr.Permanent(op, fmt.Errorf("%w: no user content to send", llm.ErrGenerationFailure))
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(options.Temperature)),
	}
	if options.MaxTokens > 0 {
		config.MaxOutputTokens = int32(options.MaxTokens)
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, options.Model, contents, config)
	if err != nil {
		return "", classify(err)
	}

	if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", apperr.Permanent(op, fmt.Errorf("%w: prompt blocked: %s", llm.ErrGenerationFailure, resp.PromptFeedback.BlockReason))
	}

	var out strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.FinishReason == genai.FinishReasonSafety {
				return "", apperr.Permanent(op, fmt.Errorf("%w: response withheld by safety filter", llm.ErrGenerationFailure))
			}
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				out.WriteString(part.Text)
			}
			// MAX_TOKENS candidates are kept: truncation is not a failure
			if out.Len() > 0 {
				break
			}
		}
	}

	if out.Len() == 0 {
		return "", apperr.Permanent(op, fmt.Errorf("%w: no response generated", llm.ErrGenerationFailure))
	}
	return out.String(), nil
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return p.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apperr.FromHTTPStatus(op, apiErr.Code, apiErr.Message, llm.ErrGenerationFailure)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apperr.FromHTTPStatus(op, apiErrPtr.Code, apiErrPtr.Message, llm.ErrGenerationFailure)
	}
	return apperr.Transient(op, fmt.Errorf("%w: %v", llm.ErrGenerationFailure, err))
}
