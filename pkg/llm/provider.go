package llm

import (
	"context"
	"errors"
)

// ErrGenerationFailure is wrapped by every provider error so callers can
// match it with errors.Is next to apperr.KindOf.
var ErrGenerationFailure = errors.New("generation failure")

// Message is one chat turn in a provider-agnostic format
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Option adjusts decoding parameters for a single call.
type Option func(*Options)

// Options are the decoding parameters. Temperature 0 is deterministic;
// MaxTokens bounds the reply length and truncates rather than fails.
type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string // Override default model
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// Apply resolves options over the given defaults.
func Apply(defaults Options, opts ...Option) Options {
	o := defaults
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LLMProvider defines the contract for any LLM backend
type LLMProvider interface {
	// Chat sends a chat history to the model and returns the response
	Chat(ctx context.Context, history []Message, options ...Option) (string, error)

	// Generate sends a single prompt to the model (convenience method)
	Generate(ctx context.Context, prompt string, options ...Option) (string, error)

	Name() string
}
