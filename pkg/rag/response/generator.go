package response

import (
	"context"
	"time"

	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/llm"
	"ai-ragchat-be/pkg/rag/prompt"
)

// DecodingParams: Temperature 0 is deterministic, higher is more varied.
// MaxOutputTokens bounds the reply and truncates instead of failing.
type DecodingParams struct {
	Temperature     float64
	MaxOutputTokens int
}

type Generator struct {
	provider llm.LLMProvider
	defaults DecodingParams
	timeout  time.Duration
	logger   logger.ILogger
}

func NewGenerator(provider llm.LLMProvider, defaults DecodingParams, timeout time.Duration, log logger.ILogger) *Generator {
	return &Generator{provider: provider, defaults: defaults, timeout: timeout, logger: log}
}

func (g *Generator) Defaults() DecodingParams { return g.defaults }

// Generate runs one bounded provider call. Failures come back typed:
// transient ones may be retried by the caller, permanent ones go to the user.
func (g *Generator) Generate(ctx context.Context, p prompt.Prompt, params DecodingParams) (string, error) {
	const op = "response.generate"

	genCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	opts := []llm.Option{llm.WithTemperature(params.Temperature)}
	if params.MaxOutputTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(params.MaxOutputTokens))
	}

	started := time.Now()
	text, err := g.provider.Chat(genCtx, p.Messages, opts...)
	if err != nil {
		g.logger.Warn("ResponseGenerator", "Generation failed", map[string]interface{}{
			"provider": g.provider.Name(), "kind": apperr.KindOf(err).String(), "error": err.Error(),
		})
		return "", apperr.Wrap(op, err, apperr.KindUnknown)
	}

	g.logger.Debug("ResponseGenerator", "Generation finished", map[string]interface{}{
		"provider": g.provider.Name(), "elapsed_ms": time.Since(started).Milliseconds(), "chars": len(text),
	})
	return text, nil
}
