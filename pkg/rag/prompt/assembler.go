package prompt

import (
	"strings"
	"sync"
	"unicode/utf8"

	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/pkg/llm"
	"ai-ragchat-be/pkg/rag/history"
	"ai-ragchat-be/pkg/rag/retrieval"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures prompt size for the optional token budget.
type TokenCounter interface {
	Count(text string) int
}

// Prompt is the generation request: optional system instruction, then the
// history window, then the new user turn (with context, if any, in front).
type Prompt struct {
	Messages []llm.Message
}

// Text flattens the prompt, mostly for logs and tests.
func (p Prompt) Text() string {
	var b strings.Builder
	for _, m := range p.Messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

type Assembler struct {
	systemPrompt string
	maxTokens    int
	counter      TokenCounter
}

type Option func(*Assembler)

// WithSystemPrompt adds a system instruction as the first message.
func WithSystemPrompt(s string) Option {
	return func(a *Assembler) { a.systemPrompt = s }
}

// WithTokenBudget caps the prompt size. When over budget the oldest history
// goes first, then the lowest-ranked context. The user turn is never cut.
func WithTokenBudget(maxTokens int, counter TokenCounter) Option {
	return func(a *Assembler) {
		a.maxTokens = maxTokens
		a.counter = counter
	}
}

func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble is deterministic in its inputs. With no results the context
// block is left out entirely.
func (a *Assembler) Assemble(historyView []history.Message, results []retrieval.ContextResult, userText string) Prompt {
	hist := historyView
	ctxResults := results

	if a.maxTokens > 0 && a.counter != nil {
		for a.size(hist, ctxResults, userText) > a.maxTokens {
			if len(hist) > 0 {
				hist = hist[1:]
				continue
			}
			if len(ctxResults) > 0 {
				ctxResults = ctxResults[:len(ctxResults)-1]
				continue
			}
			break
		}
	}

	return Prompt{Messages: a.build(hist, ctxResults, userText)}
}

func (a *Assembler) build(hist []history.Message, results []retrieval.ContextResult, userText string) []llm.Message {
	msgs := make([]llm.Message, 0, len(hist)+2)
	if a.systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: a.systemPrompt})
	}
	for _, m := range hist {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: userTurn(results, userText)})
	return msgs
}

func userTurn(results []retrieval.ContextResult, userText string) string {
	block := retrieval.Format(results)
	if block == "" {
		return userText
	}
	return block + "User message: " + userText
}

func (a *Assembler) size(hist []history.Message, results []retrieval.ContextResult, userText string) int {
	total := 0
	for _, m := range a.build(hist, results, userText) {
		total += a.counter.Count(m.Content)
	}
	return total
}

// TiktokenCounter counts with the cl100k_base encoding. The encoding is
// loaded on first use; if it cannot be loaded the counter falls back to an
// estimate of four bytes per token.
type TiktokenCounter struct {
	once   sync.Once
	enc    *tiktoken.Tiktoken
	logger logger.ILogger
}

func NewTiktokenCounter(log logger.ILogger) *TiktokenCounter {
	return &TiktokenCounter{logger: log}
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.logger.Warn("PromptAssembler", "Tokenizer unavailable, using byte estimate", map[string]interface{}{"error": err.Error()})
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		n := len(text) / 4
		if n == 0 && utf8.RuneCountInString(text) > 0 {
			n = 1
		}
		return n
	}
	return len(c.enc.Encode(text, nil, nil))
}
