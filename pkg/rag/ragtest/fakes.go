// Package ragtest holds deterministic fakes for the pipeline components.
package ragtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"ai-ragchat-be/pkg/llm"
)

// Embedder maps text to a normalized bag-of-words vector, so texts sharing
// words score high and unrelated texts score near zero.
type Embedder struct {
	Dim int
	Err error

	mu    sync.Mutex
	Calls int
}

func NewEmbedder() *Embedder { return &Embedder{Dim: 64} }

func (e *Embedder) Name() string    { return "fake" }
func (e *Embedder) Dimensions() int { return e.Dim }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.Calls++
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	v := make([]float32, e.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[int(h.Sum32())%e.Dim]++
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// LLM answers with a fixed reply or error, or blocks until the context
// ends when Block is set.
type LLM struct {
	Reply string
	Err   error
	Block bool

	mu       sync.Mutex
	Prompts  [][]llm.Message
	LastOpts llm.Options
}

func (l *LLM) Name() string { return "fake-llm" }

func (l *LLM) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	l.mu.Lock()
	l.Prompts = append(l.Prompts, history)
	l.LastOpts = llm.Apply(llm.Options{}, opts...)
	block, reply, err := l.Block, l.Reply, l.Err
	l.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (l *LLM) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return l.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

// SetBlock switches blocking behaviour between turns.
func (l *LLM) SetBlock(b bool) {
	l.mu.Lock()
	l.Block = b
	l.mu.Unlock()
}

func (l *LLM) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Prompts)
}

// Dims returns a zero vector of the embedder's dimension. Every stored
// vector scores 0 against it, which makes ordering fall back to insertion.
func (e *Embedder) Dims() []float32 {
	return make([]float32, e.Dim)
}
