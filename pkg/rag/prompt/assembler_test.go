package prompt

import (
	"strings"
	"testing"

	"ai-ragchat-be/pkg/llm"
	"ai-ragchat-be/pkg/rag/history"
	"ai-ragchat-be/pkg/rag/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestAssembleWithoutContextIsOnlyTheUserTurn(t *testing.T) {
	p := NewAssembler().Assemble(nil, nil, "Hello")

	assert.Equal(t, []llm.Message{{Role: "user", Content: "Hello"}}, p.Messages)
	assert.NotContains(t, p.Text(), "context")
}

func TestAssemblePutsContextBeforeTheTurn(t *testing.T) {
	hist := []history.Message{
		{Role: history.RoleUser, Content: "What color is the sky?"},
		{Role: history.RoleAssistant, Content: "Blue."},
	}
	results := []retrieval.ContextResult{
		{Content: "The grass is green.", SimilarityScore: 0.9},
		{Content: "Grass needs water.", SimilarityScore: 0.8},
	}

	p := NewAssembler(WithSystemPrompt("Be brief.")).Assemble(hist, results, "And the grass?")
	require.Len(t, p.Messages, 4)

	assert.Equal(t, llm.Message{Role: "system", Content: "Be brief."}, p.Messages[0])
	assert.Equal(t, "user", p.Messages[1].Role)
	assert.Equal(t, "assistant", p.Messages[2].Role)

	last := p.Messages[3].Content
	assert.True(t, strings.HasPrefix(last, "Relevant context:\n\n1. The grass is green.\n\n2. Grass needs water.\n\n"))
	assert.True(t, strings.HasSuffix(last, "User message: And the grass?"))
}

func TestAssembleIsDeterministic(t *testing.T) {
	a := NewAssembler(WithSystemPrompt("sys"))
	results := []retrieval.ContextResult{{Content: "c1"}}
	assert.Equal(t, a.Assemble(nil, results, "q"), a.Assemble(nil, results, "q"))
}

func TestTokenBudgetDropsOldestHistoryFirst(t *testing.T) {
	hist := []history.Message{
		{Role: history.RoleUser, Content: "one two three four"},
		{Role: history.RoleAssistant, Content: "five six"},
	}
	results := []retrieval.ContextResult{{Content: "alpha"}, {Content: "beta"}}

	a := NewAssembler(WithTokenBudget(12, wordCounter{}))
	p := a.Assemble(hist, results, "question")

	require.Len(t, p.Messages, 2)
	assert.Equal(t, "five six", p.Messages[0].Content)
	assert.Contains(t, p.Messages[1].Content, "alpha")
	assert.Contains(t, p.Messages[1].Content, "beta")

	// a tiny budget strips everything but the user turn
	p = NewAssembler(WithTokenBudget(1, wordCounter{})).Assemble(hist, results, "question")
	assert.Equal(t, []llm.Message{{Role: "user", Content: "question"}}, p.Messages)
}
