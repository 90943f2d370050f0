package entity

import (
	"time"

	"github.com/google/uuid"
)

type ChatMessageRole string

const (
	ChatMessageRoleUser      ChatMessageRole = "user"
	ChatMessageRoleAssistant ChatMessageRole = "assistant"
)

type ChatMessage struct {
	Id             uuid.UUID
	ConversationId uuid.UUID
	Role           ChatMessageRole
	Content        string
	// Context is the retrieval provenance of an assistant message.
	Context   []ContextReference
	CreatedAt time.Time
}

type ContextReference struct {
	Content         string                 `json:"content"`
	DocumentId      string                 `json:"document_id"`
	SimilarityScore float64                `json:"similarity_score"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}
