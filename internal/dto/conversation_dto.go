package dto

import (
	"time"

	"ai-ragchat-be/pkg/rag/retrieval"

	"github.com/google/uuid"
)

type CreateConversationRequest struct {
	Title string `json:"title" validate:"max=200"`
}

type CreateConversationResponse struct {
	Id uuid.UUID `json:"id"`
}

type ListConversationsRequest struct {
	Page  int `query:"page" validate:"omitempty,min=1"`
	Limit int `query:"limit" validate:"omitempty,min=1,max=100"`
}

type ConversationResponse struct {
	Id        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type ListConversationsResponse struct {
	Conversations []*ConversationResponse `json:"conversations"`
	Total         int64                   `json:"total"`
	Page          int                     `json:"page"`
	Limit         int                     `json:"limit"`
}

type ChatMessageResponse struct {
	Id        uuid.UUID                 `json:"id"`
	Role      string                    `json:"role"`
	Content   string                    `json:"content"`
	Context   []retrieval.ContextResult `json:"context,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
}

type ShowConversationResponse struct {
	ConversationResponse
	Messages []*ChatMessageResponse `json:"messages"`
}
