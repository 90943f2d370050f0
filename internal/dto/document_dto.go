package dto

import (
	"time"

	"ai-ragchat-be/pkg/rag/retrieval"
)

type IngestDocumentRequest struct {
	// Id re-ingests an existing document when set.
	Id       string                 `json:"id" validate:"omitempty,max=200"`
	Content  string                 `json:"content" validate:"required"`
	Metadata map[string]interface{} `json:"metadata"`
}

type IngestDocumentResponse struct {
	Id     string `json:"id"`
	Chunks int    `json:"chunks"`
	Queued bool   `json:"queued"`
}

type DocumentResponse struct {
	Id        string                 `json:"id"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"created_at"`
}

type SearchDocumentsRequest struct {
	Query string `query:"q" validate:"required"`
	Limit int    `query:"limit" validate:"omitempty,min=1,max=50"`
}

type SearchDocumentsResponse struct {
	Results []retrieval.ContextResult `json:"results"`
}

// PublishIngestDocumentMessage is the async ingestion queue payload.
type PublishIngestDocumentMessage struct {
	DocumentId string                 `json:"document_id"`
	UserId     string                 `json:"user_id"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
}
