package websocket

import "ai-ragchat-be/pkg/rag/retrieval"

// Close codes sent to the client. 1007 is the standard code for a payload
// that is not a valid frame.
const (
	CloseInternalError      = 4000
	CloseAuthRequired       = 4001
	CloseConversationDenied = 4004
	CloseSuperseded         = 4009
	CloseMalformedFrame     = 1007
)

const (
	FrameAuthenticate = "authenticate"
	FrameMessage      = "message"
	FrameError        = "error"
	FrameNotification = "notification"
)

// InboundFrame is either the authenticate frame (first and only once) or a
// chat frame. Chat frames may omit the type.
type InboundFrame struct {
	Type    string `json:"type,omitempty"`
	Token   string `json:"token,omitempty"`
	Content string `json:"content,omitempty"`
}

type MessagePayload struct {
	Role    string                    `json:"role"`
	Content string                    `json:"content"`
	Context []retrieval.ContextResult `json:"context,omitempty"`
}

// ChatFrame is the reply to one turn.
type ChatFrame struct {
	Message        MessagePayload `json:"message"`
	ConversationID string         `json:"conversation_id"`
}

type ErrorPayload struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ErrorFrame reports a failed turn. The channel stays open unless a close
// frame follows.
type ErrorFrame struct {
	Type           string       `json:"type"`
	Error          ErrorPayload `json:"error"`
	ConversationID string       `json:"conversation_id,omitempty"`
}

// NotificationFrame is a server-initiated push, outside any turn.
type NotificationFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
