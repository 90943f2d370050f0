package mapper

import (
	"encoding/json"
	"time"

	"ai-ragchat-be/internal/entity"
	"ai-ragchat-be/internal/model"

	"gorm.io/datatypes"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

// Conversation Mappers

func (m *ChatMapper) ConversationToEntity(c *model.Conversation) *entity.Conversation {
	if c == nil {
		return nil
	}

	var updatedAt *time.Time
	if !c.UpdatedAt.IsZero() {
		t := c.UpdatedAt
		updatedAt = &t
	}

	return &entity.Conversation{
		Id:        c.Id,
		UserId:    c.UserId,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: updatedAt,
	}
}

func (m *ChatMapper) ConversationToModel(c *entity.Conversation) *model.Conversation {
	if c == nil {
		return nil
	}

	var updatedAt time.Time
	if c.UpdatedAt != nil {
		updatedAt = *c.UpdatedAt
	}

	return &model.Conversation{
		Id:        c.Id,
		UserId:    c.UserId,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: updatedAt,
	}
}

// Message Mappers

func (m *ChatMapper) ChatMessageToEntity(msg *model.ChatMessage) *entity.ChatMessage {
	if msg == nil {
		return nil
	}

	var refs []entity.ContextReference
	if len(msg.Context) > 0 {
		// unreadable provenance is dropped, the message itself stays usable
		_ = json.Unmarshal(msg.Context, &refs)
	}

	return &entity.ChatMessage{
		Id:             msg.Id,
		ConversationId: msg.ConversationId,
		Role:           entity.ChatMessageRole(msg.Role),
		Content:        msg.Content,
		Context:        refs,
		CreatedAt:      msg.CreatedAt,
	}
}

func (m *ChatMapper) ChatMessageToModel(msg *entity.ChatMessage) (*model.ChatMessage, error) {
	if msg == nil {
		return nil, nil
	}

	var ctxJSON datatypes.JSON
	if len(msg.Context) > 0 {
		raw, err := json.Marshal(msg.Context)
		if err != nil {
			return nil, err
		}
		ctxJSON = raw
	}

	return &model.ChatMessage{
		Id:             msg.Id,
		ConversationId: msg.ConversationId,
		Role:           string(msg.Role),
		Content:        msg.Content,
		Context:        ctxJSON,
		CreatedAt:      msg.CreatedAt,
	}, nil
}

func (m *ChatMapper) ChatMessagesToEntities(models []*model.ChatMessage) []*entity.ChatMessage {
	out := make([]*entity.ChatMessage, len(models))
	for i, msg := range models {
		out[i] = m.ChatMessageToEntity(msg)
	}
	return out
}
