package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ChatMessage struct {
	Id             uuid.UUID      `gorm:"type:uuid;primaryKey"`
	ConversationId uuid.UUID      `gorm:"type:uuid;not null;index:idx_chat_messages_conversation_created,priority:1"`
	Role           string         `gorm:"type:varchar(16);not null"`
	Content        string         `gorm:"type:text;not null"`
	Context        datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_chat_messages_conversation_created,priority:2"`

	Conversation *Conversation `gorm:"foreignKey:ConversationId;constraint:OnDelete:CASCADE"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
