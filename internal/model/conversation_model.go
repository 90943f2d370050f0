package model

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId    uuid.UUID `gorm:"type:uuid;not null;index"`
	Title     string    `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Conversation) TableName() string {
	return "conversations"
}
