package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Document struct {
	Id        string            `gorm:"type:text;primaryKey"`
	UserId    uuid.UUID         `gorm:"type:uuid;index"`
	Content   string            `gorm:"type:text;not null"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"autoCreateTime"`
}

func (Document) TableName() string {
	return "documents"
}
