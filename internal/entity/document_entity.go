package entity

import (
	"time"

	"github.com/google/uuid"
)

type Document struct {
	Id        string
	UserId    uuid.UUID
	Content   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}
