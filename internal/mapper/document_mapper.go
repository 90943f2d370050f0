package mapper

import (
	"ai-ragchat-be/internal/entity"
	"ai-ragchat-be/internal/model"

	"gorm.io/datatypes"
)

type DocumentMapper struct{}

func NewDocumentMapper() *DocumentMapper {
	return &DocumentMapper{}
}

func (m *DocumentMapper) ToEntity(d *model.Document) *entity.Document {
	if d == nil {
		return nil
	}
	return &entity.Document{
		Id:        d.Id,
		UserId:    d.UserId,
		Content:   d.Content,
		Metadata:  map[string]interface{}(d.Metadata),
		CreatedAt: d.CreatedAt,
	}
}

func (m *DocumentMapper) ToModel(d *entity.Document) *model.Document {
	if d == nil {
		return nil
	}
	return &model.Document{
		Id:        d.Id,
		UserId:    d.UserId,
		Content:   d.Content,
		Metadata:  datatypes.JSONMap(d.Metadata),
		CreatedAt: d.CreatedAt,
	}
}

func (m *DocumentMapper) ToEntities(models []*model.Document) []*entity.Document {
	out := make([]*entity.Document, len(models))
	for i, d := range models {
		out[i] = m.ToEntity(d)
	}
	return out
}
