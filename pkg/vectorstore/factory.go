package vectorstore

import (
	"context"
	"fmt"

	"ai-ragchat-be/pkg/apperr"

	"gorm.io/gorm"
)

// Settings selects and configures one backend. The choice is made once in
// New; callers only ever see the Index interface.
type Settings struct {
	Backend   string // memory | badger | pgvector | vectorize
	Dimension int

	BadgerPath string
	DB         *gorm.DB
	Vectorize  VectorizeConfig
}

func New(ctx context.Context, s Settings) (Index, error) {
	switch s.Backend {
	case "", "memory":
		return NewMemoryIndex(), nil
	case "badger":
		return NewBadgerIndex(s.BadgerPath)
	case "pgvector":
		return NewPgVectorIndex(ctx, s.DB, s.Dimension)
	case "vectorize":
		return NewVectorizeIndex(s.Vectorize)
	default:
		return nil, apperr.Configuration("vectorstore.new", fmt.Sprintf("unsupported vector backend: %s", s.Backend))
	}
}

// CheckThreshold rejects a configured similarity threshold that lies
// outside the metric range of the selected backend.
func CheckThreshold(m Metric, threshold float64) error {
	if threshold < m.Min || threshold > m.Max {
		return apperr.Configuration("vectorstore.threshold", fmt.Sprintf("min similarity %g is outside the %s range", threshold, m))
	}
	return nil
}
