package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"ai-ragchat-be/internal/repository/specification"

	"github.com/google/uuid"
)

// row is what the in-memory repositories expose to specifications.
type row struct {
	id             uuid.UUID
	key            string
	userID         uuid.UUID
	conversationID uuid.UUID
	createdAt      time.Time
}

// apply evaluates gorm specifications over a slice: filters first, then
// the combined ordering, then pagination, the same order SQL applies them.
func apply[T any](items []T, rowOf func(T) row, specs []specification.Specification) ([]T, error) {
	var (
		orders []specification.OrderBy
		page   *specification.Pagination
	)
	out := items
	for _, spec := range specs {
		switch s := spec.(type) {
		case specification.ByID:
			out = keep(out, func(r row) bool { return r.id == s.ID }, rowOf)
		case specification.ByKey:
			out = keep(out, func(r row) bool { return r.key == s.Key }, rowOf)
		case specification.UserOwnedBy:
			out = keep(out, func(r row) bool { return r.userID == s.UserID }, rowOf)
		case specification.ByConversationID:
			out = keep(out, func(r row) bool { return r.conversationID == s.ConversationID }, rowOf)
		case specification.OrderBy:
			orders = append(orders, s)
		case specification.Pagination:
			p := s
			page = &p
		default:
			return nil, fmt.Errorf("memory repository: unsupported specification %T", spec)
		}
	}

	if len(orders) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := rowOf(out[i]), rowOf(out[j])
			for _, o := range orders {
				c := compare(a, b, o.Field)
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if page != nil {
		if page.Offset >= len(out) {
			return []T{}, nil
		}
		out = out[page.Offset:]
		if page.Limit > 0 && page.Limit < len(out) {
			out = out[:page.Limit]
		}
	}
	return out, nil
}

func keep[T any](items []T, pred func(row) bool, rowOf func(T) row) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if pred(rowOf(it)) {
			out = append(out, it)
		}
	}
	return out
}

func compare(a, b row, field string) int {
	switch field {
	case "created_at":
		return a.createdAt.Compare(b.createdAt)
	case "id":
		if a.key != "" || b.key != "" {
			return strings.Compare(a.key, b.key)
		}
		return strings.Compare(a.id.String(), b.id.String())
	}
	return 0
}
