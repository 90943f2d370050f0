package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ai-ragchat-be/internal/entity"
	"ai-ragchat-be/internal/repository/contract"
	"ai-ragchat-be/internal/repository/specification"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Store holds every table of the in-memory backend. Items never expire;
// go-cache only provides the concurrent keyed storage.
type Store struct {
	conversations *cache.Cache
	documents     *cache.Cache

	mu       sync.RWMutex
	messages map[uuid.UUID][]*entity.ChatMessage
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		conversations: cache.New(cache.NoExpiration, 0),
		documents:     cache.New(cache.NoExpiration, 0),
		messages:      make(map[uuid.UUID][]*entity.ChatMessage),
		now:           time.Now,
	}
}

// conversations

type ConversationRepository struct {
	s  *Store
	tx *journal
}

func NewConversationRepository(s *Store) contract.ConversationRepository {
	return &ConversationRepository{s: s}
}

func (r *ConversationRepository) Create(_ context.Context, c *entity.Conversation) error {
	if c.Id == uuid.Nil {
		c.Id = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.s.now().UTC()
	}
	r.put(c)
	return nil
}

func (r *ConversationRepository) Update(_ context.Context, c *entity.Conversation) error {
	now := r.s.now().UTC()
	c.UpdatedAt = &now
	r.put(c)
	return nil
}

func (r *ConversationRepository) put(c *entity.Conversation) {
	key := c.Id.String()
	r.tx.record(restore(r.s.conversations, key))
	cp := *c
	r.s.conversations.Set(key, &cp, cache.NoExpiration)
}

func (r *ConversationRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.tx.record(restore(r.s.conversations, id.String()))
	r.s.conversations.Delete(id.String())
	return nil
}

func (r *ConversationRepository) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Conversation, error) {
	all, err := r.FindAll(ctx, specs...)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

func (r *ConversationRepository) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.Conversation, error) {
	items := r.s.conversations.Items()
	list := make([]*entity.Conversation, 0, len(items))
	for _, it := range items {
		cp := *it.Object.(*entity.Conversation)
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Id.String() < list[j].Id.String() })
	return apply(list, func(c *entity.Conversation) row {
		return row{id: c.Id, userID: c.UserId, createdAt: c.CreatedAt}
	}, specs)
}

func (r *ConversationRepository) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	all, err := r.FindAll(ctx, specs...)
	return int64(len(all)), err
}

// messages

type ChatMessageRepository struct {
	s  *Store
	tx *journal
}

func NewChatMessageRepository(s *Store) contract.ChatMessageRepository {
	return &ChatMessageRepository{s: s}
}

func (r *ChatMessageRepository) Create(_ context.Context, m *entity.ChatMessage) error {
	if m.Id == uuid.Nil {
		m.Id = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.s.now().UTC()
	}
	cp := *m
	r.s.mu.Lock()
	r.s.messages[m.ConversationId] = append(r.s.messages[m.ConversationId], &cp)
	r.s.mu.Unlock()

	r.tx.record(func() {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		msgs := r.s.messages[cp.ConversationId]
		for i, x := range msgs {
			if x.Id == cp.Id {
				r.s.messages[cp.ConversationId] = append(msgs[:i:i], msgs[i+1:]...)
				break
			}
		}
		if len(r.s.messages[cp.ConversationId]) == 0 {
			delete(r.s.messages, cp.ConversationId)
		}
	})
	return nil
}

func (r *ChatMessageRepository) DeleteByConversationId(_ context.Context, conversationId uuid.UUID) error {
	r.s.mu.Lock()
	prev, had := r.s.messages[conversationId]
	delete(r.s.messages, conversationId)
	r.s.mu.Unlock()

	if had {
		r.tx.record(func() {
			r.s.mu.Lock()
			r.s.messages[conversationId] = prev
			r.s.mu.Unlock()
		})
	}
	return nil
}

func (r *ChatMessageRepository) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.ChatMessage, error) {
	r.s.mu.RLock()
	var list []*entity.ChatMessage
	for _, msgs := range r.s.messages {
		for _, m := range msgs {
			cp := *m
			list = append(list, &cp)
		}
	}
	r.s.mu.RUnlock()

	// insertion order within a conversation is the default order
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].ConversationId != list[j].ConversationId {
			return list[i].ConversationId.String() < list[j].ConversationId.String()
		}
		return false
	})
	return apply(list, func(m *entity.ChatMessage) row {
		return row{id: m.Id, conversationID: m.ConversationId, createdAt: m.CreatedAt}
	}, specs)
}

func (r *ChatMessageRepository) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	all, err := r.FindAll(ctx, specs...)
	return int64(len(all)), err
}

// documents

type DocumentRepository struct {
	s  *Store
	tx *journal
}

func NewDocumentRepository(s *Store) contract.DocumentRepository {
	return &DocumentRepository{s: s}
}

func (r *DocumentRepository) Save(_ context.Context, d *entity.Document) error {
	if prev, ok := r.s.documents.Get(d.Id); ok {
		d.CreatedAt = prev.(*entity.Document).CreatedAt
	} else if d.CreatedAt.IsZero() {
		d.CreatedAt = r.s.now().UTC()
	}
	r.tx.record(restore(r.s.documents, d.Id))
	cp := *d
	r.s.documents.Set(d.Id, &cp, cache.NoExpiration)
	return nil
}

func (r *DocumentRepository) Delete(_ context.Context, id string) error {
	r.tx.record(restore(r.s.documents, id))
	r.s.documents.Delete(id)
	return nil
}

func (r *DocumentRepository) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Document, error) {
	all, err := r.FindAll(ctx, specs...)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

func (r *DocumentRepository) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.Document, error) {
	items := r.s.documents.Items()
	list := make([]*entity.Document, 0, len(items))
	for _, it := range items {
		cp := *it.Object.(*entity.Document)
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Id < list[j].Id })
	return apply(list, func(d *entity.Document) row {
		return row{key: d.Id, userID: d.UserId, createdAt: d.CreatedAt}
	}, specs)
}

// restore captures the current value under key and returns the step that
// puts it back, or removes the key when it was absent.
func restore(c *cache.Cache, key string) func() {
	prev, ok := c.Get(key)
	return func() {
		if ok {
			c.Set(key, prev, cache.NoExpiration)
			return
		}
		c.Delete(key)
	}
}
