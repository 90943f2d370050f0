package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/rag/retrieval"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is immutable once appended. Context is only set on assistant
// messages.
type Message struct {
	ID             string                    `json:"id"`
	ConversationID string                    `json:"conversation_id"`
	Role           Role                      `json:"role"`
	Content        string                    `json:"content"`
	Context        []retrieval.ContextResult `json:"context,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
}

// Store is the durable message log. AppendMessages stores the batch
// atomically: either every message is stored or none is. RecentMessages
// returns the newest n messages of a conversation, oldest first.
type Store interface {
	AppendMessages(ctx context.Context, msgs []*Message) error
	RecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error)
}

// History fronts the durable store with a bounded, expiring window of the
// latest messages per conversation. Trimming is a read-time view: nothing
// stored is ever removed here.
type History struct {
	store  Store
	window int
	cache  *cache.Cache

	mu    sync.Mutex
	locks map[string]*convLock
	now   func() time.Time
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

// New keeps up to window messages per conversation in memory for ttl after
// the last access.
func New(store Store, window int, ttl time.Duration) *History {
	if window <= 0 {
		window = 10
	}
	return &History{
		store:  store,
		window: window,
		cache:  cache.New(ttl, 10*time.Minute),
		locks:  make(map[string]*convLock),
		now:    time.Now,
	}
}

// Append assigns ids and timestamps where missing and persists the
// messages of one conversation as a unit, in argument order. The cached
// window only changes once the store has accepted the whole batch. Appends
// to one conversation are serialized; other conversations do not wait.
func (h *History) Append(ctx context.Context, msgs ...*Message) error {
	const op = "history.append"
	if len(msgs) == 0 {
		return nil
	}
	conversationID := msgs[0].ConversationID
	if conversationID == "" {
		return apperr.Permanent(op, fmt.Errorf("message has no conversation id"))
	}
	for _, msg := range msgs {
		if msg.ConversationID != conversationID {
			return apperr.Permanent(op, fmt.Errorf("messages span conversations %q and %q", conversationID, msg.ConversationID))
		}
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			return apperr.Permanent(op, fmt.Errorf("unknown role %q", msg.Role))
		}
	}

	unlock := h.lock(conversationID)
	defer unlock()

	now := h.now().UTC()
	for _, msg := range msgs {
		if msg.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate message id: %w", err)
			}
			msg.ID = id.String()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
	}

	if err := h.store.AppendMessages(ctx, msgs); err != nil {
		return apperr.Wrap(op, err, apperr.KindTransient)
	}

	if x, ok := h.cache.Get(conversationID); ok {
		next := append(append([]Message(nil), x.([]Message)...), deref(msgs)...)
		h.cache.Set(conversationID, tail(next, h.window), cache.DefaultExpiration)
	}
	return nil
}

// Recent returns up to maxMessages of the latest messages, oldest first.
func (h *History) Recent(ctx context.Context, conversationID string, maxMessages int) ([]Message, error) {
	const op = "history.recent"
	if maxMessages <= 0 {
		return []Message{}, nil
	}

	if maxMessages <= h.window {
		if x, ok := h.cache.Get(conversationID); ok {
			return tail(x.([]Message), maxMessages), nil
		}
	}

	unlock := h.lock(conversationID)
	defer unlock()

	n := maxMessages
	if n < h.window {
		n = h.window
	}
	msgs, err := h.store.RecentMessages(ctx, conversationID, n)
	if err != nil {
		return nil, apperr.Wrap(op, err, apperr.KindTransient)
	}
	h.cache.Set(conversationID, tail(msgs, h.window), cache.DefaultExpiration)
	return tail(msgs, maxMessages), nil
}

// Forget drops the cached window, e.g. after the conversation was deleted.
func (h *History) Forget(conversationID string) {
	h.cache.Delete(conversationID)
}

func (h *History) lock(conversationID string) func() {
	h.mu.Lock()
	l, ok := h.locks[conversationID]
	if !ok {
		l = &convLock{}
		h.locks[conversationID] = l
	}
	l.refs++
	h.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		h.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(h.locks, conversationID)
		}
		h.mu.Unlock()
	}
}

func tail(msgs []Message, n int) []Message {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

func deref(msgs []*Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = *m
	}
	return out
}
