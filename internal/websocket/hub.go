package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"ai-ragchat-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const clusterChannel = "cluster_events"

// Hub is the live-session registry: at most one session per user. A newer
// session for the same user pre-empts the older one inside the same
// critical section that installs it.
type Hub struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session

	// Redis connection for cross-instance sends
	rdb      *redis.Client
	instance string

	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]*Session),
		rdb:      rdb,
		instance: uuid.NewString(),
		logger:   log,
	}
}

// Run relays sends published by other instances until ctx ends. Without
// Redis it returns immediately.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		return
	}

	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload clusterEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				h.logger.Warn("Hub", "Cluster message parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			if payload.Origin == h.instance {
				continue
			}
			uid, err := uuid.Parse(payload.TargetUserID)
			if err != nil {
				continue
			}
			h.deliver(uid, payload.Message)
		}
	}
}

type clusterEnvelope struct {
	Origin       string          `json:"origin"`
	TargetUserID string          `json:"target_user_id"`
	Message      json.RawMessage `json:"message"`
}

// Register installs s for userID. A different session already registered
// for the user is closed with CloseSuperseded before the swap.
func (h *Hub) Register(userID uuid.UUID, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.sessions[userID]; ok && old != s {
		old.closeWith(CloseSuperseded, "superseded by a newer session")
		h.logger.Info("Hub", "Session superseded", map[string]interface{}{
			"user_id": userID, "old_session": old.ID(), "new_session": s.ID(),
		})
	}
	h.sessions[userID] = s
	h.logger.Info("Hub", "Session registered", map[string]interface{}{"user_id": userID, "session": s.ID()})
}

// Unregister removes the entry only while it still points at s, so a
// superseded session cannot evict its replacement.
func (h *Hub) Unregister(userID uuid.UUID, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.sessions[userID]; ok && cur == s {
		delete(h.sessions, userID)
		h.logger.Info("Hub", "Session unregistered", map[string]interface{}{"user_id": userID, "session": s.ID()})
	}
}

func (h *Hub) Lookup(userID uuid.UUID) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[userID]
	return s, ok
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Send pushes a notification to the user's live session, here or on
// another instance.
func (h *Hub) Send(userID uuid.UUID, data interface{}) {
	frame, err := json.Marshal(NotificationFrame{Type: FrameNotification, Data: data})
	if err != nil {
		h.logger.Error("Hub", "Failed to encode notification", map[string]interface{}{"error": err.Error()})
		return
	}

	h.deliver(userID, frame)

	if h.rdb != nil {
		payload, _ := json.Marshal(clusterEnvelope{Origin: h.instance, TargetUserID: userID.String(), Message: frame})
		if err := h.rdb.Publish(context.Background(), clusterChannel, payload).Err(); err != nil {
			h.logger.Warn("Hub", "Cluster publish failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (h *Hub) deliver(userID uuid.UUID, frame []byte) {
	s, ok := h.Lookup(userID)
	if !ok {
		return
	}
	if !s.enqueue(frame) {
		h.logger.Warn("Hub", "Dropping notification for closed or busy session", map[string]interface{}{"user_id": userID})
	}
}
