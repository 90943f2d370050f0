package service

import (
	"context"
	"strings"

	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/pkg/events"
	pktNats "ai-ragchat-be/pkg/nats"

	"github.com/google/uuid"
)

// NotificationDelivery pushes server-initiated frames to a user's live
// session. Implemented by the websocket hub.
type NotificationDelivery interface {
	Send(userID uuid.UUID, data interface{})
}

// EventSubscriber is the part of the NATS subscriber the relay needs.
type EventSubscriber interface {
	Subscribe(ctx context.Context, subject, durableName string, handler pktNats.EventHandler) error
}

// NotificationService relays document events to the owner's live session.
type NotificationService struct {
	subscriber EventSubscriber
	delivery   NotificationDelivery
	logger     logger.ILogger
}

func NewNotificationService(sub EventSubscriber, delivery NotificationDelivery, log logger.ILogger) *NotificationService {
	return &NotificationService{
		subscriber: sub,
		delivery:   delivery,
		logger:     log,
	}
}

var relayedEvents = []string{events.DocumentIngested, events.DocumentDeleted}

// Start registers one durable consumer per relayed event type.
func (s *NotificationService) Start(ctx context.Context) error {
	for _, eventType := range relayedEvents {
		subject := "events." + eventType
		durable := "notify-" + strings.ToLower(strings.ReplaceAll(eventType, "_", "-"))
		if err := s.subscriber.Subscribe(ctx, subject, durable, s.HandleEvent); err != nil {
			s.logger.Error("NotificationService", "Failed to subscribe", map[string]interface{}{
				"subject": subject,
				"error":   err.Error(),
			})
			return err
		}
	}
	s.logger.Info("NotificationService", "Relaying document events to live sessions", nil)
	return nil
}

// HandleEvent never asks for redelivery: a notification for a user who is
// offline or unidentifiable is simply dropped.
func (s *NotificationService) HandleEvent(_ context.Context, event events.Event) error {
	payload := event.Payload()

	raw, _ := payload["user_id"].(string)
	userID, err := uuid.Parse(raw)
	if err != nil {
		s.logger.Warn("NotificationService", "Event has no usable user_id", map[string]interface{}{"type": event.EventType()})
		return nil
	}

	data := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		if k == "user_id" {
			continue
		}
		data[k] = v
	}
	data["event"] = event.EventType()
	data["occurred_at"] = event.Timestamp()

	s.delivery.Send(userID, data)
	return nil
}
