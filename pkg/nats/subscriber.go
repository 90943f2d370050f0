package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/pkg/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EventHandler processes one event. Returning an error redelivers it.
type EventHandler func(ctx context.Context, event events.Event) error

// Subscriber handles listening for events from NATS.
type Subscriber struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	logger   logger.ILogger
	contexts []jetstream.ConsumeContext
}

func NewSubscriber(url string, log logger.ILogger) (*Subscriber, error) {
	nc, js, err := connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{nc: nc, js: js, logger: log}, nil
}

// Subscribe registers a handler on a durable consumer so events published
// while this instance was down are still delivered.
func (s *Subscriber) Subscribe(ctx context.Context, subject, durableName string, handler EventHandler) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durableName,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		event, err := decode(msg.Subject(), msg.Data())
		if err != nil {
			s.logger.Warn("NatsSubscriber", "Dropping undecodable event", map[string]interface{}{"subject": msg.Subject(), "error": err.Error()})
			msg.Term()
			return
		}

		if err := handler(context.Background(), event); err != nil {
			s.logger.Warn("NatsSubscriber", "Handler failed, event will be redelivered", map[string]interface{}{"subject": msg.Subject(), "error": err.Error()})
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	s.contexts = append(s.contexts, cc)

	s.logger.Info("NatsSubscriber", "Subscribed", map[string]interface{}{"subject": subject, "durable": durableName})
	return nil
}

func decode(subject string, data []byte) (events.BaseEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.BaseEvent{}, err
	}
	if env.Type == "" {
		env.Type = strings.TrimPrefix(subject, subjectPrefix)
	}
	return events.BaseEvent{Type: env.Type, Data: env.Data, OccurredAt: env.OccurredAt}, nil
}

func (s *Subscriber) Close() {
	for _, cc := range s.contexts {
		cc.Stop()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
