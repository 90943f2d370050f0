package service

import (
	"context"
	"encoding/json"

	"ai-ragchat-be/internal/dto"
	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/pkg/apperr"

	"github.com/ThreeDotsLabs/watermill/message"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	documents  IDocumentService
	logger     logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	documents IDocumentService,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		documents:  documents,
		logger:     log,
	}
}

// Consume drains the ingestion topic in the background until ctx ends.
func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	cs.logger.Info("ConsumerService", "Ingestion consumer started", map[string]interface{}{"topic": cs.topicName})
	return nil
}

// processMessage acks everything except transient failures, which are
// nacked for redelivery.
func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var payload dto.PublishIngestDocumentMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		cs.logger.Error("ConsumerService", "Dropping undecodable ingestion message", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		msg.Ack()
		return
	}

	fields := map[string]interface{}{"document_id": payload.DocumentId, "message_id": msg.UUID}
	cs.logger.Info("ConsumerService", "Processing queued document", fields)

	res, err := cs.documents.IngestNow(ctx, &payload)
	if err != nil {
		fields["error"] = err.Error()
		if apperr.IsTransient(err) {
			cs.logger.Warn("ConsumerService", "Ingestion failed, will retry", fields)
			msg.Nack()
			return
		}
		cs.logger.Error("ConsumerService", "Ingestion failed permanently", fields)
		msg.Ack()
		return
	}

	fields["chunks"] = res.Chunks
	cs.logger.Info("ConsumerService", "Queued document ingested", fields)
	msg.Ack()
}
