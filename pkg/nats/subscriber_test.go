package nats

import (
	"encoding/json"
	"testing"
	"time"

	"ai-ragchat-be/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(envelope{
		Type:       events.DocumentIngested,
		Data:       map[string]interface{}{"document_id": "doc-1"},
		OccurredAt: at,
	})
	require.NoError(t, err)

	evt, err := decode("events.DOCUMENT_INGESTED", raw)
	require.NoError(t, err)
	assert.Equal(t, events.DocumentIngested, evt.EventType())
	assert.Equal(t, "doc-1", evt.Payload()["document_id"])
	assert.True(t, at.Equal(evt.Timestamp()))
}

func TestDecodeFallsBackToSubject(t *testing.T) {
	evt, err := decode("events.TURN_COMPLETED", []byte(`{"data":{"conversation_id":"c"}}`))
	require.NoError(t, err)
	assert.Equal(t, events.TurnCompleted, evt.EventType())

	_, err = decode("events.X", []byte("not json"))
	assert.Error(t, err)
}
