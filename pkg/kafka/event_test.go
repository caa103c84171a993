package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventFillsEnvelope(t *testing.T) {
	event, err := NewEvent(EventInventoryReserve, "order-1", AggregateTypeOrder, "order-service", map[string]string{"saga_id": "saga-1"})
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, EventInventoryReserve, event.EventType)
	assert.Equal(t, "order-1", event.AggregateID)
	assert.Equal(t, AggregateTypeOrder, event.AggregateType)
	assert.Equal(t, "order-service", event.Source)
	assert.Equal(t, 1, event.Version)
	assert.False(t, event.Timestamp.IsZero())
}

func TestEventRoundTrip(t *testing.T) {
	event, err := NewEvent(EventPaymentCapture, "order-1", AggregateTypeOrder, "order-service", map[string]any{
		"saga_id":  "saga-1",
		"order_id": "order-1",
		"amount":   2500,
	})
	require.NoError(t, err)

	raw, err := event.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, event.EventID, decoded.EventID)
	assert.Equal(t, event.EventType, decoded.EventType)

	var payload struct {
		SagaID string `json:"saga_id"`
		Amount int64  `json:"amount"`
	}
	require.NoError(t, decoded.UnmarshalData(&payload))
	assert.Equal(t, "saga-1", payload.SagaID)
	assert.Equal(t, int64(2500), payload.Amount)
}
