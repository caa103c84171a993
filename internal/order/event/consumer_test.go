package event

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/veloretail/FulfillmentGo/pkg/kafka"
)

type mockOrchestrator struct {
	mock.Mock
}

func (m *mockOrchestrator) HandleInventoryReserved(ctx context.Context, sagaID, orderID string) error {
	return m.Called(ctx, sagaID, orderID).Error(0)
}

func (m *mockOrchestrator) HandleInventoryReserveFailed(ctx context.Context, sagaID, orderID, reason string) error {
	return m.Called(ctx, sagaID, orderID, reason).Error(0)
}

func (m *mockOrchestrator) HandleInventoryReleased(ctx context.Context, sagaID, orderID string) error {
	return m.Called(ctx, sagaID, orderID).Error(0)
}

func (m *mockOrchestrator) HandleInventoryReleaseFailed(ctx context.Context, sagaID, orderID, reason string) error {
	return m.Called(ctx, sagaID, orderID, reason).Error(0)
}

func (m *mockOrchestrator) HandlePaymentCaptured(ctx context.Context, sagaID, orderID string) error {
	return m.Called(ctx, sagaID, orderID).Error(0)
}

func (m *mockOrchestrator) HandlePaymentCaptureFailed(ctx context.Context, sagaID, orderID, reason string) error {
	return m.Called(ctx, sagaID, orderID, reason).Error(0)
}

func (m *mockOrchestrator) HandlePaymentRefunded(ctx context.Context, sagaID, orderID string) error {
	return m.Called(ctx, sagaID, orderID).Error(0)
}

func (m *mockOrchestrator) HandlePaymentRefundFailed(ctx context.Context, sagaID, orderID, reason string) error {
	return m.Called(ctx, sagaID, orderID, reason).Error(0)
}

func testEvent(t *testing.T, eventType string, data any) *kafka.Event {
	t.Helper()
	event, err := kafka.NewEvent(eventType, "order-1", kafka.AggregateTypeOrder, "inventory-service", data)
	require.NoError(t, err)
	return event
}

func TestDispatcherRoutesEvents(t *testing.T) {
	tests := []struct {
		eventType string
		method    string
		withRes   bool
	}{
		{kafka.EventInventoryReserved, "HandleInventoryReserved", false},
		{kafka.EventInventoryReserveFailed, "HandleInventoryReserveFailed", true},
		{kafka.EventInventoryReleased, "HandleInventoryReleased", false},
		{kafka.EventInventoryReleaseFailed, "HandleInventoryReleaseFailed", true},
		{kafka.EventPaymentCaptured, "HandlePaymentCaptured", false},
		{kafka.EventPaymentCaptureFailed, "HandlePaymentCaptureFailed", true},
		{kafka.EventPaymentRefunded, "HandlePaymentRefunded", false},
		{kafka.EventPaymentRefundFailed, "HandlePaymentRefundFailed", true},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			orch := new(mockOrchestrator)
			d := NewDispatcher(orch, slog.New(slog.DiscardHandler))

			if tt.withRes {
				orch.On(tt.method, mock.Anything, "saga-1", "order-1", "boom").Return(nil)
			} else {
				orch.On(tt.method, mock.Anything, "saga-1", "order-1").Return(nil)
			}

			event := testEvent(t, tt.eventType, map[string]any{
				"saga_id":  "saga-1",
				"order_id": "order-1",
				"reason":   "boom",
			})

			require.NoError(t, d.Handle(context.Background(), event))
			orch.AssertExpectations(t)
		})
	}
}

func TestDispatcherRejectsPayloadWithoutSagaID(t *testing.T) {
	orch := new(mockOrchestrator)
	d := NewDispatcher(orch, slog.New(slog.DiscardHandler))

	event := testEvent(t, kafka.EventInventoryReserved, map[string]any{
		"order_id": "order-1",
	})

	err := d.Handle(context.Background(), event)
	assert.Error(t, err)
	orch.AssertNotCalled(t, "HandleInventoryReserved")
}

func TestDispatcherIgnoresUnknownEventType(t *testing.T) {
	orch := new(mockOrchestrator)
	d := NewDispatcher(orch, slog.New(slog.DiscardHandler))

	event := testEvent(t, "inventory.audit", map[string]any{
		"saga_id":  "saga-1",
		"order_id": "order-1",
	})

	assert.NoError(t, d.Handle(context.Background(), event))
}
