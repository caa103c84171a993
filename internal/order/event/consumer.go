package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veloretail/FulfillmentGo/pkg/kafka"
	"github.com/veloretail/FulfillmentGo/pkg/validator"
)

// Orchestrator is the slice of the saga orchestrator the consumer needs: the
// six event-ingestion entry points plus the two compensation failures.
type Orchestrator interface {
	HandleInventoryReserved(ctx context.Context, sagaID, orderID string) error
	HandleInventoryReserveFailed(ctx context.Context, sagaID, orderID, reason string) error
	HandleInventoryReleased(ctx context.Context, sagaID, orderID string) error
	HandleInventoryReleaseFailed(ctx context.Context, sagaID, orderID, reason string) error
	HandlePaymentCaptured(ctx context.Context, sagaID, orderID string) error
	HandlePaymentCaptureFailed(ctx context.Context, sagaID, orderID, reason string) error
	HandlePaymentRefunded(ctx context.Context, sagaID, orderID string) error
	HandlePaymentRefundFailed(ctx context.Context, sagaID, orderID, reason string) error
}

type resultPayload struct {
	SagaID  string `json:"saga_id" validate:"required"`
	OrderID string `json:"order_id" validate:"required"`
	Reason  string `json:"reason"`
}

// Dispatcher routes participant result events to the orchestrator. It is the
// handler for both the inventory and payment events topics.
type Dispatcher struct {
	orch   Orchestrator
	logger *slog.Logger
}

// NewDispatcher creates a saga event dispatcher.
func NewDispatcher(orch Orchestrator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{orch: orch, logger: logger}
}

// Handle decodes a result event and invokes the matching orchestrator entry
// point. Unknown event types are logged and acknowledged.
func (d *Dispatcher) Handle(ctx context.Context, event *kafka.Event) error {
	var payload resultPayload
	if err := event.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("decode %s event: %w", event.EventType, err)
	}
	if err := validator.Validate(payload); err != nil {
		return fmt.Errorf("invalid %s event: %w", event.EventType, err)
	}

	switch event.EventType {
	case kafka.EventInventoryReserved:
		return d.orch.HandleInventoryReserved(ctx, payload.SagaID, payload.OrderID)
	case kafka.EventInventoryReserveFailed:
		return d.orch.HandleInventoryReserveFailed(ctx, payload.SagaID, payload.OrderID, payload.Reason)
	case kafka.EventInventoryReleased:
		return d.orch.HandleInventoryReleased(ctx, payload.SagaID, payload.OrderID)
	case kafka.EventInventoryReleaseFailed:
		return d.orch.HandleInventoryReleaseFailed(ctx, payload.SagaID, payload.OrderID, payload.Reason)
	case kafka.EventPaymentCaptured:
		return d.orch.HandlePaymentCaptured(ctx, payload.SagaID, payload.OrderID)
	case kafka.EventPaymentCaptureFailed:
		return d.orch.HandlePaymentCaptureFailed(ctx, payload.SagaID, payload.OrderID, payload.Reason)
	case kafka.EventPaymentRefunded:
		return d.orch.HandlePaymentRefunded(ctx, payload.SagaID, payload.OrderID)
	case kafka.EventPaymentRefundFailed:
		return d.orch.HandlePaymentRefundFailed(ctx, payload.SagaID, payload.OrderID, payload.Reason)
	default:
		d.logger.WarnContext(ctx, "ignoring unknown event type",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
		)
		return nil
	}
}
