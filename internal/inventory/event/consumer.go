package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veloretail/FulfillmentGo/internal/inventory/domain"
	"github.com/veloretail/FulfillmentGo/internal/inventory/service"
	"github.com/veloretail/FulfillmentGo/pkg/kafka"
	"github.com/veloretail/FulfillmentGo/pkg/validator"
)

// InventoryService is the slice of the command service the consumer needs.
type InventoryService interface {
	Reserve(ctx context.Context, cmd service.ReserveCommand) error
	Release(ctx context.Context, cmd service.ReleaseCommand) error
}

type reservePayload struct {
	SagaID     string        `json:"saga_id" validate:"required"`
	OrderID    string        `json:"order_id" validate:"required"`
	CustomerID string        `json:"customer_id"`
	Items      []itemPayload `json:"items" validate:"required,min=1,dive"`
}

type itemPayload struct {
	SKU       string `json:"sku" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
	UnitPrice int64  `json:"unit_price"`
}

type releasePayload struct {
	SagaID  string `json:"saga_id" validate:"required"`
	OrderID string `json:"order_id" validate:"required"`
	Reason  string `json:"reason"`
}

// Dispatcher routes inventory command events to the service. It is plugged
// into the bus consumer as its handler.
type Dispatcher struct {
	svc    InventoryService
	logger *slog.Logger
}

// NewDispatcher creates an inventory command dispatcher.
func NewDispatcher(svc InventoryService, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{svc: svc, logger: logger}
}

// Handle decodes and validates a command envelope, then invokes the service.
// Unknown event types are logged and acknowledged; this topic may carry new
// command types before this instance is redeployed.
func (d *Dispatcher) Handle(ctx context.Context, event *kafka.Event) error {
	switch event.EventType {
	case kafka.EventInventoryReserve:
		return d.handleReserve(ctx, event)
	case kafka.EventInventoryRelease:
		return d.handleRelease(ctx, event)
	default:
		d.logger.WarnContext(ctx, "ignoring unknown command type",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
		)
		return nil
	}
}

func (d *Dispatcher) handleReserve(ctx context.Context, event *kafka.Event) error {
	var payload reservePayload
	if err := event.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("decode reserve command: %w", err)
	}
	if err := validator.Validate(payload); err != nil {
		return fmt.Errorf("invalid reserve command: %w", err)
	}

	lines := make([]domain.Line, len(payload.Items))
	for i, item := range payload.Items {
		lines[i] = domain.Line{
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}

	return d.svc.Reserve(ctx, service.ReserveCommand{
		SagaID:     payload.SagaID,
		OrderID:    payload.OrderID,
		CustomerID: payload.CustomerID,
		Lines:      lines,
	})
}

func (d *Dispatcher) handleRelease(ctx context.Context, event *kafka.Event) error {
	var payload releasePayload
	if err := event.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("decode release command: %w", err)
	}
	if err := validator.Validate(payload); err != nil {
		return fmt.Errorf("invalid release command: %w", err)
	}

	return d.svc.Release(ctx, service.ReleaseCommand{
		SagaID:  payload.SagaID,
		OrderID: payload.OrderID,
		Reason:  payload.Reason,
	})
}
