package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veloretail/FulfillmentGo/internal/payment/service"
	"github.com/veloretail/FulfillmentGo/pkg/kafka"
	"github.com/veloretail/FulfillmentGo/pkg/validator"
)

// PaymentService is the slice of the command service the consumer needs.
type PaymentService interface {
	Capture(ctx context.Context, cmd service.CaptureCommand) error
	Refund(ctx context.Context, cmd service.RefundCommand) error
}

type capturePayload struct {
	SagaID     string `json:"saga_id" validate:"required"`
	OrderID    string `json:"order_id" validate:"required"`
	CustomerID string `json:"customer_id"`
	Amount     int64  `json:"amount" validate:"gt=0"`
	Currency   string `json:"currency" validate:"required,len=3"`
}

type refundPayload struct {
	SagaID  string `json:"saga_id" validate:"required"`
	OrderID string `json:"order_id" validate:"required"`
	Reason  string `json:"reason"`
}

// Dispatcher routes payment command events to the service.
type Dispatcher struct {
	svc    PaymentService
	logger *slog.Logger
}

// NewDispatcher creates a payment command dispatcher.
func NewDispatcher(svc PaymentService, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{svc: svc, logger: logger}
}

// Handle decodes and validates a command envelope, then invokes the service.
func (d *Dispatcher) Handle(ctx context.Context, event *kafka.Event) error {
	switch event.EventType {
	case kafka.EventPaymentCapture:
		return d.handleCapture(ctx, event)
	case kafka.EventPaymentRefund:
		return d.handleRefund(ctx, event)
	default:
		d.logger.WarnContext(ctx, "ignoring unknown command type",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
		)
		return nil
	}
}

func (d *Dispatcher) handleCapture(ctx context.Context, event *kafka.Event) error {
	var payload capturePayload
	if err := event.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("decode capture command: %w", err)
	}
	if err := validator.Validate(payload); err != nil {
		return fmt.Errorf("invalid capture command: %w", err)
	}

	return d.svc.Capture(ctx, service.CaptureCommand{
		SagaID:     payload.SagaID,
		OrderID:    payload.OrderID,
		CustomerID: payload.CustomerID,
		Amount:     payload.Amount,
		Currency:   payload.Currency,
	})
}

func (d *Dispatcher) handleRefund(ctx context.Context, event *kafka.Event) error {
	var payload refundPayload
	if err := event.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("decode refund command: %w", err)
	}
	if err := validator.Validate(payload); err != nil {
		return fmt.Errorf("invalid refund command: %w", err)
	}

	return d.svc.Refund(ctx, service.RefundCommand{
		SagaID:  payload.SagaID,
		OrderID: payload.OrderID,
		Reason:  payload.Reason,
	})
}
