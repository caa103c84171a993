package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
)

// SagaStatus is the lifecycle state of a saga instance.
type SagaStatus string

const (
	SagaCreateFlow SagaStatus = "CREATE_FLOW"
	SagaCancelFlow SagaStatus = "CANCEL_FLOW"
	SagaCompleted  SagaStatus = "COMPLETED"
	SagaFailed     SagaStatus = "FAILED"
)

// OrderSaga tracks one attempt to drive an order through fulfillment or
// cancellation. A new saga ID is minted per attempt. Once COMPLETED or FAILED
// the saga is immutable; handlers check IsTerminal first, which makes every
// event handler idempotent against redelivery after the terminal state.
//
// Invariant: a compensation "done" flag is never set unless the matching
// "required" flag is set — a step cannot be done if it was never required.
type OrderSaga struct {
	ID      string
	OrderID string
	Status  SagaStatus

	InventoryReserved bool
	PaymentCaptured   bool

	InventoryCompensationRequired bool
	InventoryCompensationDone     bool
	PaymentCompensationRequired   bool
	PaymentCompensationDone       bool

	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewCreateSaga starts a create-flow saga for an order.
func NewCreateSaga(orderID string) *OrderSaga {
	return &OrderSaga{
		ID:      uuid.New().String(),
		OrderID: orderID,
		Status:  SagaCreateFlow,
	}
}

// NewCancelSaga starts a cancel-flow saga with compensation requirements
// computed from the order's progress flags.
func NewCancelSaga(orderID string, inventoryRequired, paymentRequired bool) *OrderSaga {
	return &OrderSaga{
		ID:                            uuid.New().String(),
		OrderID:                       orderID,
		Status:                        SagaCancelFlow,
		InventoryCompensationRequired: inventoryRequired,
		PaymentCompensationRequired:   paymentRequired,
	}
}

// IsTerminal reports whether the saga has reached COMPLETED or FAILED.
func (s *OrderSaga) IsTerminal() bool {
	return s.Status == SagaCompleted || s.Status == SagaFailed
}

// MarkInventoryReserved records the reserve step's success during create flow.
func (s *OrderSaga) MarkInventoryReserved() {
	s.InventoryReserved = true
}

// MarkPaymentCaptured records the capture step's success during create flow.
func (s *OrderSaga) MarkPaymentCaptured() {
	s.PaymentCaptured = true
}

// SwitchToCancelFlow turns a create-flow saga into a compensation flow with
// the given requirements. This happens when payment fails mid-create, or when
// payment captures after the order was concurrently cancel-requested.
func (s *OrderSaga) SwitchToCancelFlow(inventoryRequired, paymentRequired bool) error {
	if s.Status != SagaCreateFlow {
		return apperrors.InvalidTransition(
			fmt.Sprintf("cannot switch saga in status %s to cancel flow", s.Status))
	}
	s.Status = SagaCancelFlow
	s.InventoryCompensationRequired = inventoryRequired
	s.PaymentCompensationRequired = paymentRequired
	return nil
}

// MarkInventoryCompensationDone records that stock was released. Marking a
// step done that was never required violates the saga invariant and is
// rejected.
func (s *OrderSaga) MarkInventoryCompensationDone() error {
	if !s.InventoryCompensationRequired {
		return apperrors.InvalidTransition(
			"inventory compensation was never required for this saga")
	}
	s.InventoryCompensationDone = true
	return nil
}

// MarkPaymentCompensationDone records that payment was refunded.
func (s *OrderSaga) MarkPaymentCompensationDone() error {
	if !s.PaymentCompensationRequired {
		return apperrors.InvalidTransition(
			"payment compensation was never required for this saga")
	}
	s.PaymentCompensationDone = true
	return nil
}

// IsCompensationFullyDone reports whether every required compensation step
// has completed.
func (s *OrderSaga) IsCompensationFullyDone() bool {
	if s.InventoryCompensationRequired && !s.InventoryCompensationDone {
		return false
	}
	if s.PaymentCompensationRequired && !s.PaymentCompensationDone {
		return false
	}
	return true
}

// Complete moves the saga to COMPLETED.
func (s *OrderSaga) Complete() error {
	if s.IsTerminal() {
		return apperrors.InvalidTransition(
			fmt.Sprintf("saga already terminal in status %s", s.Status))
	}
	s.Status = SagaCompleted
	return nil
}

// Fail moves the saga to FAILED with a reason for operators.
func (s *OrderSaga) Fail(reason string) error {
	if s.IsTerminal() {
		return apperrors.InvalidTransition(
			fmt.Sprintf("saga already terminal in status %s", s.Status))
	}
	s.Status = SagaFailed
	s.FailureReason = reason
	return nil
}
