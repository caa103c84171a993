package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
)

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentNew      PaymentStatus = "NEW"
	PaymentCaptured PaymentStatus = "CAPTURED"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Payment is the single payment record for an order.
// Legal transitions: NEW→CAPTURED, CAPTURED→REFUNDED. Capturing a CAPTURED
// payment and refunding a REFUNDED payment are idempotent no-ops; capturing a
// REFUNDED payment or refunding anything not CAPTURED is rejected.
type Payment struct {
	ID         string
	OrderID    string
	CustomerID string
	Amount     int64
	Currency   string
	Status     PaymentStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewPayment creates a payment in the NEW state for an order.
func NewPayment(orderID, customerID string, amount int64, currency string) *Payment {
	return &Payment{
		ID:         uuid.New().String(),
		OrderID:    orderID,
		CustomerID: customerID,
		Amount:     amount,
		Currency:   currency,
		Status:     PaymentNew,
	}
}

// Capture transitions the payment to CAPTURED. Returns (changed, error):
// changed is false for the idempotent CAPTURED→CAPTURED no-op.
func (p *Payment) Capture() (bool, error) {
	switch p.Status {
	case PaymentNew, PaymentFailed:
		p.Status = PaymentCaptured
		return true, nil
	case PaymentCaptured:
		return false, nil
	default:
		return false, apperrors.InvalidTransition(
			fmt.Sprintf("cannot capture payment in status %s", p.Status))
	}
}

// Refund transitions the payment to REFUNDED. Returns (changed, error):
// changed is false for the idempotent REFUNDED→REFUNDED no-op.
func (p *Payment) Refund() (bool, error) {
	switch p.Status {
	case PaymentCaptured:
		p.Status = PaymentRefunded
		return true, nil
	case PaymentRefunded:
		return false, nil
	default:
		return false, apperrors.InvalidTransition(
			fmt.Sprintf("cannot refund payment in status %s", p.Status))
	}
}

// OperationType distinguishes the two payment commands.
type OperationType string

const (
	OperationCapture OperationType = "CAPTURE"
	OperationRefund  OperationType = "REFUND"
)

// OperationStatus is the recorded outcome of a payment operation.
type OperationStatus string

const (
	OperationSuccess OperationStatus = "SUCCESS"
	OperationFailed  OperationStatus = "FAILED"
)

// Operation is the idempotency record for one payment command. The
// (SagaID, OrderID, Type) triple is unique: a replayed command finds this
// record and re-emits the stored outcome without touching the ledger.
type Operation struct {
	ID        string
	SagaID    string
	OrderID   string
	Type      OperationType
	Status    OperationStatus
	Reason    string
	CreatedAt time.Time
}

// NewOperation records the outcome of a freshly processed command.
func NewOperation(sagaID, orderID string, opType OperationType, status OperationStatus, reason string) *Operation {
	return &Operation{
		ID:      uuid.New().String(),
		SagaID:  sagaID,
		OrderID: orderID,
		Type:    opType,
		Status:  status,
		Reason:  reason,
	}
}
