package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/veloretail/FulfillmentGo/internal/payment/domain"
)

// PaymentRepository persists payments and their operation log. All methods
// take the transaction of the surrounding command handler so the ledger
// mutation, operation record, and outbox append commit together.
type PaymentRepository interface {
	// GetPaymentByOrderTx loads the payment for an order.
	// Returns errors.ErrNotFound when none exists.
	GetPaymentByOrderTx(ctx context.Context, tx pgx.Tx, orderID string) (*domain.Payment, error)

	// CreatePaymentTx inserts a new payment record.
	CreatePaymentTx(ctx context.Context, tx pgx.Tx, p *domain.Payment) error

	// UpdatePaymentStatusTx updates the status of an existing payment.
	UpdatePaymentStatusTx(ctx context.Context, tx pgx.Tx, id string, status domain.PaymentStatus) error

	// GetOperationTx looks an operation up by its (sagaID, orderID, type)
	// idempotency key. Returns errors.ErrNotFound when absent.
	GetOperationTx(ctx context.Context, tx pgx.Tx, sagaID, orderID string, opType domain.OperationType) (*domain.Operation, error)

	// CreateOperationTx inserts a new operation record.
	CreateOperationTx(ctx context.Context, tx pgx.Tx, op *domain.Operation) error
}
