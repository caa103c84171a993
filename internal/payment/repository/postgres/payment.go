package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/veloretail/FulfillmentGo/internal/payment/domain"
	"github.com/veloretail/FulfillmentGo/internal/payment/repository"
	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
)

// PaymentRepository is the PostgreSQL implementation of
// repository.PaymentRepository.
type PaymentRepository struct{}

// NewPaymentRepository creates a new payment repository.
func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{}
}

var _ repository.PaymentRepository = (*PaymentRepository)(nil)

func (r *PaymentRepository) GetPaymentByOrderTx(ctx context.Context, tx pgx.Tx, orderID string) (*domain.Payment, error) {
	query := `
		SELECT id, order_id, customer_id, amount, currency, status, created_at, updated_at
		FROM payments
		WHERE order_id = $1`

	var p domain.Payment
	err := tx.QueryRow(ctx, query, orderID).Scan(
		&p.ID,
		&p.OrderID,
		&p.CustomerID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("payment for order", orderID)
		}
		return nil, fmt.Errorf("get payment for order %s: %w", orderID, err)
	}

	return &p, nil
}

func (r *PaymentRepository) CreatePaymentTx(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, customer_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`

	if _, err := tx.Exec(ctx, query,
		p.ID, p.OrderID, p.CustomerID, p.Amount, p.Currency, p.Status,
	); err != nil {
		return fmt.Errorf("create payment %s: %w", p.ID, err)
	}

	return nil
}

func (r *PaymentRepository) UpdatePaymentStatusTx(ctx context.Context, tx pgx.Tx, id string, status domain.PaymentStatus) error {
	query := `
		UPDATE payments
		SET status = $1, updated_at = NOW()
		WHERE id = $2`

	tag, err := tx.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update payment %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("payment", id)
	}

	return nil
}

func (r *PaymentRepository) GetOperationTx(ctx context.Context, tx pgx.Tx, sagaID, orderID string, opType domain.OperationType) (*domain.Operation, error) {
	query := `
		SELECT id, saga_id, order_id, operation_type, status, COALESCE(reason, ''), created_at
		FROM payment_operations
		WHERE saga_id = $1 AND order_id = $2 AND operation_type = $3`

	var op domain.Operation
	err := tx.QueryRow(ctx, query, sagaID, orderID, opType).Scan(
		&op.ID,
		&op.SagaID,
		&op.OrderID,
		&op.Type,
		&op.Status,
		&op.Reason,
		&op.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("payment operation", fmt.Sprintf("%s/%s/%s", sagaID, orderID, opType))
		}
		return nil, fmt.Errorf("get payment operation %s/%s/%s: %w", sagaID, orderID, opType, err)
	}

	return &op, nil
}

func (r *PaymentRepository) CreateOperationTx(ctx context.Context, tx pgx.Tx, op *domain.Operation) error {
	query := `
		INSERT INTO payment_operations (id, saga_id, order_id, operation_type, status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NOW())`

	if _, err := tx.Exec(ctx, query,
		op.ID, op.SagaID, op.OrderID, op.Type, op.Status, op.Reason,
	); err != nil {
		return fmt.Errorf("create payment operation %s: %w", op.ID, err)
	}

	return nil
}
