package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/veloretail/FulfillmentGo/internal/order/domain"
	"github.com/veloretail/FulfillmentGo/internal/order/repository"
	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
)

// SagaRepository is the PostgreSQL implementation of
// repository.SagaRepository.
type SagaRepository struct{}

// NewSagaRepository creates a new saga repository.
func NewSagaRepository() *SagaRepository {
	return &SagaRepository{}
}

var _ repository.SagaRepository = (*SagaRepository)(nil)

const sagaColumns = `id, order_id, status,
		       inventory_reserved, payment_captured,
		       inventory_compensation_required, inventory_compensation_done,
		       payment_compensation_required, payment_compensation_done,
		       COALESCE(failure_reason, ''), created_at, updated_at`

func scanSaga(row pgx.Row) (*domain.OrderSaga, error) {
	var s domain.OrderSaga
	err := row.Scan(
		&s.ID,
		&s.OrderID,
		&s.Status,
		&s.InventoryReserved,
		&s.PaymentCaptured,
		&s.InventoryCompensationRequired,
		&s.InventoryCompensationDone,
		&s.PaymentCompensationRequired,
		&s.PaymentCompensationDone,
		&s.FailureReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SagaRepository) CreateTx(ctx context.Context, tx pgx.Tx, s *domain.OrderSaga) error {
	query := `
		INSERT INTO order_sagas (
			id, order_id, status,
			inventory_reserved, payment_captured,
			inventory_compensation_required, inventory_compensation_done,
			payment_compensation_required, payment_compensation_done,
			failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NOW(), NOW())`

	if _, err := tx.Exec(ctx, query,
		s.ID, s.OrderID, s.Status,
		s.InventoryReserved, s.PaymentCaptured,
		s.InventoryCompensationRequired, s.InventoryCompensationDone,
		s.PaymentCompensationRequired, s.PaymentCompensationDone,
		s.FailureReason,
	); err != nil {
		return fmt.Errorf("create saga %s: %w", s.ID, err)
	}

	return nil
}

func (r *SagaRepository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, sagaID string) (*domain.OrderSaga, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM order_sagas
		WHERE id = $1
		FOR UPDATE`, sagaColumns)

	s, err := scanSaga(tx.QueryRow(ctx, query, sagaID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("saga", sagaID)
		}
		return nil, fmt.Errorf("get saga %s: %w", sagaID, err)
	}

	return s, nil
}

func (r *SagaRepository) UpdateTx(ctx context.Context, tx pgx.Tx, s *domain.OrderSaga) error {
	query := `
		UPDATE order_sagas
		SET status = $1,
		    inventory_reserved = $2, payment_captured = $3,
		    inventory_compensation_required = $4, inventory_compensation_done = $5,
		    payment_compensation_required = $6, payment_compensation_done = $7,
		    failure_reason = NULLIF($8, ''), updated_at = NOW()
		WHERE id = $9`

	tag, err := tx.Exec(ctx, query,
		s.Status,
		s.InventoryReserved, s.PaymentCaptured,
		s.InventoryCompensationRequired, s.InventoryCompensationDone,
		s.PaymentCompensationRequired, s.PaymentCompensationDone,
		s.FailureReason, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update saga %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("saga", s.ID)
	}

	return nil
}

// FindActiveCancelSagaTx locks and returns the in-flight cancel saga for an
// order. Starting a second cancel saga while one is active would double the
// compensation commands, so the orchestrator checks this first.
func (r *SagaRepository) FindActiveCancelSagaTx(ctx context.Context, tx pgx.Tx, orderID string) (*domain.OrderSaga, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM order_sagas
		WHERE order_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`, sagaColumns)

	s, err := scanSaga(tx.QueryRow(ctx, query, orderID, domain.SagaCancelFlow))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("active cancel saga for order", orderID)
		}
		return nil, fmt.Errorf("find active cancel saga for order %s: %w", orderID, err)
	}

	return s, nil
}
