package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/veloretail/FulfillmentGo/internal/order/domain"
)

// OrderRepository persists orders. The orchestrator is the only writer after
// creation; it loads with FOR UPDATE so conflicting handlers for the same
// order serialize on the row lock.
type OrderRepository interface {
	// CreateTx inserts a new order (used by the ordering boundary and tests).
	CreateTx(ctx context.Context, tx pgx.Tx, o *domain.Order) error

	// GetForUpdateTx loads an order with a row lock.
	// Returns errors.ErrNotFound for an unknown ID.
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, orderID string) (*domain.Order, error)

	// UpdateTx persists the order's status, progress flags, and cancel reason.
	UpdateTx(ctx context.Context, tx pgx.Tx, o *domain.Order) error
}

// SagaRepository persists saga instances.
type SagaRepository interface {
	// CreateTx inserts a new saga.
	CreateTx(ctx context.Context, tx pgx.Tx, s *domain.OrderSaga) error

	// GetForUpdateTx loads a saga with a row lock.
	// Returns errors.ErrNotFound for an unknown ID.
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, sagaID string) (*domain.OrderSaga, error)

	// UpdateTx persists the saga's status and flags.
	UpdateTx(ctx context.Context, tx pgx.Tx, s *domain.OrderSaga) error

	// FindActiveCancelSagaTx returns the non-terminal cancel-flow saga for an
	// order, if one exists. Returns errors.ErrNotFound when there is none.
	FindActiveCancelSagaTx(ctx context.Context, tx pgx.Tx, orderID string) (*domain.OrderSaga, error)
}
