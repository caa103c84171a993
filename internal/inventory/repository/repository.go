package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/veloretail/FulfillmentGo/internal/inventory/domain"
)

// InventoryRepository persists stock items and reservations. All methods take
// the transaction of the surrounding command handler: the ledger mutation,
// the reservation record, and the outbox append must commit together.
type InventoryRepository interface {
	// GetItemTx loads the stock item for a SKU, including its version counter.
	// Returns errors.ErrNotFound for an unknown SKU.
	GetItemTx(ctx context.Context, tx pgx.Tx, sku string) (*domain.Item, error)

	// DeductStockTx decreases available quantity under an optimistic version
	// check. Returns errors.ErrVersionConflict if another writer got there
	// first, errors.ErrInsufficientStock if the deduction would go negative.
	DeductStockTx(ctx context.Context, tx pgx.Tx, sku string, qty, version int) error

	// RestockTx returns quantity to the pool. No version check: restocking
	// cannot violate the non-negative invariant.
	RestockTx(ctx context.Context, tx pgx.Tx, sku string, qty int) error

	// GetReservationTx looks a reservation up by its (sagaID, orderID)
	// idempotency key. Returns errors.ErrNotFound when absent.
	GetReservationTx(ctx context.Context, tx pgx.Tx, sagaID, orderID string) (*domain.Reservation, error)

	// CreateReservationTx inserts a new reservation record.
	CreateReservationTx(ctx context.Context, tx pgx.Tx, res *domain.Reservation) error

	// UpdateReservationStatusTx updates the status of an existing reservation.
	UpdateReservationStatusTx(ctx context.Context, tx pgx.Tx, id string, status domain.ReservationStatus) error
}
