package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/veloretail/FulfillmentGo/internal/inventory/domain"
	"github.com/veloretail/FulfillmentGo/internal/inventory/repository"
	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
)

// InventoryRepository is the PostgreSQL implementation of
// repository.InventoryRepository.
type InventoryRepository struct{}

// NewInventoryRepository creates a new inventory repository.
func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{}
}

var _ repository.InventoryRepository = (*InventoryRepository)(nil)

func (r *InventoryRepository) GetItemTx(ctx context.Context, tx pgx.Tx, sku string) (*domain.Item, error) {
	query := `
		SELECT sku, available_qty, version, updated_at
		FROM inventory_items
		WHERE sku = $1`

	var item domain.Item
	err := tx.QueryRow(ctx, query, sku).Scan(
		&item.SKU,
		&item.AvailableQty,
		&item.Version,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("inventory item", sku)
		}
		return nil, fmt.Errorf("get inventory item %s: %w", sku, err)
	}

	return &item, nil
}

// DeductStockTx applies the deduction only if the version still matches and
// enough stock remains; zero rows affected means a concurrent writer won (or
// the stock check failed), distinguished by re-reading the row.
func (r *InventoryRepository) DeductStockTx(ctx context.Context, tx pgx.Tx, sku string, qty, version int) error {
	query := `
		UPDATE inventory_items
		SET available_qty = available_qty - $1, version = version + 1, updated_at = NOW()
		WHERE sku = $2 AND version = $3 AND available_qty >= $1`

	tag, err := tx.Exec(ctx, query, qty, sku, version)
	if err != nil {
		return fmt.Errorf("deduct stock for %s: %w", sku, err)
	}

	if tag.RowsAffected() == 0 {
		current, err := r.GetItemTx(ctx, tx, sku)
		if err != nil {
			return err
		}
		if current.Version != version {
			return fmt.Errorf("deduct stock for %s: %w", sku, apperrors.ErrVersionConflict)
		}
		return apperrors.InsufficientStock(
			fmt.Sprintf("not enough stock for sku=%s", sku))
	}

	return nil
}

func (r *InventoryRepository) RestockTx(ctx context.Context, tx pgx.Tx, sku string, qty int) error {
	query := `
		UPDATE inventory_items
		SET available_qty = available_qty + $1, version = version + 1, updated_at = NOW()
		WHERE sku = $2`

	tag, err := tx.Exec(ctx, query, qty, sku)
	if err != nil {
		return fmt.Errorf("restock %s: %w", sku, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("inventory item", sku)
	}

	return nil
}

func (r *InventoryRepository) GetReservationTx(ctx context.Context, tx pgx.Tx, sagaID, orderID string) (*domain.Reservation, error) {
	query := `
		SELECT id, saga_id, order_id, status, lines, COALESCE(failure_reason, ''), created_at, updated_at
		FROM inventory_reservations
		WHERE saga_id = $1 AND order_id = $2`

	var (
		res       domain.Reservation
		linesJSON []byte
	)
	err := tx.QueryRow(ctx, query, sagaID, orderID).Scan(
		&res.ID,
		&res.SagaID,
		&res.OrderID,
		&res.Status,
		&linesJSON,
		&res.FailureReason,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("reservation", sagaID+"/"+orderID)
		}
		return nil, fmt.Errorf("get reservation %s/%s: %w", sagaID, orderID, err)
	}

	if err := json.Unmarshal(linesJSON, &res.Lines); err != nil {
		return nil, fmt.Errorf("decode reservation lines: %w", err)
	}

	return &res, nil
}

func (r *InventoryRepository) CreateReservationTx(ctx context.Context, tx pgx.Tx, res *domain.Reservation) error {
	linesJSON, err := json.Marshal(res.Lines)
	if err != nil {
		return fmt.Errorf("encode reservation lines: %w", err)
	}

	query := `
		INSERT INTO inventory_reservations (id, saga_id, order_id, status, lines, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NOW(), NOW())`

	if _, err := tx.Exec(ctx, query,
		res.ID, res.SagaID, res.OrderID, res.Status, linesJSON, res.FailureReason,
	); err != nil {
		return fmt.Errorf("create reservation %s: %w", res.ID, err)
	}

	return nil
}

func (r *InventoryRepository) UpdateReservationStatusTx(ctx context.Context, tx pgx.Tx, id string, status domain.ReservationStatus) error {
	query := `
		UPDATE inventory_reservations
		SET status = $1, updated_at = NOW()
		WHERE id = $2`

	tag, err := tx.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update reservation %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("reservation", id)
	}

	return nil
}
