package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/veloretail/FulfillmentGo/internal/order/domain"
	"github.com/veloretail/FulfillmentGo/internal/order/repository"
	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
)

// OrderRepository is the PostgreSQL implementation of
// repository.OrderRepository.
type OrderRepository struct{}

// NewOrderRepository creates a new order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{}
}

var _ repository.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) CreateTx(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}

	query := `
		INSERT INTO orders (
			id, customer_id, status, total, currency, shipping_address,
			items, inventory_reserved, paid, cancel_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NOW(), NOW())`

	if _, err := tx.Exec(ctx, query,
		o.ID, o.CustomerID, o.Status, o.Total, o.Currency, o.ShippingAddress,
		itemsJSON, o.InventoryReserved, o.Paid, o.CancelReason,
	); err != nil {
		return fmt.Errorf("create order %s: %w", o.ID, err)
	}

	return nil
}

func (r *OrderRepository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, orderID string) (*domain.Order, error) {
	query := `
		SELECT id, customer_id, status, total, currency, shipping_address,
		       items, inventory_reserved, paid, COALESCE(cancel_reason, ''),
		       created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE`

	var (
		o         domain.Order
		itemsJSON []byte
	)
	err := tx.QueryRow(ctx, query, orderID).Scan(
		&o.ID,
		&o.CustomerID,
		&o.Status,
		&o.Total,
		&o.Currency,
		&o.ShippingAddress,
		&itemsJSON,
		&o.InventoryReserved,
		&o.Paid,
		&o.CancelReason,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", orderID)
		}
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}

	return &o, nil
}

func (r *OrderRepository) UpdateTx(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	query := `
		UPDATE orders
		SET status = $1, inventory_reserved = $2, paid = $3,
		    cancel_reason = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $5`

	tag, err := tx.Exec(ctx, query,
		o.Status, o.InventoryReserved, o.Paid, o.CancelReason, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("order", o.ID)
	}

	return nil
}
