package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloretail/FulfillmentGo/internal/order/domain"
	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
)

func newTx(t *testing.T) (pgxmock.PgxPoolIface, pgx.Tx) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectBegin()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	return mock, tx
}

func testOrder() *domain.Order {
	return &domain.Order{
		ID:              "order-1",
		CustomerID:      "cust-1",
		Status:          domain.OrderPending,
		Total:           2500,
		Currency:        "USD",
		ShippingAddress: "1 Main St",
		Items:           []domain.Item{{SKU: "sku-A", Quantity: 2, UnitPrice: 1250}},
	}
}

func TestCreateOrder(t *testing.T) {
	mock, tx := newTx(t)
	order := testOrder()

	itemsJSON, err := json.Marshal(order.Items)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO orders").
		WithArgs(order.ID, order.CustomerID, order.Status, order.Total, order.Currency,
			order.ShippingAddress, itemsJSON, false, false, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewOrderRepository().CreateTx(context.Background(), tx, order))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderForUpdate(t *testing.T) {
	mock, tx := newTx(t)
	now := time.Now()

	rows := pgxmock.NewRows([]string{
		"id", "customer_id", "status", "total", "currency", "shipping_address",
		"items", "inventory_reserved", "paid", "cancel_reason", "created_at", "updated_at",
	}).AddRow("order-1", "cust-1", domain.OrderPending, int64(2500), "USD", "1 Main St",
		[]byte(`[{"sku":"sku-A","quantity":2,"unit_price":1250}]`), true, false, "", now, now)

	mock.ExpectQuery("SELECT .+ FROM orders .+ FOR UPDATE").
		WithArgs("order-1").
		WillReturnRows(rows)

	order, err := NewOrderRepository().GetForUpdateTx(context.Background(), tx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)
	assert.True(t, order.InventoryReserved)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "sku-A", order.Items[0].SKU)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderForUpdateNotFound(t *testing.T) {
	mock, tx := newTx(t)

	mock.ExpectQuery("SELECT .+ FROM orders").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := NewOrderRepository().GetForUpdateTx(context.Background(), tx, "missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrder(t *testing.T) {
	mock, tx := newTx(t)
	order := testOrder()
	order.Status = domain.OrderCancelled
	order.CancelReason = "customer request"

	mock.ExpectExec("UPDATE orders").
		WithArgs(order.Status, order.InventoryReserved, order.Paid, order.CancelReason, order.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewOrderRepository().UpdateTx(context.Background(), tx, order))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderNotFound(t *testing.T) {
	mock, tx := newTx(t)
	order := testOrder()

	mock.ExpectExec("UPDATE orders").
		WithArgs(order.Status, order.InventoryReserved, order.Paid, order.CancelReason, order.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewOrderRepository().UpdateTx(context.Background(), tx, order)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
