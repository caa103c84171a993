package postgres

import (
	"context"
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

func sagaRows(s *domain.OrderSaga) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows([]string{
		"id", "order_id", "status",
		"inventory_reserved", "payment_captured",
		"inventory_compensation_required", "inventory_compensation_done",
		"payment_compensation_required", "payment_compensation_done",
		"failure_reason", "created_at", "updated_at",
	}).AddRow(s.ID, s.OrderID, s.Status,
		s.InventoryReserved, s.PaymentCaptured,
		s.InventoryCompensationRequired, s.InventoryCompensationDone,
		s.PaymentCompensationRequired, s.PaymentCompensationDone,
		s.FailureReason, now, now)
}

func TestCreateSagaRow(t *testing.T) {
	mock, tx := newTx(t)
	saga := domain.NewCreateSaga("order-1")

	mock.ExpectExec("INSERT INTO order_sagas").
		WithArgs(saga.ID, "order-1", domain.SagaCreateFlow,
			false, false, false, false, false, false, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewSagaRepository().CreateTx(context.Background(), tx, saga))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSagaForUpdate(t *testing.T) {
	mock, tx := newTx(t)
	saga := domain.NewCancelSaga("order-1", true, true)

	mock.ExpectQuery("SELECT .+ FROM order_sagas .+ FOR UPDATE").
		WithArgs(saga.ID).
		WillReturnRows(sagaRows(saga))

	got, err := NewSagaRepository().GetForUpdateTx(context.Background(), tx, saga.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SagaCancelFlow, got.Status)
	assert.True(t, got.InventoryCompensationRequired)
	assert.True(t, got.PaymentCompensationRequired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSagaForUpdateNotFound(t *testing.T) {
	mock, tx := newTx(t)

	mock.ExpectQuery("SELECT .+ FROM order_sagas").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := NewSagaRepository().GetForUpdateTx(context.Background(), tx, "missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSagaRow(t *testing.T) {
	mock, tx := newTx(t)
	saga := domain.NewCreateSaga("order-1")
	saga.MarkInventoryReserved()

	mock.ExpectExec("UPDATE order_sagas").
		WithArgs(saga.Status,
			true, false, false, false, false, false,
			"", saga.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewSagaRepository().UpdateTx(context.Background(), tx, saga))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveCancelSaga(t *testing.T) {
	mock, tx := newTx(t)
	saga := domain.NewCancelSaga("order-1", true, false)

	mock.ExpectQuery("SELECT .+ FROM order_sagas WHERE order_id = .+ FOR UPDATE").
		WithArgs("order-1", domain.SagaCancelFlow).
		WillReturnRows(sagaRows(saga))

	got, err := NewSagaRepository().FindActiveCancelSagaTx(context.Background(), tx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, saga.ID, got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveCancelSagaNone(t *testing.T) {
	mock, tx := newTx(t)

	mock.ExpectQuery("SELECT .+ FROM order_sagas WHERE order_id = .+ FOR UPDATE").
		WithArgs("order-1", domain.SagaCancelFlow).
		WillReturnError(pgx.ErrNoRows)

	_, err := NewSagaRepository().FindActiveCancelSagaTx(context.Background(), tx, "order-1")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
