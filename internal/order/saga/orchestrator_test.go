package saga

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloretail/FulfillmentGo/internal/order/domain"
	"github.com/veloretail/FulfillmentGo/internal/order/repository/postgres"
	"github.com/veloretail/FulfillmentGo/pkg/kafka"
	"github.com/veloretail/FulfillmentGo/pkg/outbox"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	orch := NewOrchestrator(mock, postgres.NewOrderRepository(), postgres.NewSagaRepository(),
		outbox.NewStore(10), slog.New(slog.DiscardHandler))
	return orch, mock
}

var sagaCols = []string{
	"id", "order_id", "status",
	"inventory_reserved", "payment_captured",
	"inventory_compensation_required", "inventory_compensation_done",
	"payment_compensation_required", "payment_compensation_done",
	"failure_reason", "created_at", "updated_at",
}

var orderCols = []string{
	"id", "customer_id", "status", "total", "currency", "shipping_address",
	"items", "inventory_reserved", "paid", "cancel_reason", "created_at", "updated_at",
}

func expectSagaForUpdate(mock pgxmock.PgxPoolIface, s *domain.OrderSaga) {
	now := time.Now()
	mock.ExpectQuery(`FROM order_sagas`).
		WithArgs(s.ID).
		WillReturnRows(pgxmock.NewRows(sagaCols).AddRow(
			s.ID, s.OrderID, s.Status,
			s.InventoryReserved, s.PaymentCaptured,
			s.InventoryCompensationRequired, s.InventoryCompensationDone,
			s.PaymentCompensationRequired, s.PaymentCompensationDone,
			s.FailureReason, now, now,
		))
}

func expectOrderForUpdate(mock pgxmock.PgxPoolIface, o *domain.Order) {
	now := time.Now()
	mock.ExpectQuery(`FROM orders`).
		WithArgs(o.ID).
		WillReturnRows(pgxmock.NewRows(orderCols).AddRow(
			o.ID, o.CustomerID, o.Status, o.Total, o.Currency, o.ShippingAddress,
			[]byte(`[{"sku":"sku-A","quantity":2,"unit_price":999}]`),
			o.InventoryReserved, o.Paid, o.CancelReason, now, now,
		))
}

func expectOrderUpdate(mock pgxmock.PgxPoolIface, status domain.OrderStatus, reserved, paid bool) {
	mock.ExpectExec(`UPDATE orders`).
		WithArgs(status, reserved, paid, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func expectSagaUpdate(mock pgxmock.PgxPoolIface, status domain.SagaStatus) {
	mock.ExpectExec(`UPDATE order_sagas`).
		WithArgs(status, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func expectCommandAppend(mock pgxmock.PgxPoolIface, topic, eventType string) {
	mock.ExpectQuery(`INSERT INTO outbox_messages`).
		WithArgs(pgxmock.AnyArg(), eventType, kafka.AggregateTypeOrder, pgxmock.AnyArg(),
			topic, pgxmock.AnyArg(), outbox.StatusPending).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
}

func TestStartCreateSagaSendsReserveCommand(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectOrderForUpdate(mock, &domain.Order{
		ID: "order-1", CustomerID: "cust-1", Status: domain.OrderPending,
		Total: 1998, Currency: "USD",
	})
	mock.ExpectExec(`INSERT INTO order_sagas`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectCommandAppend(mock, kafka.TopicInventoryCommands, kafka.EventInventoryReserve)
	mock.ExpectCommit()

	sagaID, err := orch.StartCreateSaga(ctx, "order-1")
	require.NoError(t, err)
	assert.NotEmpty(t, sagaID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartCreateSagaRejectsNonPendingOrder(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectOrderForUpdate(mock, &domain.Order{
		ID: "order-1", Status: domain.OrderConfirmed, InventoryReserved: true, Paid: true,
	})
	mock.ExpectRollback()

	_, err := orch.StartCreateSaga(ctx, "order-1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Scenario: reserve succeeded, then capture succeeded with no concurrent
// cancel. The order confirms and the saga completes.
func TestPaymentCapturedConfirmsOrder(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectSagaForUpdate(mock, &domain.OrderSaga{
		ID: "saga-1", OrderID: "order-1", Status: domain.SagaCreateFlow,
		InventoryReserved: true,
	})
	expectOrderForUpdate(mock, &domain.Order{
		ID: "order-1", Status: domain.OrderPending, Total: 1998, Currency: "USD",
		InventoryReserved: true,
	})
	expectOrderUpdate(mock, domain.OrderConfirmed, true, true)
	expectSagaUpdate(mock, domain.SagaCompleted)
	mock.ExpectCommit()

	err := orch.HandlePaymentCaptured(ctx, "saga-1", "order-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInventoryReservedSendsCaptureCommand(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectSagaForUpdate(mock, &domain.OrderSaga{
		ID: "saga-1", OrderID: "order-1", Status: domain.SagaCreateFlow,
	})
	expectOrderForUpdate(mock, &domain.Order{
		ID: "order-1", CustomerID: "cust-1", Status: domain.OrderPending,
		Total: 1998, Currency: "USD",
	})
	expectOrderUpdate(mock, domain.OrderPending, true, false)
	expectSagaUpdate(mock, domain.SagaCreateFlow)
	expectCommandAppend(mock, kafka.TopicPaymentCommands, kafka.EventPaymentCapture)
	mock.ExpectCommit()

	err := orch.HandleInventoryReserved(ctx, "saga-1", "order-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDuplicateInventoryReservedIsNoOp(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectSagaForUpdate(mock, &domain.OrderSaga{
		ID: "saga-1", OrderID: "order-1", Status: domain.SagaCreateFlow,
		InventoryReserved: true,
	})
	mock.ExpectCommit()

	err := orch.HandleInventoryReserved(ctx, "saga-1", "order-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveFailedFailsSagaAndCancelsOrder(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectSagaForUpdate(mock, &domain.OrderSaga{
		ID: "saga-1", OrderID: "order-1", Status: domain.SagaCreateFlow,
	})
	expectOrderForUpdate(mock, &domain.Order{
		ID: "order-1", Status: domain.OrderPending,
	})
	expectOrderUpdate(mock, domain.OrderCancelled, false, false)
	expectSagaUpdate(mock, domain.SagaFailed)
	mock.ExpectCommit()

	err := orch.HandleInventoryReserveFailed(ctx, "saga-1", "order-1", "Not enough stock for sku=sku-A")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Scenario: reserve succeeded, capture failed. The saga pivots into cancel
// flow compensating inventory only, and the order cancels.
func TestCaptureFailedPivotsToCancelFlow(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectSagaForUpdate(mock, &domain.OrderSaga{
		ID: "saga-1", OrderID: "order-1", Status: domain.SagaCreateFlow,
		InventoryReserved: true,
	})
	expectOrderForUpdate(mock, &domain.Order{
		ID: "order-1", Status: domain.OrderPending, InventoryReserved: true,
	})
	expectCommandAppend(mock, kafka.TopicInventoryCommands, kafka.EventInventoryRelease)
	expectOrderUpdate(mock, domain.OrderCancelled, true, false)
	expectSagaUpdate(mock, domain.SagaCancelFlow)
	mock.ExpectCommit()

	err := orch.HandlePaymentCaptureFailed(ctx, "saga-1", "order-1", "card declined")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaptureFailedWithNothingToCompensateCompletes(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectSagaForUpdate(mock, &domain.OrderSaga{
		ID: "saga-1", OrderID: "order-1", Status: domain.SagaCreateFlow,
	})
	expectOrderForUpdate(mock, &domain.Order{
		ID: "order-1", Status: domain.OrderPending,
	})
	expectOrderUpdate(mock, domain.OrderCancelled, false, false)
	expectSagaUpdate(mock, domain.SagaCompleted)
	mock.ExpectCommit()

	err := orch.HandlePaymentCaptureFailed(ctx, "saga-1", "order-1", "card declined")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The race path: payment captures after the order was concurrently
// cancel-requested. The create-flow success pivots straight into
// compensation of both steps.
func TestPaymentCapturedDuringCancelRequestPivots(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectSagaForUpdate(mock, &domain.OrderSaga{
		ID: "saga-1", OrderID: "order-1", Status: domain.SagaCreateFlow,
		InventoryReserved: true,
	})
	expectOrderForUpdate(mock, &domain.Order{
		ID: "order-1", Status: domain.OrderCancelRequested,
		InventoryReserved: true, CancelReason: "changed my mind",
	})
	expectCommandAppend(mock, kafka.TopicPaymentCommands, kafka.EventPaymentRefund)
	expectCommandAppend(mock, kafka.TopicInventoryCommands, kafka.EventInventoryRelease)
	expectOrderUpdate(mock, domain.OrderCancelRequested, true, true)
	expectSagaUpdate(mock, domain.SagaCancelFlow)
	mock.ExpectCommit()

	err := orch.HandlePaymentCaptured(ctx, "saga-1", "order-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Scenario: cancel saga compensating both steps. The refund lands first and
// the saga stays in cancel flow; the release lands second and finalizes.
func TestCancelFlowFinalizesOnlyWhenFullyDone(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	// Refund completes first: inventory still outstanding, no finalize.
	mock.ExpectBegin()
	expectSagaForUpdate(mock, &domain.OrderSaga{
		ID: "saga-1", OrderID: "order-1", Status: domain.SagaCancelFlow,
		InventoryCompensationRequired: true,
		PaymentCompensationRequired:   true,
	})
	expectSagaUpdate(mock, domain.SagaCancelFlow)
	mock.ExpectCommit()

	require.NoError(t, orch.HandlePaymentRefunded(ctx, "saga-1", "order-1"))

	// Release completes second: all required steps done, order cancels.
	mock.ExpectBegin()
	expectSagaForUpdate(mock, &domain.OrderSaga{
		ID: "saga-1", OrderID: "order-1", Status: domain.SagaCancelFlow,
		InventoryCompensationRequired: true,
		PaymentCompensationRequired:   true,
		PaymentCompensationDone:       true,
	})
	expectOrderForUpdate(mock, &domain.Order{
		ID: "order-1", Status: domain.OrderCancelRequested,
		InventoryReserved: true, Paid: true,
	})
	expectOrderUpdate(mock, domain.OrderCancelled, true, true)
	expectSagaUpdate(mock, domain.SagaCompleted)
	mock.ExpectCommit()

	require.NoError(t, orch.HandleInventoryReleased(ctx, "saga-1", "order-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundFailedMarksSagaFailed(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectSagaForUpdate(mock, &domain.OrderSaga{
		ID: "saga-1", OrderID: "order-1", Status: domain.SagaCancelFlow,
		PaymentCompensationRequired: true,
	})
	expectSagaUpdate(mock, domain.SagaFailed)
	mock.ExpectCommit()

	err := orch.HandlePaymentRefundFailed(ctx, "saga-1", "order-1", "gateway timeout")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Redelivery after the saga reached a terminal state must not touch anything.
func TestTerminalSagaIgnoresAllEvents(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	terminal := &domain.OrderSaga{
		ID: "saga-1", OrderID: "order-1", Status: domain.SagaCompleted,
		InventoryReserved: true, PaymentCaptured: true,
	}

	handlers := []func() error{
		func() error { return orch.HandleInventoryReserved(ctx, "saga-1", "order-1") },
		func() error { return orch.HandlePaymentCaptured(ctx, "saga-1", "order-1") },
		func() error { return orch.HandleInventoryReleased(ctx, "saga-1", "order-1") },
		func() error { return orch.HandlePaymentRefunded(ctx, "saga-1", "order-1") },
		func() error { return orch.HandleInventoryReserveFailed(ctx, "saga-1", "order-1", "r") },
		func() error { return orch.HandlePaymentCaptureFailed(ctx, "saga-1", "order-1", "r") },
		func() error { return orch.HandleInventoryReleaseFailed(ctx, "saga-1", "order-1", "r") },
		func() error { return orch.HandlePaymentRefundFailed(ctx, "saga-1", "order-1", "r") },
	}

	for _, handle := range handlers {
		mock.ExpectBegin()
		expectSagaForUpdate(mock, terminal)
		mock.ExpectRollback()
		require.NoError(t, handle())
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventForUnknownSagaIsDropped(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM order_sagas`).
		WithArgs("saga-gone").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := orch.HandleInventoryReserved(ctx, "saga-gone", "order-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartCancelSagaWithBothCompensations(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectOrderForUpdate(mock, &domain.Order{
		ID: "order-1", Status: domain.OrderCancelRequested,
		InventoryReserved: true, Paid: true, CancelReason: "changed my mind",
	})
	mock.ExpectQuery(`FROM order_sagas`).
		WithArgs("order-1", domain.SagaCancelFlow).
		WillReturnError(pgx.ErrNoRows)
	expectCommandAppend(mock, kafka.TopicPaymentCommands, kafka.EventPaymentRefund)
	expectCommandAppend(mock, kafka.TopicInventoryCommands, kafka.EventInventoryRelease)
	mock.ExpectExec(`INSERT INTO order_sagas`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	sagaID, err := orch.StartCancelSaga(ctx, "order-1")
	require.NoError(t, err)
	assert.NotEmpty(t, sagaID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartCancelSagaWithNoProgressCancelsImmediately(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectOrderForUpdate(mock, &domain.Order{
		ID: "order-1", Status: domain.OrderCancelRequested, CancelReason: "changed my mind",
	})
	mock.ExpectQuery(`FROM order_sagas`).
		WithArgs("order-1", domain.SagaCancelFlow).
		WillReturnError(pgx.ErrNoRows)
	expectOrderUpdate(mock, domain.OrderCancelled, false, false)
	mock.ExpectExec(`INSERT INTO order_sagas`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	sagaID, err := orch.StartCancelSaga(ctx, "order-1")
	require.NoError(t, err)
	assert.NotEmpty(t, sagaID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartCancelSagaReturnsActiveSaga(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectOrderForUpdate(mock, &domain.Order{
		ID: "order-1", Status: domain.OrderCancelRequested,
		InventoryReserved: true, Paid: true,
	})
	now := time.Now()
	mock.ExpectQuery(`FROM order_sagas`).
		WithArgs("order-1", domain.SagaCancelFlow).
		WillReturnRows(pgxmock.NewRows(sagaCols).AddRow(
			"saga-active", "order-1", domain.SagaCancelFlow,
			false, false, true, false, true, false, "", now, now,
		))
	mock.ExpectCommit()

	sagaID, err := orch.StartCancelSaga(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "saga-active", sagaID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
