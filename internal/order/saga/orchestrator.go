package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/veloretail/FulfillmentGo/internal/order/domain"
	"github.com/veloretail/FulfillmentGo/internal/order/repository"
	"github.com/veloretail/FulfillmentGo/pkg/database"
	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
	"github.com/veloretail/FulfillmentGo/pkg/kafka"
	"github.com/veloretail/FulfillmentGo/pkg/logger"
	"github.com/veloretail/FulfillmentGo/pkg/outbox"
)

const sourceName = "order-service"

// Orchestrator owns Order and OrderSaga state and drives each order to
// CONFIRMED or CANCELLED. Every entry point and event handler runs as one
// local transaction: load saga and order FOR UPDATE, apply the state machine,
// append outgoing commands to the outbox, commit. Row locks serialize
// conflicting handlers for the same order; the terminal-state guard makes
// every handler a no-op on redelivery after completion.
type Orchestrator struct {
	db     database.DBTX
	orders repository.OrderRepository
	sagas  repository.SagaRepository
	outbox *outbox.Store
	logger *slog.Logger
}

// NewOrchestrator creates the saga orchestrator.
func NewOrchestrator(db database.DBTX, orders repository.OrderRepository, sagas repository.SagaRepository, outboxStore *outbox.Store, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		db:     db,
		orders: orders,
		sagas:  sagas,
		outbox: outboxStore,
		logger: log,
	}
}

type itemPayload struct {
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type reserveCommandPayload struct {
	SagaID     string        `json:"saga_id"`
	OrderID    string        `json:"order_id"`
	CustomerID string        `json:"customer_id"`
	Items      []itemPayload `json:"items"`
}

type releaseCommandPayload struct {
	SagaID  string `json:"saga_id"`
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type captureCommandPayload struct {
	SagaID     string `json:"saga_id"`
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

type refundCommandPayload struct {
	SagaID  string `json:"saga_id"`
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// StartCreateSaga begins fulfillment for a freshly persisted PENDING order:
// it mints a create-flow saga and sends the reserve command. Returns the new
// saga ID.
func (o *Orchestrator) StartCreateSaga(ctx context.Context, orderID string) (string, error) {
	tx, err := o.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin create saga tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := o.orders.GetForUpdateTx(ctx, tx, orderID)
	if err != nil {
		return "", err
	}
	if order.Status != domain.OrderPending {
		return "", apperrors.InvalidTransition(
			fmt.Sprintf("cannot start fulfillment for order in status %s", order.Status))
	}

	saga := domain.NewCreateSaga(orderID)
	if err := o.sagas.CreateTx(ctx, tx, saga); err != nil {
		return "", err
	}

	if err := o.appendCommand(ctx, tx, kafka.TopicInventoryCommands, kafka.EventInventoryReserve,
		order.ID, reserveCommandPayload{
			SagaID:     saga.ID,
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Items:      toItemPayloads(order.Items),
		}); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit create saga tx: %w", err)
	}

	logger.WithContext(logger.WithSagaID(ctx, saga.ID), o.logger).InfoContext(ctx, "create saga started",
		slog.String("saga_id", saga.ID),
		slog.String("order_id", orderID),
	)
	return saga.ID, nil
}

// StartCancelSaga begins compensation for an order in CANCEL_REQUESTED. If a
// cancel saga is already in flight for the order it is returned unchanged so
// repeated cancel requests do not double the compensation commands. When the
// order made no progress at all, the cancel completes in place.
func (o *Orchestrator) StartCancelSaga(ctx context.Context, orderID string) (string, error) {
	tx, err := o.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin cancel saga tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := o.orders.GetForUpdateTx(ctx, tx, orderID)
	if err != nil {
		return "", err
	}
	if order.Status != domain.OrderCancelRequested {
		return "", apperrors.InvalidTransition(
			fmt.Sprintf("cannot start cancellation for order in status %s", order.Status))
	}

	existing, err := o.sagas.FindActiveCancelSagaTx(ctx, tx, orderID)
	if err == nil {
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return "", fmt.Errorf("commit cancel saga tx: %w", commitErr)
		}
		return existing.ID, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return "", err
	}

	saga := domain.NewCancelSaga(orderID, order.InventoryReserved, order.Paid)

	if saga.IsCompensationFullyDone() {
		// Nothing was reserved or paid; cancel right away.
		if err := order.Cancel("Cancel completed"); err != nil {
			return "", err
		}
		if err := o.orders.UpdateTx(ctx, tx, order); err != nil {
			return "", err
		}
		if err := saga.Complete(); err != nil {
			return "", err
		}
	} else {
		if saga.PaymentCompensationRequired {
			if err := o.appendCommand(ctx, tx, kafka.TopicPaymentCommands, kafka.EventPaymentRefund,
				order.ID, refundCommandPayload{
					SagaID:  saga.ID,
					OrderID: order.ID,
					Reason:  order.CancelReason,
				}); err != nil {
				return "", err
			}
		}
		if saga.InventoryCompensationRequired {
			if err := o.appendCommand(ctx, tx, kafka.TopicInventoryCommands, kafka.EventInventoryRelease,
				order.ID, releaseCommandPayload{
					SagaID:  saga.ID,
					OrderID: order.ID,
					Reason:  order.CancelReason,
				}); err != nil {
				return "", err
			}
		}
	}

	if err := o.sagas.CreateTx(ctx, tx, saga); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit cancel saga tx: %w", err)
	}

	logger.WithContext(logger.WithSagaID(ctx, saga.ID), o.logger).InfoContext(ctx, "cancel saga started",
		slog.String("saga_id", saga.ID),
		slog.String("order_id", orderID),
		slog.Bool("inventory_compensation", saga.InventoryCompensationRequired),
		slog.Bool("payment_compensation", saga.PaymentCompensationRequired),
		slog.String("status", string(saga.Status)),
	)
	return saga.ID, nil
}

// HandleInventoryReserved advances the create flow: record the reservation on
// saga and order, then request payment capture.
func (o *Orchestrator) HandleInventoryReserved(ctx context.Context, sagaID, orderID string) error {
	return o.inTransaction(ctx, sagaID, func(tx pgx.Tx, saga *domain.OrderSaga) error {
		if saga.Status != domain.SagaCreateFlow {
			return nil
		}
		if saga.InventoryReserved {
			// Duplicate delivery.
			return nil
		}

		order, err := o.orders.GetForUpdateTx(ctx, tx, orderID)
		if err != nil {
			return err
		}

		saga.MarkInventoryReserved()
		order.MarkInventoryReserved()

		if err := o.orders.UpdateTx(ctx, tx, order); err != nil {
			return err
		}
		if err := o.sagas.UpdateTx(ctx, tx, saga); err != nil {
			return err
		}

		return o.appendCommand(ctx, tx, kafka.TopicPaymentCommands, kafka.EventPaymentCapture,
			order.ID, captureCommandPayload{
				SagaID:     saga.ID,
				OrderID:    order.ID,
				CustomerID: order.CustomerID,
				Amount:     order.Total,
				Currency:   order.Currency,
			})
	})
}

// HandleInventoryReserveFailed fails the create flow: nothing was reserved,
// so the order cancels without compensation.
func (o *Orchestrator) HandleInventoryReserveFailed(ctx context.Context, sagaID, orderID, reason string) error {
	return o.inTransaction(ctx, sagaID, func(tx pgx.Tx, saga *domain.OrderSaga) error {
		if saga.Status != domain.SagaCreateFlow {
			return nil
		}

		order, err := o.orders.GetForUpdateTx(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if err := saga.Fail(reason); err != nil {
			return err
		}
		if err := order.Cancel(reason); err != nil {
			return err
		}

		if err := o.orders.UpdateTx(ctx, tx, order); err != nil {
			return err
		}
		return o.sagas.UpdateTx(ctx, tx, saga)
	})
}

// HandlePaymentCaptured completes the create flow, or — when the order was
// concurrently cancel-requested — pivots the saga into compensation. This is
// the one path where a create-flow success leads into cancel flow instead of
// confirming the order.
func (o *Orchestrator) HandlePaymentCaptured(ctx context.Context, sagaID, orderID string) error {
	return o.inTransaction(ctx, sagaID, func(tx pgx.Tx, saga *domain.OrderSaga) error {
		if saga.Status != domain.SagaCreateFlow {
			return nil
		}
		if saga.PaymentCaptured {
			return nil
		}

		order, err := o.orders.GetForUpdateTx(ctx, tx, orderID)
		if err != nil {
			return err
		}

		saga.MarkPaymentCaptured()
		order.MarkPaid()

		if order.Status == domain.OrderCancelRequested {
			// Payment landed after the customer asked to cancel. Compensation
			// requirements come from the order's current progress flags.
			if err := saga.SwitchToCancelFlow(order.InventoryReserved, order.Paid); err != nil {
				return err
			}
			if saga.PaymentCompensationRequired {
				if err := o.appendCommand(ctx, tx, kafka.TopicPaymentCommands, kafka.EventPaymentRefund,
					order.ID, refundCommandPayload{
						SagaID:  saga.ID,
						OrderID: order.ID,
						Reason:  order.CancelReason,
					}); err != nil {
					return err
				}
			}
			if saga.InventoryCompensationRequired {
				if err := o.appendCommand(ctx, tx, kafka.TopicInventoryCommands, kafka.EventInventoryRelease,
					order.ID, releaseCommandPayload{
						SagaID:  saga.ID,
						OrderID: order.ID,
						Reason:  order.CancelReason,
					}); err != nil {
					return err
				}
			}
		} else if saga.InventoryReserved && saga.PaymentCaptured {
			if err := order.Confirm(); err != nil {
				return err
			}
			if err := saga.Complete(); err != nil {
				return err
			}
			logger.WithContext(ctx, o.logger).InfoContext(ctx, "order confirmed",
				slog.String("saga_id", saga.ID),
				slog.String("order_id", order.ID),
			)
		}

		if err := o.orders.UpdateTx(ctx, tx, order); err != nil {
			return err
		}
		return o.sagas.UpdateTx(ctx, tx, saga)
	})
}

// HandlePaymentCaptureFailed cancels the order and pivots the saga into
// compensation for whatever did succeed (inventory alone, since payment never
// did). With nothing to compensate the saga completes directly.
func (o *Orchestrator) HandlePaymentCaptureFailed(ctx context.Context, sagaID, orderID, reason string) error {
	return o.inTransaction(ctx, sagaID, func(tx pgx.Tx, saga *domain.OrderSaga) error {
		if saga.Status != domain.SagaCreateFlow {
			return nil
		}

		order, err := o.orders.GetForUpdateTx(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if err := order.Cancel(reason); err != nil {
			return err
		}
		if err := saga.SwitchToCancelFlow(order.InventoryReserved, false); err != nil {
			return err
		}

		if saga.InventoryCompensationRequired {
			if err := o.appendCommand(ctx, tx, kafka.TopicInventoryCommands, kafka.EventInventoryRelease,
				order.ID, releaseCommandPayload{
					SagaID:  saga.ID,
					OrderID: order.ID,
					Reason:  reason,
				}); err != nil {
				return err
			}
		} else {
			if err := saga.Complete(); err != nil {
				return err
			}
		}

		if err := o.orders.UpdateTx(ctx, tx, order); err != nil {
			return err
		}
		return o.sagas.UpdateTx(ctx, tx, saga)
	})
}

// HandleInventoryReleased records the release compensation and finalizes the
// cancel once every required step is done.
func (o *Orchestrator) HandleInventoryReleased(ctx context.Context, sagaID, orderID string) error {
	return o.inTransaction(ctx, sagaID, func(tx pgx.Tx, saga *domain.OrderSaga) error {
		if saga.Status != domain.SagaCancelFlow {
			return nil
		}
		if saga.InventoryCompensationDone {
			return nil
		}
		if err := saga.MarkInventoryCompensationDone(); err != nil {
			return err
		}
		return o.finalizeCancelIfDone(ctx, tx, saga, orderID)
	})
}

// HandlePaymentRefunded records the refund compensation and finalizes the
// cancel once every required step is done.
func (o *Orchestrator) HandlePaymentRefunded(ctx context.Context, sagaID, orderID string) error {
	return o.inTransaction(ctx, sagaID, func(tx pgx.Tx, saga *domain.OrderSaga) error {
		if saga.Status != domain.SagaCancelFlow {
			return nil
		}
		if saga.PaymentCompensationDone {
			return nil
		}
		if err := saga.MarkPaymentCompensationDone(); err != nil {
			return err
		}
		return o.finalizeCancelIfDone(ctx, tx, saga, orderID)
	})
}

// HandleInventoryReleaseFailed marks the saga FAILED: compensation itself
// failed, which needs an operator. The order stays in CANCEL_REQUESTED.
func (o *Orchestrator) HandleInventoryReleaseFailed(ctx context.Context, sagaID, orderID, reason string) error {
	return o.failCompensation(ctx, sagaID, orderID, "inventory release failed: "+reason)
}

// HandlePaymentRefundFailed marks the saga FAILED for operator attention.
func (o *Orchestrator) HandlePaymentRefundFailed(ctx context.Context, sagaID, orderID, reason string) error {
	return o.failCompensation(ctx, sagaID, orderID, "payment refund failed: "+reason)
}

func (o *Orchestrator) failCompensation(ctx context.Context, sagaID, orderID, reason string) error {
	return o.inTransaction(ctx, sagaID, func(tx pgx.Tx, saga *domain.OrderSaga) error {
		if saga.Status != domain.SagaCancelFlow {
			return nil
		}
		if err := saga.Fail(reason); err != nil {
			return err
		}
		logger.WithContext(ctx, o.logger).ErrorContext(ctx, "compensation failed, saga needs operator attention",
			slog.String("saga_id", saga.ID),
			slog.String("order_id", orderID),
			slog.String("failure_reason", reason),
		)
		return o.sagas.UpdateTx(ctx, tx, saga)
	})
}

// finalizeCancelIfDone persists the saga and, when all required compensation
// is done, cancels the order and completes the saga.
func (o *Orchestrator) finalizeCancelIfDone(ctx context.Context, tx pgx.Tx, saga *domain.OrderSaga, orderID string) error {
	if saga.IsCompensationFullyDone() {
		order, err := o.orders.GetForUpdateTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := order.Cancel("Cancel completed"); err != nil {
			return err
		}
		if err := o.orders.UpdateTx(ctx, tx, order); err != nil {
			return err
		}
		if err := saga.Complete(); err != nil {
			return err
		}
		logger.WithContext(ctx, o.logger).InfoContext(ctx, "order cancelled, compensation complete",
			slog.String("saga_id", saga.ID),
			slog.String("order_id", orderID),
		)
	}
	return o.sagas.UpdateTx(ctx, tx, saga)
}

// inTransaction runs fn against the locked saga in one transaction. An
// unknown saga is logged and acknowledged (the event has nowhere to go); a
// terminal saga is a guaranteed no-op.
func (o *Orchestrator) inTransaction(ctx context.Context, sagaID string, fn func(tx pgx.Tx, saga *domain.OrderSaga) error) error {
	ctx = logger.WithSagaID(ctx, sagaID)

	tx, err := o.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin saga tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	saga, err := o.sagas.GetForUpdateTx(ctx, tx, sagaID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			logger.WithContext(ctx, o.logger).WarnContext(ctx, "event for unknown saga, dropping",
				slog.String("saga_id", sagaID),
			)
			return nil
		}
		return err
	}

	if saga.IsTerminal() {
		return nil
	}

	if err := fn(tx, saga); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit saga tx: %w", err)
	}
	return nil
}

func (o *Orchestrator) appendCommand(ctx context.Context, tx pgx.Tx, topic, eventType, orderID string, payload any) error {
	event, err := kafka.NewEvent(eventType, orderID, kafka.AggregateTypeOrder, sourceName, payload)
	if err != nil {
		return fmt.Errorf("build %s command: %w", eventType, err)
	}

	msg, err := outbox.NewMessage(topic, event)
	if err != nil {
		return err
	}
	return o.outbox.AppendTx(ctx, tx, msg)
}

func toItemPayloads(items []domain.Item) []itemPayload {
	out := make([]itemPayload, len(items))
	for i, item := range items {
		out[i] = itemPayload{
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	return out
}
