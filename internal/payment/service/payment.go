package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/veloretail/FulfillmentGo/internal/payment/domain"
	"github.com/veloretail/FulfillmentGo/internal/payment/repository"
	"github.com/veloretail/FulfillmentGo/pkg/database"
	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
	"github.com/veloretail/FulfillmentGo/pkg/kafka"
	"github.com/veloretail/FulfillmentGo/pkg/logger"
	"github.com/veloretail/FulfillmentGo/pkg/outbox"
)

const sourceName = "payment-service"

// CaptureCommand asks the service to capture payment for an order.
type CaptureCommand struct {
	SagaID     string
	OrderID    string
	CustomerID string
	Amount     int64
	Currency   string
}

// RefundCommand asks the service to refund a previously captured payment.
type RefundCommand struct {
	SagaID  string
	OrderID string
	Reason  string
}

// Service applies capture/refund commands to the payment ledger idempotently.
// The operation log keyed by (sagaID, orderID, type) makes replays return the
// stored outcome. Business rejections (illegal payment state) are recorded and
// answered with a failure event inside the committed transaction; only
// infrastructure errors propagate, causing redelivery.
type Service struct {
	db     database.DBTX
	repo   repository.PaymentRepository
	outbox *outbox.Store
	logger *slog.Logger
}

// NewService creates a payment command service.
func NewService(db database.DBTX, repo repository.PaymentRepository, outboxStore *outbox.Store, log *slog.Logger) *Service {
	return &Service{
		db:     db,
		repo:   repo,
		outbox: outboxStore,
		logger: log,
	}
}

type resultPayload struct {
	SagaID  string `json:"saga_id"`
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// Capture handles a capture command.
func (s *Service) Capture(ctx context.Context, cmd CaptureCommand) error {
	ctx = logger.WithSagaID(ctx, cmd.SagaID)
	log := logger.WithContext(ctx, s.logger)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin capture tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := s.repo.GetOperationTx(ctx, tx, cmd.SagaID, cmd.OrderID, domain.OperationCapture)
	if err == nil {
		log.InfoContext(ctx, "duplicate capture command, replaying stored outcome",
			slog.String("order_id", cmd.OrderID),
			slog.String("operation_status", string(existing.Status)),
		)
		if err := s.appendOperationOutcome(ctx, tx, existing); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	payment, err := s.findOrCreatePayment(ctx, tx, cmd)
	if err != nil {
		return err
	}

	changed, captureErr := payment.Capture()
	if captureErr != nil {
		// Business rejection: record it, answer with a failure event, commit.
		return s.recordOutcome(ctx, tx, cmd.SagaID, cmd.OrderID, domain.OperationCapture,
			domain.OperationFailed, captureErr.Error())
	}

	if changed {
		if err := s.repo.UpdatePaymentStatusTx(ctx, tx, payment.ID, payment.Status); err != nil {
			return err
		}
	}

	if err := s.recordOutcome(ctx, tx, cmd.SagaID, cmd.OrderID, domain.OperationCapture,
		domain.OperationSuccess, ""); err != nil {
		return err
	}

	log.InfoContext(ctx, "payment captured",
		slog.String("order_id", cmd.OrderID),
		slog.String("payment_id", payment.ID),
		slog.Int64("amount", payment.Amount),
		slog.String("currency", payment.Currency),
	)
	return nil
}

// Refund handles a refund command. A refund for an order with no payment on
// record succeeds immediately (there is nothing to return), mirroring the
// inventory absent-reservation rule so the saga cannot wait forever.
func (s *Service) Refund(ctx context.Context, cmd RefundCommand) error {
	ctx = logger.WithSagaID(ctx, cmd.SagaID)
	log := logger.WithContext(ctx, s.logger)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin refund tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := s.repo.GetOperationTx(ctx, tx, cmd.SagaID, cmd.OrderID, domain.OperationRefund)
	if err == nil {
		log.InfoContext(ctx, "duplicate refund command, replaying stored outcome",
			slog.String("order_id", cmd.OrderID),
			slog.String("operation_status", string(existing.Status)),
		)
		if err := s.appendOperationOutcome(ctx, tx, existing); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	payment, err := s.repo.GetPaymentByOrderTx(ctx, tx, cmd.OrderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.InfoContext(ctx, "refund for order with no payment, treating as refunded",
				slog.String("order_id", cmd.OrderID),
			)
			return s.recordOutcome(ctx, tx, cmd.SagaID, cmd.OrderID, domain.OperationRefund,
				domain.OperationSuccess, "")
		}
		return err
	}

	changed, refundErr := payment.Refund()
	if refundErr != nil {
		return s.recordOutcome(ctx, tx, cmd.SagaID, cmd.OrderID, domain.OperationRefund,
			domain.OperationFailed, refundErr.Error())
	}

	if changed {
		if err := s.repo.UpdatePaymentStatusTx(ctx, tx, payment.ID, payment.Status); err != nil {
			return err
		}
	}

	if err := s.recordOutcome(ctx, tx, cmd.SagaID, cmd.OrderID, domain.OperationRefund,
		domain.OperationSuccess, ""); err != nil {
		return err
	}

	log.InfoContext(ctx, "payment refunded",
		slog.String("order_id", cmd.OrderID),
		slog.String("payment_id", payment.ID),
		slog.String("reason", cmd.Reason),
	)
	return nil
}

func (s *Service) findOrCreatePayment(ctx context.Context, tx pgx.Tx, cmd CaptureCommand) (*domain.Payment, error) {
	payment, err := s.repo.GetPaymentByOrderTx(ctx, tx, cmd.OrderID)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	payment = domain.NewPayment(cmd.OrderID, cmd.CustomerID, cmd.Amount, cmd.Currency)
	if err := s.repo.CreatePaymentTx(ctx, tx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// recordOutcome persists the operation record, appends the matching event,
// and commits the transaction.
func (s *Service) recordOutcome(ctx context.Context, tx pgx.Tx, sagaID, orderID string, opType domain.OperationType, status domain.OperationStatus, reason string) error {
	op := domain.NewOperation(sagaID, orderID, opType, status, reason)
	if err := s.repo.CreateOperationTx(ctx, tx, op); err != nil {
		return err
	}
	if err := s.appendOperationOutcome(ctx, tx, op); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s tx: %w", opType, err)
	}

	if status == domain.OperationFailed {
		logger.WithContext(ctx, s.logger).InfoContext(ctx, "payment command rejected",
			slog.String("order_id", orderID),
			slog.String("operation_type", string(opType)),
			slog.String("reason", reason),
		)
	}
	return nil
}

// appendOperationOutcome appends the event matching a stored operation outcome.
func (s *Service) appendOperationOutcome(ctx context.Context, tx pgx.Tx, op *domain.Operation) error {
	var eventType string
	switch {
	case op.Type == domain.OperationCapture && op.Status == domain.OperationSuccess:
		eventType = kafka.EventPaymentCaptured
	case op.Type == domain.OperationCapture:
		eventType = kafka.EventPaymentCaptureFailed
	case op.Status == domain.OperationSuccess:
		eventType = kafka.EventPaymentRefunded
	default:
		eventType = kafka.EventPaymentRefundFailed
	}

	event, err := kafka.NewEvent(eventType, op.OrderID, kafka.AggregateTypeOrder, sourceName, resultPayload{
		SagaID:  op.SagaID,
		OrderID: op.OrderID,
		Reason:  op.Reason,
	})
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}

	msg, err := outbox.NewMessage(kafka.TopicPaymentEvents, event)
	if err != nil {
		return err
	}
	return s.outbox.AppendTx(ctx, tx, msg)
}
