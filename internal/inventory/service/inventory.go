package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/veloretail/FulfillmentGo/internal/inventory/domain"
	"github.com/veloretail/FulfillmentGo/internal/inventory/repository"
	"github.com/veloretail/FulfillmentGo/pkg/database"
	apperrors "github.com/veloretail/FulfillmentGo/pkg/errors"
	"github.com/veloretail/FulfillmentGo/pkg/kafka"
	"github.com/veloretail/FulfillmentGo/pkg/logger"
	"github.com/veloretail/FulfillmentGo/pkg/outbox"
)

// maxReserveAttempts bounds retries of the reserve transaction when the
// optimistic version check loses to a concurrent writer.
const maxReserveAttempts = 3

const sourceName = "inventory-service"

// ReserveCommand asks the service to reserve stock for an order.
type ReserveCommand struct {
	SagaID     string
	OrderID    string
	CustomerID string
	Lines      []domain.Line
}

// ReleaseCommand asks the service to return previously reserved stock.
type ReleaseCommand struct {
	SagaID  string
	OrderID string
	Reason  string
}

// Service applies reserve/release commands to the stock ledger idempotently.
// Each command runs as one transaction: ledger mutation, reservation record,
// and outbox append commit together or not at all. Business failures
// (insufficient stock) are recorded and answered with a failure event;
// infrastructure failures propagate so the bus redelivers the command.
type Service struct {
	db     database.DBTX
	repo   repository.InventoryRepository
	outbox *outbox.Store
	logger *slog.Logger
}

// NewService creates an inventory command service.
func NewService(db database.DBTX, repo repository.InventoryRepository, outboxStore *outbox.Store, log *slog.Logger) *Service {
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

// Reserve handles a reserve command. A command whose (sagaID, orderID) key
// already has a reservation replays the stored outcome without touching
// stock. Version conflicts with concurrent writers retry the whole
// transaction a bounded number of times.
func (s *Service) Reserve(ctx context.Context, cmd ReserveCommand) error {
	ctx = logger.WithSagaID(ctx, cmd.SagaID)
	log := logger.WithContext(ctx, s.logger)

	var lastErr error
	for attempt := 1; attempt <= maxReserveAttempts; attempt++ {
		lastErr = s.reserveOnce(ctx, cmd)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, apperrors.ErrVersionConflict) {
			return lastErr
		}
		log.WarnContext(ctx, "reserve lost optimistic version race, retrying",
			slog.String("order_id", cmd.OrderID),
			slog.Int("attempt", attempt),
		)
	}

	return fmt.Errorf("reserve for order %s: %w", cmd.OrderID, lastErr)
}

func (s *Service) reserveOnce(ctx context.Context, cmd ReserveCommand) error {
	log := logger.WithContext(ctx, s.logger)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reserve tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := s.repo.GetReservationTx(ctx, tx, cmd.SagaID, cmd.OrderID)
	if err == nil {
		// Idempotent replay: stored outcome wins, stock stays untouched.
		log.InfoContext(ctx, "duplicate reserve command, replaying stored outcome",
			slog.String("order_id", cmd.OrderID),
			slog.String("reservation_status", string(existing.Status)),
		)
		if err := s.appendReserveOutcome(ctx, tx, existing); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	// Check every line before touching any stock so a short line leaves the
	// ledger completely unchanged.
	items := make(map[string]*domain.Item, len(cmd.Lines))
	for _, line := range cmd.Lines {
		item, err := s.repo.GetItemTx(ctx, tx, line.SKU)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return s.recordReserveFailure(ctx, tx, cmd,
					fmt.Sprintf("unknown sku=%s", line.SKU))
			}
			return err
		}
		if !item.CanSatisfy(line.Quantity) {
			return s.recordReserveFailure(ctx, tx, cmd,
				fmt.Sprintf("Not enough stock for sku=%s", line.SKU))
		}
		items[line.SKU] = item
	}

	for _, line := range cmd.Lines {
		if err := s.repo.DeductStockTx(ctx, tx, line.SKU, line.Quantity, items[line.SKU].Version); err != nil {
			return err
		}
	}

	res := domain.NewReservation(cmd.SagaID, cmd.OrderID, cmd.Lines)
	if err := s.repo.CreateReservationTx(ctx, tx, res); err != nil {
		return err
	}
	if err := s.appendEvent(ctx, tx, kafka.EventInventoryReserved, cmd.SagaID, cmd.OrderID, ""); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reserve tx: %w", err)
	}

	log.InfoContext(ctx, "stock reserved",
		slog.String("order_id", cmd.OrderID),
		slog.String("reservation_id", res.ID),
		slog.Int("lines", len(cmd.Lines)),
	)
	return nil
}

// recordReserveFailure persists a FAILED reservation and the matching failure
// event, then commits. The rejection is a final answer, not an error: the
// command is acknowledged and never redelivered.
func (s *Service) recordReserveFailure(ctx context.Context, tx pgx.Tx, cmd ReserveCommand, reason string) error {
	res := domain.NewFailedReservation(cmd.SagaID, cmd.OrderID, cmd.Lines, reason)
	if err := s.repo.CreateReservationTx(ctx, tx, res); err != nil {
		return err
	}
	if err := s.appendEvent(ctx, tx, kafka.EventInventoryReserveFailed, cmd.SagaID, cmd.OrderID, reason); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reserve failure tx: %w", err)
	}

	logger.WithContext(ctx, s.logger).InfoContext(ctx, "reserve rejected",
		slog.String("order_id", cmd.OrderID),
		slog.String("reason", reason),
	)
	return nil
}

// Release handles a release command. An absent reservation counts as already
// compensated so a saga can never wait forever on a release for stock that
// was never reserved.
func (s *Service) Release(ctx context.Context, cmd ReleaseCommand) error {
	ctx = logger.WithSagaID(ctx, cmd.SagaID)
	log := logger.WithContext(ctx, s.logger)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := s.repo.GetReservationTx(ctx, tx, cmd.SagaID, cmd.OrderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.InfoContext(ctx, "release for absent reservation, treating as compensated",
				slog.String("order_id", cmd.OrderID),
			)
			if err := s.appendEvent(ctx, tx, kafka.EventInventoryReleased, cmd.SagaID, cmd.OrderID, ""); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}
		return err
	}

	if res.HoldsStock() {
		for _, line := range res.Lines {
			if err := s.repo.RestockTx(ctx, tx, line.SKU, line.Quantity); err != nil {
				return err
			}
		}
		if err := res.Release(); err != nil {
			return err
		}
		if err := s.repo.UpdateReservationStatusTx(ctx, tx, res.ID, res.Status); err != nil {
			return err
		}
		log.InfoContext(ctx, "stock released",
			slog.String("order_id", cmd.OrderID),
			slog.String("reservation_id", res.ID),
			slog.String("reason", cmd.Reason),
		)
	} else {
		// RELEASED replays; FAILED never held stock. Either way the answer is
		// the same: released.
		log.InfoContext(ctx, "release is a no-op, replaying outcome",
			slog.String("order_id", cmd.OrderID),
			slog.String("reservation_status", string(res.Status)),
		)
	}

	if err := s.appendEvent(ctx, tx, kafka.EventInventoryReleased, cmd.SagaID, cmd.OrderID, ""); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit release tx: %w", err)
	}
	return nil
}

// appendReserveOutcome re-emits the event matching a stored reservation. A
// RELEASED reservation still replays as reserved: that was the reserve
// command's outcome, and release is a separate command.
func (s *Service) appendReserveOutcome(ctx context.Context, tx pgx.Tx, res *domain.Reservation) error {
	if res.Status == domain.ReservationFailed {
		return s.appendEvent(ctx, tx, kafka.EventInventoryReserveFailed, res.SagaID, res.OrderID, res.FailureReason)
	}
	return s.appendEvent(ctx, tx, kafka.EventInventoryReserved, res.SagaID, res.OrderID, "")
}

func (s *Service) appendEvent(ctx context.Context, tx pgx.Tx, eventType, sagaID, orderID, reason string) error {
	event, err := kafka.NewEvent(eventType, orderID, kafka.AggregateTypeOrder, sourceName, resultPayload{
		SagaID:  sagaID,
		OrderID: orderID,
		Reason:  reason,
	})
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}

	msg, err := outbox.NewMessage(kafka.TopicInventoryEvents, event)
	if err != nil {
		return err
	}
	return s.outbox.AppendTx(ctx, tx, msg)
}
