package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/veloretail/FulfillmentGo/pkg/database"
)

// Bus is the slice of the producer the publisher needs.
type Bus interface {
	PublishRaw(ctx context.Context, topic string, key, value []byte, eventType string) error
}

// PublisherConfig holds outbox publisher tuning knobs.
type PublisherConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultPublisherConfig returns the default poll interval and batch size.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		PollInterval: 1 * time.Second,
		BatchSize:    100,
	}
}

// Publisher polls the outbox table and relays pending messages to the bus.
// It is the async half of the transactional outbox: rows appended by domain
// transactions are picked up here, published at-least-once, and marked
// published. Broker trouble trips a circuit breaker so a down broker is
// probed instead of hammered.
type Publisher struct {
	db      database.DBTX
	store   *Store
	bus     Bus
	breaker *gobreaker.CircuitBreaker[struct{}]
	cfg     PublisherConfig
	metrics *Metrics
	logger  *slog.Logger
}

// NewPublisher creates an outbox publisher.
func NewPublisher(db database.DBTX, store *Store, bus Bus, cfg PublisherConfig, metrics *Metrics, logger *slog.Logger) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPublisherConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultPublisherConfig().BatchSize
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "outbox-publisher",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("outbox circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Publisher{
		db:      db,
		store:   store,
		bus:     bus,
		breaker: breaker,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Run polls the outbox until the context is canceled. Safe to run in multiple
// processes at once; SKIP LOCKED partitions the work.
func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("outbox publisher started",
		slog.Duration("poll_interval", p.cfg.PollInterval),
		slog.Int("batch_size", p.cfg.BatchSize),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopping")
			return
		case <-ticker.C:
			if err := p.Drain(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox poll cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Drain runs a single poll cycle: claim a batch of due pending rows, publish
// each, and record the outcome, all inside one transaction so row locks are
// held while publishing. A crash mid-batch rolls the claims back and the rows
// are republished later; consumers deduplicate, so that is safe.
func (p *Publisher) Drain(ctx context.Context) error {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.PollLatency.Observe(time.Since(start).Seconds())
		}
	}()

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin outbox poll tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msgs, err := p.store.LockPending(ctx, tx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return tx.Commit(ctx)
	}

	for _, msg := range msgs {
		if err := p.publishOne(ctx, tx, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit outbox poll tx: %w", err)
	}

	p.updatePendingGauge(ctx)
	return nil
}

func (p *Publisher) publishOne(ctx context.Context, tx pgx.Tx, msg *Message) error {
	_, pubErr := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.bus.PublishRaw(ctx, msg.Topic, []byte(msg.AggregateID), msg.Payload, msg.EventType)
	})

	if pubErr == nil {
		if p.metrics != nil {
			p.metrics.Published.WithLabelValues(msg.Topic).Inc()
		}
		return p.store.MarkPublished(ctx, tx, msg.ID)
	}

	status, err := p.store.RecordFailure(ctx, tx, msg, pubErr)
	if err != nil {
		return err
	}

	switch status {
	case StatusFailed:
		if p.metrics != nil {
			p.metrics.Exhausted.WithLabelValues(msg.Topic).Inc()
		}
		p.logger.Error("outbox message exhausted retries, marked FAILED",
			slog.Int64("outbox_id", msg.ID),
			slog.String("event_type", msg.EventType),
			slog.String("aggregate_id", msg.AggregateID),
			slog.String("topic", msg.Topic),
			slog.Int("attempts", msg.Attempts+1),
			slog.String("error", pubErr.Error()),
		)
	default:
		if p.metrics != nil {
			p.metrics.Failures.WithLabelValues(msg.Topic).Inc()
		}
		p.logger.Warn("outbox publish failed, rescheduled",
			slog.Int64("outbox_id", msg.ID),
			slog.String("event_type", msg.EventType),
			slog.String("topic", msg.Topic),
			slog.Int("attempts", msg.Attempts+1),
			slog.Duration("backoff", Backoff(msg.Attempts+1)),
			slog.String("error", pubErr.Error()),
		)
	}

	return nil
}

func (p *Publisher) updatePendingGauge(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	n, err := p.store.CountByStatus(ctx, p.db, StatusPending)
	if err != nil {
		p.logger.Debug("failed to count pending outbox messages", slog.String("error", err.Error()))
		return
	}
	p.metrics.Pending.Set(float64(n))
}
