package outbox

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	published []publishedMsg
	err       error
}

type publishedMsg struct {
	topic     string
	key       string
	eventType string
}

func (f *fakeBus) PublishRaw(_ context.Context, topic string, key, _ []byte, eventType string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMsg{topic: topic, key: string(key), eventType: eventType})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func pendingRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "event_id", "event_type", "aggregate_type", "aggregate_id",
		"topic", "payload", "status", "attempts", "next_attempt_at",
		"last_error", "created_at", "published_at",
	})
}

func TestPublisherDrainPublishesAndMarks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	now := time.Now()

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(StatusPending, 100).
		WillReturnRows(pendingRows().
			AddRow(int64(1), "evt-1", "inventory.reserve", "order", "order-1",
				"fulfillment.inventory.commands", []byte(`{"a":1}`), StatusPending, 0, now,
				"", now, (*time.Time)(nil)))
	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs(StatusPublished, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	bus := &fakeBus{}
	pub := NewPublisher(mock, NewStore(10), bus, DefaultPublisherConfig(), nil, testLogger())

	err = pub.Drain(ctx)
	require.NoError(t, err)

	require.Len(t, bus.published, 1)
	assert.Equal(t, "fulfillment.inventory.commands", bus.published[0].topic)
	assert.Equal(t, "order-1", bus.published[0].key)
	assert.Equal(t, "inventory.reserve", bus.published[0].eventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublisherDrainReschedulesOnPublishFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	now := time.Now()

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(StatusPending, 100).
		WillReturnRows(pendingRows().
			AddRow(int64(5), "evt-5", "payment.capture", "order", "order-9",
				"fulfillment.payment.commands", []byte(`{}`), StatusPending, 1, now,
				"", now, (*time.Time)(nil)))
	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs(2, Backoff(2).Seconds(), "broker unreachable", int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	bus := &fakeBus{err: errors.New("broker unreachable")}
	pub := NewPublisher(mock, NewStore(10), bus, DefaultPublisherConfig(), nil, testLogger())

	err = pub.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, bus.published)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublisherDrainEmptyBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(StatusPending, 100).
		WillReturnRows(pendingRows())
	mock.ExpectCommit()

	bus := &fakeBus{}
	pub := NewPublisher(mock, NewStore(10), bus, DefaultPublisherConfig(), nil, testLogger())

	err = pub.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, bus.published)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublisherBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	now := time.Now()

	bus := &fakeBus{err: errors.New("broker unreachable")}
	pub := NewPublisher(mock, NewStore(10), bus, DefaultPublisherConfig(), nil, testLogger())

	// Five consecutive failures trip the breaker; the sixth drain short-circuits
	// without calling the bus and the row is still rescheduled.
	for i := 0; i < 6; i++ {
		mock.ExpectBeginTx(pgx.TxOptions{})
		mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
			WithArgs(StatusPending, 100).
			WillReturnRows(pendingRows().
				AddRow(int64(1), "evt-1", "inventory.reserve", "order", "order-1",
					"fulfillment.inventory.commands", []byte(`{}`), StatusPending, i, now,
					"", now, (*time.Time)(nil)))
		mock.ExpectExec(`UPDATE outbox_messages`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		require.NoError(t, pub.Drain(ctx))
	}

	assert.Equal(t, gobreaker.StateOpen, pub.breaker.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}
