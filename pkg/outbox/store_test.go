package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAppendTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO outbox_messages`).
		WithArgs("evt-1", "inventory.reserve", "order", "order-123",
			"fulfillment.inventory.commands", []byte(`{}`), StatusPending).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	store := NewStore(0)
	msg := &Message{
		EventID:       "evt-1",
		EventType:     "inventory.reserve",
		AggregateType: "order",
		AggregateID:   "order-123",
		Topic:         "fulfillment.inventory.commands",
		Payload:       []byte(`{}`),
		Status:        StatusPending,
	}

	err = store.AppendTx(ctx, tx, msg)
	require.NoError(t, err)
	assert.Equal(t, int64(42), msg.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLockPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(StatusPending, 10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "event_id", "event_type", "aggregate_type", "aggregate_id",
			"topic", "payload", "status", "attempts", "next_attempt_at",
			"last_error", "created_at", "published_at",
		}).
			AddRow(int64(1), "evt-1", "inventory.reserve", "order", "order-1",
				"fulfillment.inventory.commands", []byte(`{}`), StatusPending, 0, now,
				"", now, (*time.Time)(nil)).
			AddRow(int64(2), "evt-2", "payment.capture", "order", "order-2",
				"fulfillment.payment.commands", []byte(`{}`), StatusPending, 3, now,
				"broker unreachable", now, (*time.Time)(nil)))

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	store := NewStore(10)
	msgs, err := store.LockPending(ctx, tx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, "order-1", msgs[0].AggregateID)
	assert.Equal(t, 0, msgs[0].Attempts)
	assert.Equal(t, int64(2), msgs[1].ID)
	assert.Equal(t, 3, msgs[1].Attempts)
	assert.Equal(t, "broker unreachable", msgs[1].LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRecordFailureReschedules(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs(3, Backoff(3).Seconds(), "broker down", int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	store := NewStore(10)
	msg := &Message{ID: 7, Attempts: 2}

	status, err := store.RecordFailure(ctx, tx, msg, errors.New("broker down"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRecordFailureExhaustsRetries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs(StatusFailed, 10, "broker down", int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	store := NewStore(10)
	msg := &Message{ID: 7, Attempts: 9}

	status, err := store.RecordFailure(ctx, tx, msg, errors.New("broker down"))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
