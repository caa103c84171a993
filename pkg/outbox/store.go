package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Store reads and writes outbox rows. All methods take the transaction (or
// pool) they should run against: AppendTx joins the caller's domain
// transaction, while the publisher passes its own polling transaction.
type Store struct {
	maxAttempts int
}

// NewStore creates an outbox store with the given retry ceiling. A ceiling of
// zero or less falls back to DefaultMaxAttempts.
func NewStore(maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Store{maxAttempts: maxAttempts}
}

// MaxAttempts returns the configured publish retry ceiling.
func (s *Store) MaxAttempts() int {
	return s.maxAttempts
}

// AppendTx inserts a pending outbox row inside the given transaction. The row
// becomes visible to the publisher only when the surrounding domain
// transaction commits, which is the whole point of the pattern: the state
// change and its announcement are atomic.
func (s *Store) AppendTx(ctx context.Context, tx pgx.Tx, msg *Message) error {
	query := `
		INSERT INTO outbox_messages (
			event_id, event_type, aggregate_type, aggregate_id,
			topic, payload, status, attempts, next_attempt_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NOW(), NOW())
		RETURNING id`

	err := tx.QueryRow(ctx, query,
		msg.EventID,
		msg.EventType,
		msg.AggregateType,
		msg.AggregateID,
		msg.Topic,
		msg.Payload,
		StatusPending,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("append outbox message: %w", err)
	}

	return nil
}

// LockPending claims a batch of due pending messages within the given
// transaction. FOR UPDATE SKIP LOCKED lets multiple publisher instances poll
// concurrently without double-publishing: rows claimed by another poller are
// skipped rather than waited on. Rows are ordered by id so messages for the
// same aggregate keep their append order.
func (s *Store) LockPending(ctx context.Context, tx pgx.Tx, limit int) ([]*Message, error) {
	query := `
		SELECT id, event_id, event_type, aggregate_type, aggregate_id,
		       topic, payload, status, attempts, next_attempt_at,
		       COALESCE(last_error, ''), created_at, published_at
		FROM outbox_messages
		WHERE status = $1 AND next_attempt_at <= NOW()
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("lock pending outbox messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID,
			&m.EventID,
			&m.EventType,
			&m.AggregateType,
			&m.AggregateID,
			&m.Topic,
			&m.Payload,
			&m.Status,
			&m.Attempts,
			&m.NextAttemptAt,
			&m.LastError,
			&m.CreatedAt,
			&m.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox messages: %w", err)
	}

	return msgs, nil
}

// MarkPublished records a successful publish for a locked message.
func (s *Store) MarkPublished(ctx context.Context, tx pgx.Tx, id int64) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, published_at = NOW(), last_error = NULL
		WHERE id = $2`

	if _, err := tx.Exec(ctx, query, StatusPublished, id); err != nil {
		return fmt.Errorf("mark outbox message published: %w", err)
	}
	return nil
}

// RecordFailure records a failed publish attempt for a locked message. If the
// message still has retry budget it stays pending with an exponentially
// backed-off next_attempt_at; otherwise it is marked permanently FAILED and
// left for an operator. It returns the status the message ended up in.
func (s *Store) RecordFailure(ctx context.Context, tx pgx.Tx, msg *Message, cause error) (Status, error) {
	attempts := msg.Attempts + 1

	if attempts >= s.maxAttempts {
		query := `
			UPDATE outbox_messages
			SET status = $1, attempts = $2, last_error = $3
			WHERE id = $4`

		if _, err := tx.Exec(ctx, query, StatusFailed, attempts, cause.Error(), msg.ID); err != nil {
			return "", fmt.Errorf("mark outbox message failed: %w", err)
		}
		return StatusFailed, nil
	}

	query := `
		UPDATE outbox_messages
		SET attempts = $1, next_attempt_at = NOW() + make_interval(secs => $2), last_error = $3
		WHERE id = $4`

	if _, err := tx.Exec(ctx, query, attempts, Backoff(attempts).Seconds(), cause.Error(), msg.ID); err != nil {
		return "", fmt.Errorf("reschedule outbox message: %w", err)
	}
	return StatusPending, nil
}

// CountByStatus returns the number of outbox rows in the given status. The
// publisher exports this as a gauge so a growing backlog is visible.
func (s *Store) CountByStatus(ctx context.Context, db interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, status Status) (int64, error) {
	var n int64
	err := db.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_messages WHERE status = $1`, status,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outbox messages: %w", err)
	}
	return n, nil
}
