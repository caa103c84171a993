package outbox

import (
	"fmt"
	"time"

	"github.com/veloretail/FulfillmentGo/pkg/kafka"
)

// Status is the lifecycle state of an outbox message.
type Status string

const (
	// StatusPending means the message is waiting to be published (or retried).
	StatusPending Status = "PENDING"
	// StatusPublished means the message was successfully handed to the broker.
	StatusPublished Status = "PUBLISHED"
	// StatusFailed means the message exhausted its retry budget and requires
	// operator intervention.
	StatusFailed Status = "FAILED"
)

const (
	// DefaultMaxAttempts is the publish retry ceiling before a message is
	// marked permanently failed.
	DefaultMaxAttempts = 10

	baseBackoff = 1 * time.Second
	maxBackoff  = 5 * time.Minute
)

// Message is a single row in the outbox table. It is written in the same
// database transaction as the state change it announces, then published
// asynchronously by the Publisher.
type Message struct {
	ID            int64
	EventID       string
	EventType     string
	AggregateType string
	AggregateID   string
	Topic         string
	Payload       []byte
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// NewMessage builds an outbox message from a bus event. The event is
// serialized once at append time so the publisher can ship the exact bytes.
func NewMessage(topic string, event *kafka.Event) (*Message, error) {
	payload, err := event.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal outbox payload: %w", err)
	}

	return &Message{
		EventID:       event.EventID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Topic:         topic,
		Payload:       payload,
		Status:        StatusPending,
	}, nil
}

// Backoff returns the delay before the next publish attempt. It doubles per
// attempt starting at one second and is capped at five minutes.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		return baseBackoff
	}

	d := baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
