package kafka

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the standard envelope for all commands and events on the bus.
// AggregateID carries the order ID and doubles as the partition key, so all
// traffic for one order lands on one partition and is delivered in order.
type Event struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Version       int               `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates a new event with a generated ID and current timestamp.
func NewEvent(eventType, aggregateID, aggregateType, source string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       1,
		Timestamp:     time.Now().UTC(),
		Source:        source,
		Data:          dataBytes,
	}, nil
}

// Marshal serializes the event to JSON bytes.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an event from JSON bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// UnmarshalData deserializes the event data payload into the given target.
func (e *Event) UnmarshalData(target any) error {
	return json.Unmarshal(e.Data, target)
}

// TopicPrefix is the standard prefix for all fulfillment Kafka topics.
const TopicPrefix = "fulfillment"

// Fulfillment bus topics. Each participant owns a commands topic it consumes
// and an events topic it produces to; the orchestrator consumes both events
// topics and produces to both commands topics.
const (
	TopicInventoryCommands = TopicPrefix + ".inventory.commands"
	TopicInventoryEvents   = TopicPrefix + ".inventory.events"
	TopicPaymentCommands   = TopicPrefix + ".payment.commands"
	TopicPaymentEvents     = TopicPrefix + ".payment.events"
)

// AggregateTypeOrder is the aggregate type for all fulfillment traffic; every
// command and event is about one order.
const AggregateTypeOrder = "order"

// Event types carried on the fulfillment topics.
const (
	EventInventoryReserve       = "inventory.reserve"
	EventInventoryRelease       = "inventory.release"
	EventInventoryReserved      = "inventory.reserved"
	EventInventoryReserveFailed = "inventory.reserve_failed"
	EventInventoryReleased      = "inventory.released"
	EventInventoryReleaseFailed = "inventory.release_failed"

	EventPaymentCapture       = "payment.capture"
	EventPaymentRefund        = "payment.refund"
	EventPaymentCaptured      = "payment.captured"
	EventPaymentCaptureFailed = "payment.capture_failed"
	EventPaymentRefunded      = "payment.refunded"
	EventPaymentRefundFailed  = "payment.refund_failed"
)
