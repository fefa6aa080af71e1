package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a fact raised by an aggregate
type Event interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

// Message is the serialized form of an integration event as it travels
// through the outbox and the transport
type Message struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Attempt     int             `json:"attempt"` // 1 on first delivery
}

// NewMessage serializes ev with a fresh message id
func NewMessage(ev Event) (Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	return Message{
		ID:          uuid.NewString(),
		Name:        ev.EventName(),
		AggregateID: ev.AggregateID(),
		Payload:     payload,
		OccurredAt:  ev.OccurredAt().UTC(),
		Attempt:     1,
	}, nil
}

// Decode unmarshals the payload of msg into T
func Decode[T any](msg Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s payload: %w", msg.Name, err)
	}
	return v, nil
}
