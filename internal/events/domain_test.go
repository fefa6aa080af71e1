package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	Name string    `json:"name"`
	ID   string    `json:"id"`
	At   time.Time `json:"at"`
}

func (e testEvent) EventName() string     { return e.Name }
func (e testEvent) AggregateID() string   { return e.ID }
func (e testEvent) OccurredAt() time.Time { return e.At }

func TestDomainBus_DispatchInOrder(t *testing.T) {
	bus := NewDomainBus(nil)
	var calls []string

	bus.Subscribe("A", func(ctx context.Context, ev Event) error {
		calls = append(calls, "a1:"+ev.AggregateID())
		return nil
	})
	bus.Subscribe("A", func(ctx context.Context, ev Event) error {
		calls = append(calls, "a2:"+ev.AggregateID())
		return nil
	})
	bus.Subscribe("B", func(ctx context.Context, ev Event) error {
		calls = append(calls, "b:"+ev.AggregateID())
		return nil
	})

	err := bus.Dispatch(context.Background(), testEvent{Name: "A", ID: "1"}, testEvent{Name: "B", ID: "2"}, testEvent{Name: "C", ID: "3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1:1", "a2:1", "b:2"}, calls)
}

func TestDomainBus_ErrorsDoNotStopOtherHandlers(t *testing.T) {
	bus := NewDomainBus(nil)
	boom := errors.New("boom")
	ran := 0

	bus.Subscribe("A", func(ctx context.Context, ev Event) error { return boom })
	bus.Subscribe("A", func(ctx context.Context, ev Event) error { panic("bad handler") })
	bus.Subscribe("A", func(ctx context.Context, ev Event) error {
		ran++
		return nil
	})

	err := bus.Dispatch(context.Background(), testEvent{Name: "A", ID: "1"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "panic: bad handler")
	assert.Equal(t, 1, ran)
}

func TestDomainBus_FreshInstancesAreIsolated(t *testing.T) {
	first := NewDomainBus(nil)
	calls := 0
	first.Subscribe("A", func(ctx context.Context, ev Event) error {
		calls++
		return nil
	})

	second := NewDomainBus(nil)
	require.NoError(t, second.Dispatch(context.Background(), testEvent{Name: "A"}))
	assert.Zero(t, calls)
}

func TestNewMessageAndDecode(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	msg, err := NewMessage(testEvent{Name: "A", ID: "agg-1", At: at})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "A", msg.Name)
	assert.Equal(t, "agg-1", msg.AggregateID)
	assert.Equal(t, at, msg.OccurredAt)
	assert.Equal(t, 1, msg.Attempt)

	ev, err := Decode[testEvent](msg)
	require.NoError(t, err)
	assert.Equal(t, "agg-1", ev.ID)

	_, err = Decode[testEvent](Message{Name: "A", Payload: json.RawMessage(`{`)})
	assert.Error(t, err)
}
