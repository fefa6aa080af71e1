package events

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed is returned by Publish after Close
var ErrTransportClosed = errors.New("transport closed")

// Delivery is a message received from a transport. Ack must be called once
// the message has been handled or rescheduled.
type Delivery struct {
	Message Message
	Ack     func() error
}

// Transport moves integration messages from the relay to the workers
type Transport interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// MemoryTransport is an in-process transport over a buffered channel
type MemoryTransport struct {
	ch        chan Delivery
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMemoryTransport creates a transport holding up to buffer undelivered messages
func NewMemoryTransport(buffer int) *MemoryTransport {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryTransport{
		ch:     make(chan Delivery, buffer),
		closed: make(chan struct{}),
	}
}

func noAck() error { return nil }

// Publish enqueues msg, blocking while the buffer is full
func (t *MemoryTransport) Publish(ctx context.Context, msg Message) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	select {
	case t.ch <- Delivery{Message: msg, Ack: noAck}:
		return nil
	case <-t.closed:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns the delivery channel. It is shared by all consumers.
func (t *MemoryTransport) Consume(ctx context.Context) (<-chan Delivery, error) {
	return t.ch, nil
}

// Close stops accepting messages. Buffered messages are dropped; their outbox
// rows stay published and are recovered on the next start.
func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}
