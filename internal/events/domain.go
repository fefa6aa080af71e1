package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DomainHandler reacts to a domain event after the transaction that raised it
// committed
type DomainHandler func(ctx context.Context, ev Event) error

// DomainBus dispatches domain events synchronously, in registration order.
// It lives for the lifetime of the process; tests build their own.
type DomainBus struct {
	mu       sync.RWMutex
	handlers map[string][]DomainHandler
	logger   *slog.Logger
}

// NewDomainBus creates an empty bus
func NewDomainBus(logger *slog.Logger) *DomainBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &DomainBus{
		handlers: make(map[string][]DomainHandler),
		logger:   logger,
	}
}

// Subscribe registers h for events named name
func (b *DomainBus) Subscribe(name string, h DomainHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Dispatch runs every handler of every event in order. A failing handler does
// not stop the others; all failures are returned joined.
func (b *DomainBus) Dispatch(ctx context.Context, evs ...Event) error {
	var errs []error
	for _, ev := range evs {
		b.mu.RLock()
		handlers := append([]DomainHandler(nil), b.handlers[ev.EventName()]...)
		b.mu.RUnlock()

		for _, h := range handlers {
			if err := b.call(ctx, h, ev); err != nil {
				b.logger.Error("domain event handler failed",
					"event", ev.EventName(), "aggregate_id", ev.AggregateID(), "error", err)
				errs = append(errs, fmt.Errorf("%s handler: %w", ev.EventName(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (b *DomainBus) call(ctx context.Context, h DomainHandler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, ev)
}
