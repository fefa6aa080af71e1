package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/simnova/sharethrift-sub014/internal/retry"
	"github.com/simnova/sharethrift-sub014/internal/storage"
)

// Handler processes one integration message. Messages are delivered at least
// once, so handlers must be idempotent.
type Handler func(ctx context.Context, msg Message) error

// Outbox is the persistent queue the relay drains
type Outbox interface {
	ClaimDueOutbox(ctx context.Context, now time.Time, limit int) ([]*storage.OutboxMessage, error)
	MarkOutboxDelivered(ctx context.Context, id string, at time.Time) error
	MarkOutboxRetry(ctx context.Context, id string, next time.Time, lastErr string) error
	MarkOutboxDead(ctx context.Context, id string, lastErr string) error
	RecoverOutbox(ctx context.Context) (int, error)
}

var (
	// ErrBusRunning is returned by Subscribe once Run has started
	ErrBusRunning = errors.New("integration bus already running")
	// ErrDeliveriesClosed is returned by Run when the transport stops delivering
	ErrDeliveriesClosed = errors.New("transport delivery channel closed")
)

// IntegrationConfig configures the integration bus
type IntegrationConfig struct {
	Workers       int           // concurrent consumers
	MaxDeliveries int           // attempts before a message is dead-lettered
	PollInterval  time.Duration // outbox poll period when no Notify arrives
	BatchSize     int           // messages claimed per poll
	Backoff       retry.Config  // redelivery delay per attempt
}

// DefaultIntegrationConfig returns production defaults
func DefaultIntegrationConfig() IntegrationConfig {
	return IntegrationConfig{
		Workers:       4,
		MaxDeliveries: 5,
		PollInterval:  500 * time.Millisecond,
		BatchSize:     100,
		Backoff:       retry.Config{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2},
	}
}

func (c IntegrationConfig) normalized() IntegrationConfig {
	d := DefaultIntegrationConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = d.MaxDeliveries
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	return c
}

// IntegrationStats counts message outcomes since the bus started
type IntegrationStats struct {
	Published   int64
	Delivered   int64
	Rescheduled int64
	Dead        int64
}

// IntegrationBus delivers committed outbox messages to subscribed handlers
// asynchronously. Subscriptions are fixed once Run starts.
type IntegrationBus struct {
	outbox    Outbox
	transport Transport
	config    IntegrationConfig
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	handlers map[string][]Handler
	running  atomic.Bool
	wake     chan struct{}

	published   atomic.Int64
	delivered   atomic.Int64
	rescheduled atomic.Int64
	dead        atomic.Int64
}

// NewIntegrationBus creates a bus relaying outbox to transport
func NewIntegrationBus(outbox Outbox, transport Transport, config IntegrationConfig, logger *slog.Logger) *IntegrationBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrationBus{
		outbox:    outbox,
		transport: transport,
		config:    config.normalized(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		handlers:  make(map[string][]Handler),
		wake:      make(chan struct{}, 1),
	}
}

// Subscribe registers h for messages named name
func (b *IntegrationBus) Subscribe(name string, h Handler) error {
	if b.running.Load() {
		return ErrBusRunning
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
	return nil
}

// Notify wakes the relay. It never blocks.
func (b *IntegrationBus) Notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Stats returns outcome counters
func (b *IntegrationBus) Stats() IntegrationStats {
	return IntegrationStats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Rescheduled: b.rescheduled.Load(),
		Dead:        b.dead.Load(),
	}
}

// Run relays and consumes messages until ctx is cancelled
func (b *IntegrationBus) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrBusRunning
	}

	if n, err := b.outbox.RecoverOutbox(ctx); err != nil {
		return fmt.Errorf("recover outbox: %w", err)
	} else if n > 0 {
		b.logger.Info("recovered undelivered outbox messages", "count", n)
	}

	deliveries, err := b.transport.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.relay(gctx) })
	for i := 0; i < b.config.Workers; i++ {
		g.Go(func() error { return b.work(gctx, deliveries) })
	}

	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (b *IntegrationBus) relay(ctx context.Context) error {
	ticker := time.NewTicker(b.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := b.relayDue(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error("outbox relay failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-b.wake:
		}
	}
}

// relayDue publishes every due message, batch by batch
func (b *IntegrationBus) relayDue(ctx context.Context) error {
	for {
		batch, err := b.outbox.ClaimDueOutbox(ctx, b.now(), b.config.BatchSize)
		if err != nil {
			return err
		}
		for _, row := range batch {
			msg := FromOutbox(row)
			if err := b.transport.Publish(ctx, msg); err != nil {
				b.reschedule(ctx, msg, fmt.Errorf("publish: %w", err))
				continue
			}
			b.published.Add(1)
		}
		if len(batch) < b.config.BatchSize {
			return nil
		}
	}
}

func (b *IntegrationBus) work(ctx context.Context, deliveries <-chan Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			b.handle(ctx, d)
		}
	}
}

func (b *IntegrationBus) handle(ctx context.Context, d Delivery) {
	msg := d.Message
	// bookkeeping must survive shutdown of the worker context
	bctx := context.WithoutCancel(ctx)

	if err := b.dispatch(ctx, msg); err != nil {
		b.reschedule(bctx, msg, err)
	} else if err := b.outbox.MarkOutboxDelivered(bctx, msg.ID, b.now()); err != nil {
		b.logger.Error("failed to mark message delivered", "message_id", msg.ID, "event", msg.Name, "error", err)
	} else {
		b.delivered.Add(1)
	}

	if d.Ack != nil {
		if err := d.Ack(); err != nil {
			b.logger.Warn("failed to ack delivery", "message_id", msg.ID, "error", err)
		}
	}
}

// dispatch runs every handler subscribed to msg.Name
func (b *IntegrationBus) dispatch(ctx context.Context, msg Message) error {
	b.mu.RLock()
	handlers := b.handlers[msg.Name]
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := callHandler(ctx, h, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func callHandler(ctx context.Context, h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

// reschedule retries msg after backoff, or dead-letters it once the delivery
// budget is spent
func (b *IntegrationBus) reschedule(ctx context.Context, msg Message, cause error) {
	if msg.Attempt >= b.config.MaxDeliveries {
		b.dead.Add(1)
		b.logger.Error("integration message dead-lettered",
			"message_id", msg.ID, "event", msg.Name, "aggregate_id", msg.AggregateID,
			"attempts", msg.Attempt, "error", cause)
		if err := b.outbox.MarkOutboxDead(ctx, msg.ID, cause.Error()); err != nil {
			b.logger.Error("failed to dead-letter message", "message_id", msg.ID, "error", err)
		}
		return
	}

	delay := b.config.Backoff.Delay(msg.Attempt)
	b.rescheduled.Add(1)
	b.logger.Warn("integration message failed, rescheduling",
		"message_id", msg.ID, "event", msg.Name, "attempt", msg.Attempt, "delay", delay, "error", cause)
	if err := b.outbox.MarkOutboxRetry(ctx, msg.ID, b.now().Add(delay), cause.Error()); err != nil {
		b.logger.Error("failed to reschedule message", "message_id", msg.ID, "error", err)
	}
}

// FromOutbox converts a stored outbox row to a message
func FromOutbox(row *storage.OutboxMessage) Message {
	attempt := row.Attempts
	if attempt < 1 {
		attempt = 1
	}
	return Message{
		ID:          row.ID,
		Name:        row.Name,
		AggregateID: row.AggregateID,
		Payload:     row.Payload,
		OccurredAt:  row.OccurredAt,
		Attempt:     attempt,
	}
}

// ToOutbox converts a message to an outbox row ready to enqueue
func ToOutbox(msg Message) *storage.OutboxMessage {
	return &storage.OutboxMessage{
		ID:          msg.ID,
		Name:        msg.Name,
		AggregateID: msg.AggregateID,
		Payload:     msg.Payload,
		OccurredAt:  msg.OccurredAt,
	}
}
