// Package mq carries integration messages over a RabbitMQ topic exchange.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/simnova/sharethrift-sub014/internal/events"
)

// Config configures the RabbitMQ transport
type Config struct {
	URL      string
	Exchange string
	Queue    string
	Bindings []string // routing keys bound to Queue ("#" when empty)
	Prefetch int
}

// Transport implements events.Transport. The routing key of a message is its
// event name.
type Transport struct {
	cfg    Config
	logger *slog.Logger

	conn *amqp.Connection
	pub  *amqp.Channel
	sub  *amqp.Channel

	mu sync.Mutex // serializes publishes on pub
}

// Dial connects, declares the exchange and queue and binds the routing keys
func Dial(cfg Config, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Bindings) == 0 {
		cfg.Bindings = []string{"#"}
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	t := &Transport{cfg: cfg, logger: logger, conn: conn}
	if err := t.setup(); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Transport) setup() error {
	var err error
	if t.pub, err = t.conn.Channel(); err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	if t.sub, err = t.conn.Channel(); err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	if err := t.pub.ExchangeDeclare(t.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := t.sub.QueueDeclare(t.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range t.cfg.Bindings {
		if err := t.sub.QueueBind(q.Name, key, t.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	if err := t.sub.Qos(t.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	t.cfg.Queue = q.Name
	return nil
}

// Publish sends msg as a persistent JSON message
func (t *Transport) Publish(ctx context.Context, msg events.Message) error {
	p, err := toPublishing(msg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pub == nil || t.pub.IsClosed() {
		return events.ErrTransportClosed
	}
	if err := t.pub.PublishWithContext(ctx, t.cfg.Exchange, msg.Name, false, false, p); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Name, err)
	}
	return nil
}

// Consume starts consuming the queue. Messages that cannot be decoded are
// rejected without requeue. The returned channel closes with the connection
// or when ctx ends.
func (t *Transport) Consume(ctx context.Context) (<-chan events.Delivery, error) {
	raw, err := t.sub.ConsumeWithContext(ctx, t.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", t.cfg.Queue, err)
	}

	return t.forward(ctx, raw), nil
}

// forward wraps broker deliveries until raw closes or ctx ends. A delivery
// still pending when ctx ends is requeued.
func (t *Transport) forward(ctx context.Context, raw <-chan amqp.Delivery) <-chan events.Delivery {
	out := make(chan events.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-raw:
				if !ok {
					return
				}
				msg, err := fromDelivery(d)
				if err != nil {
					t.logger.Error("dropping undecodable message", "routing_key", d.RoutingKey, "error", err)
					_ = d.Nack(false, false)
					continue
				}
				ack := d.Ack
				select {
				case out <- events.Delivery{Message: msg, Ack: func() error { return ack(false) }}:
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out
}

// Close closes both channels and the connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pub != nil {
		_ = t.pub.Close()
	}
	if t.sub != nil {
		_ = t.sub.Close()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

func toPublishing(msg events.Message) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode %s: %w", msg.Name, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         msg.Name,
		Timestamp:    msg.OccurredAt,
		Body:         body,
	}, nil
}

func fromDelivery(d amqp.Delivery) (events.Message, error) {
	var msg events.Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return events.Message{}, fmt.Errorf("decode %s: %w", d.RoutingKey, err)
	}
	if msg.ID == "" || msg.Name == "" {
		return events.Message{}, fmt.Errorf("decode %s: missing id or name", d.RoutingKey)
	}
	return msg, nil
}

var _ events.Transport = (*Transport)(nil)
