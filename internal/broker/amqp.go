package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPBroker is grounded on the pack's RabbitMQ consumer idiom: a
// durable queue bound to a dead-letter exchange, manual ack/nack, and
// a bounded prefetch so a worker never holds more than one envelope
// in flight. The connection is shared across a worker process, but
// every Consume call opens its own channel off that connection —
// amqp091-go closes a channel entirely on certain protocol-level
// exceptions, and sharing one channel across concurrently-running
// worker goroutines would mean one goroutine's Ack/Nack mistake takes
// every other goroutine's consumer down with it.
type AMQPBroker struct {
	conn  *amqp.Connection
	pubCh *amqp.Channel

	queue    string
	dlx      string
	dlq      string
	prefetch int

	mu         sync.Mutex
	consumeChs []*amqp.Channel
}

func NewAMQPBroker(url, queueName, dlxName string, prefetchCount int) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}

	b := &AMQPBroker{conn: conn, pubCh: pubCh, queue: queueName, dlx: dlxName, dlq: queueName + "_dead", prefetch: prefetchCount}
	if err := b.setupTopology(pubCh); err != nil {
		pubCh.Close()
		conn.Close()
		return nil, err
	}
	return b, nil
}

// setupTopology declares the dead-letter exchange, the dead queue bound
// to it, and the main queue wired to route rejected envelopes into the
// dead-letter exchange.
func (b *AMQPBroker) setupTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(b.dlx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx: %w", err)
	}
	if _, err := ch.QueueDeclare(b.dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead queue: %w", err)
	}
	if err := ch.QueueBind(b.dlq, b.queue, b.dlx, false, nil); err != nil {
		return fmt.Errorf("bind dead queue: %w", err)
	}
	_, err := ch.QueueDeclare(b.queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    b.dlx,
		"x-dead-letter-routing-key": b.queue,
	})
	if err != nil {
		return fmt.Errorf("declare main queue: %w", err)
	}
	return nil
}

func (b *AMQPBroker) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pubCh.PublishWithContext(ctx, "", b.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consume opens a fresh channel off the shared connection for this
// call, so each concurrent caller (one per worker goroutine) gets its
// own independent AMQP channel and qos setting.
func (b *AMQPBroker) Consume(ctx context.Context) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(b.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	b.mu.Lock()
	b.consumeChs = append(b.consumeChs, ch)
	b.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal(d.Body, &env); err != nil {
					_ = d.Nack(false, false)
					continue
				}
				delivery := d
				out <- Delivery{
					Envelope: env,
					Ack:      func() error { return delivery.Ack(false) },
					Nack:     func() error { return delivery.Nack(false, true) },
					Reject:   func() error { return delivery.Nack(false, false) },
				}
			}
		}
	}()
	return out, nil
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	chs := b.consumeChs
	b.consumeChs = nil
	b.mu.Unlock()

	for _, ch := range chs {
		ch.Close()
	}
	if err := b.pubCh.Close(); err != nil {
		return err
	}
	return b.conn.Close()
}
