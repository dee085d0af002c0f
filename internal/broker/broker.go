// Package broker is the durable FIFO queue with a bound dead-letter
// destination that carries one envelope per in-flight ticket
// processing attempt.
package broker

import (
	"context"
	"time"
)

// Envelope is the wire payload published and consumed for every
// ticket processing attempt.
type Envelope struct {
	TicketID   string    `json:"ticket_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery wraps a received Envelope with the ack/nack handles a
// consumer uses to settle it. Exactly one of Ack/Nack/Reject must be
// called per delivery.
type Delivery struct {
	Envelope Envelope
	Ack      func() error
	// Nack requeues the envelope for redelivery (another consumer may
	// legitimately own the ticket, or this consumer hit a transient
	// infrastructure error).
	Nack func() error
	// Reject routes the envelope to the dead-letter destination
	// without requeue.
	Reject func() error
}

// Broker is implemented by AMQPBroker (production) and InMemBroker
// (tests).
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	// Consume starts delivering envelopes to the returned channel.
	// Closing ctx stops delivery; in-flight deliveries that were
	// neither acked nor rejected are left for broker-side redelivery.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}
