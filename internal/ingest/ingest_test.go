package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpinesboltltd/ticketflow/internal/broker"
	"github.com/alpinesboltltd/ticketflow/internal/store"
	"github.com/alpinesboltltd/ticketflow/internal/ticket"
)

func newTestService() (*Service, store.Store, *broker.InMemBroker) {
	st := store.NewInMemStore()
	br := broker.NewInMemBroker(8)
	return New(st, br), st, br
}

func TestCreateFromHTTPIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, br := newTestService()

	first, created, err := svc.CreateFromHTTP(ctx, "cust-1", "Help", "my order is late")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.CreateFromHTTP(ctx, "cust-1", "Help", "my order is late")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	deliveries, err := br.Consume(ctx)
	require.NoError(t, err)
	d := <-deliveries
	assert.Equal(t, 0, d.Envelope.Attempt)
	_ = d.Ack()

	select {
	case <-deliveries:
		t.Fatal("expected exactly one envelope for the idempotent pair")
	default:
	}
}

func TestCreateFromEmailDetectsThreadReply(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService()

	original, created, err := svc.CreateFromEmail(ctx, InboundEmail{
		FromEmail: "customer@example.com",
		Subject:   "Order issue",
		Text:      "my order never arrived",
		MessageID: "<msg-1@example.com>",
	})
	require.NoError(t, err)
	assert.True(t, created)

	reply, created, err := svc.CreateFromEmail(ctx, InboundEmail{
		FromEmail: "customer@example.com",
		Subject:   "Re: Order issue",
		Text:      "any update?",
		MessageID: "<msg-2@example.com>",
		InReplyTo: "<msg-1@example.com>",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, original.ID, reply.ID)

	events, err := st.ListEvents(ctx, original.ID)
	require.NoError(t, err)
	found := false
	for _, e := range events {
		if e.EventType == ticket.EventStatusChange {
			found = true
		}
	}
	assert.True(t, found, "expected a status_change event recording the reply")
}

func TestCreateFromEmailStripsHTMLWhenTextMissing(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	created, _, err := svc.CreateFromEmail(ctx, InboundEmail{
		FromEmail: "customer@example.com",
		Subject:   "HTML only",
		HTML:      "<p>Hello <b>world</b></p>",
		MessageID: "<msg-html@example.com>",
	})
	require.NoError(t, err)
	assert.Contains(t, created.Body, "Hello")
	assert.Contains(t, created.Body, "world")
	assert.NotContains(t, created.Body, "<p>")
}
