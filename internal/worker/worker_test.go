package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpinesboltltd/ticketflow/internal/broker"
	"github.com/alpinesboltltd/ticketflow/internal/store"
	"github.com/alpinesboltltd/ticketflow/internal/ticket"
	"github.com/alpinesboltltd/ticketflow/internal/workflow"
)

// stubRunner drives a fixed single-step graph, optionally failing that
// step so the retry/dead-letter path can be exercised.
type stubRunner struct {
	alwaysFail bool
}

func (r *stubRunner) InitialStep() string { return "only" }

func (r *stubRunner) Step(ctx context.Context, st *workflow.State, stepName string) (workflow.StepResult, error) {
	if r.alwaysFail {
		return workflow.StepResult{}, fmt.Errorf("synthetic failure")
	}
	return workflow.StepResult{
		Patch:   map[string]any{"final_response": "done"},
		Routing: workflow.RouteEnd,
	}, nil
}

func newTestWorker(st store.Store, br broker.Broker, runner workflow.Runner, maxRetries int) *Worker {
	return New(Config{
		WorkerID:                 "worker-test",
		MaxRetries:               maxRetries,
		HeartbeatInterval:        time.Second,
		StaleProcessingThreshold: 300 * time.Second,
	}, st, br, runner)
}

func TestWorkerCompletesTicketAndDeletesCheckpoint(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemStore()
	tk, err := st.CreateTicket(ctx, "tk-ok", "cust1", "subject", "body", ticket.ChannelHTTP, nil)
	require.NoError(t, err)

	w := newTestWorker(st, broker.NewInMemBroker(4), &stubRunner{}, 3)
	w.handle(ctx, broker.Delivery{
		Envelope: broker.Envelope{TicketID: tk.ID, Attempt: 0, EnqueuedAt: time.Now()},
		Ack:      func() error { return nil },
		Nack:     func() error { return nil },
		Reject:   func() error { return nil },
	})

	got, err := st.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusCompleted, got.Status)
	assert.Equal(t, "done", got.Result["final_response"])

	_, err = st.GetCheckpoint(ctx, tk.ID)
	assert.Error(t, err)
}

func TestWorkerDropsTerminalTicketEnvelope(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemStore()
	tk, _ := st.CreateTicket(ctx, "tk-done", "cust1", "s", "b", ticket.ChannelHTTP, nil)
	completed := ticket.StatusCompleted
	_, err := st.UpdateTicket(ctx, tk.ID, ticket.Patch{Status: &completed}, tk.Version)
	require.NoError(t, err)

	acked := false
	w := newTestWorker(st, broker.NewInMemBroker(4), &stubRunner{}, 3)
	w.handle(ctx, broker.Delivery{
		Envelope: broker.Envelope{TicketID: tk.ID, Attempt: 0},
		Ack:      func() error { acked = true; return nil },
		Nack:     func() error { return nil },
		Reject:   func() error { return nil },
	})
	assert.True(t, acked)
}

func TestWorkerRetriesThenDeadLettersAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemStore()
	tk, _ := st.CreateTicket(ctx, "tk-fail", "cust1", "s", "b", ticket.ChannelHTTP, nil)

	br := broker.NewInMemBroker(8)
	w := newTestWorker(st, br, &stubRunner{alwaysFail: true}, 3)

	attempt := 0
	for i := 0; i < 4; i++ {
		w.handle(ctx, broker.Delivery{
			Envelope: broker.Envelope{TicketID: tk.ID, Attempt: attempt},
			Ack:      func() error { return nil },
			Nack:     func() error { return nil },
			Reject:   func() error { return nil },
		})
		got, err := st.GetTicket(ctx, tk.ID)
		require.NoError(t, err)
		if got.Status == ticket.StatusFailedPermanent {
			break
		}
		attempt = got.AttemptCount
	}

	got, err := st.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusFailedPermanent, got.Status)
	assert.NotEmpty(t, got.Result["error"])

	events, err := st.ListEvents(ctx, tk.ID)
	require.NoError(t, err)
	retryCount := 0
	for _, e := range events {
		if e.EventType == ticket.EventRetry {
			retryCount++
		}
	}
	assert.Equal(t, 3, retryCount)
}
