package worker

import (
	"context"
	"log"
	"time"

	"github.com/alpinesboltltd/ticketflow/internal/broker"
	"github.com/alpinesboltltd/ticketflow/internal/store"
	"github.com/alpinesboltltd/ticketflow/internal/ticket"
)

// StartStaleReclaim is adapted from the teacher's requeue monitor: a
// ticker finds tickets stuck in `processing` past the staleness
// threshold — their original envelope was lost with the worker that
// crashed holding it — and republishes a fresh envelope at the same
// attempt number. The new envelope's consumer still goes through the
// worker's ordinary lease CAS in handle, so two reclaim sweeps racing
// each other are harmless.
func StartStaleReclaim(ctx context.Context, st store.Store, br broker.Broker, interval, staleThreshold time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reclaimStale(ctx, st, br, staleThreshold)
			}
		}
	}()
	return done
}

func reclaimStale(ctx context.Context, st store.Store, br broker.Broker, staleThreshold time.Duration) {
	tickets, err := st.ListTickets(ctx, store.ListTicketsFilter{Status: string(ticket.StatusProcessing), PageSize: 200})
	if err != nil {
		log.Printf("[worker] stale reclaim list failed: %v", err)
		return
	}
	for _, t := range tickets {
		if t.LastHeartbeat == nil || time.Since(*t.LastHeartbeat) < staleThreshold {
			continue
		}
		env := broker.Envelope{TicketID: t.ID, Attempt: t.AttemptCount, EnqueuedAt: time.Now().UTC()}
		if err := br.Publish(ctx, env); err != nil {
			log.Printf("[worker] reclaim republish for %s failed: %v", t.ID, err)
		}
	}
}
