// Package worker is the long-running consumer that acquires a lease on
// a ticket, drives the workflow engine, persists a checkpoint after
// every step, emits heartbeats, and finalizes the ticket. Grounded on
// the teacher's scheduler/requeue pair, generalized from "claim a
// workflow step" to the full ticket lease/checkpoint/retry protocol in
// original_source's worker/processor.py.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/alpinesboltltd/ticketflow/internal/broker"
	apperrors "github.com/alpinesboltltd/ticketflow/internal/errors"
	"github.com/alpinesboltltd/ticketflow/internal/store"
	"github.com/alpinesboltltd/ticketflow/internal/ticket"
	"github.com/alpinesboltltd/ticketflow/internal/workflow"
)

type Config struct {
	WorkerID                 string
	MaxRetries               int
	HeartbeatInterval        time.Duration
	StaleProcessingThreshold time.Duration
}

type Worker struct {
	cfg    Config
	store  store.Store
	broker broker.Broker
	runner workflow.Runner
}

func New(cfg Config, st store.Store, br broker.Broker, runner workflow.Runner) *Worker {
	return &Worker{cfg: cfg, store: st, broker: br, runner: runner}
}

// Run consumes envelopes until ctx is cancelled. Each envelope is
// processed to completion (or requeued/dead-lettered) before the next
// is pulled, matching the single-threaded cooperative consumer slot
// the spec requires when prefetch=1.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.broker.Consume(ctx)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d broker.Delivery) {
	env := d.Envelope

	t, err := w.store.GetTicket(ctx, env.TicketID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Printf("[worker] ticket %s not found, dropping envelope", env.TicketID)
			_ = d.Ack()
			return
		}
		log.Printf("[worker] fetch ticket %s failed: %v", env.TicketID, err)
		_ = d.Nack()
		return
	}

	// Idempotency gate: terminal or awaiting-approval tickets are
	// already settled; redelivery of a stale envelope is a no-op.
	if t.Status.Terminal() || t.Status == ticket.StatusAwaitingApproval {
		_ = d.Ack()
		return
	}

	if t.Status == ticket.StatusProcessing && t.LastHeartbeat != nil && time.Since(*t.LastHeartbeat) < w.cfg.StaleProcessingThreshold {
		// Another worker appears to hold a live lease.
		_ = d.Nack()
		return
	}

	leased, err := w.acquireLease(ctx, t)
	if err != nil {
		if errors.Is(err, apperrors.ErrVersionConflict) {
			_ = d.Nack()
			return
		}
		log.Printf("[worker] lease acquisition failed for %s: %v", t.ID, err)
		_ = d.Nack()
		return
	}

	if err := w.process(ctx, leased, env.Attempt); err != nil {
		log.Printf("[worker] processing %s failed: %v", t.ID, err)
	}
	_ = d.Ack()
}

func (w *Worker) acquireLease(ctx context.Context, t *ticket.Ticket) (*ticket.Ticket, error) {
	processing := ticket.StatusProcessing
	patch := ticket.Patch{Status: &processing, WorkerID: &w.cfg.WorkerID}
	if t.StartedAt == nil {
		n := time.Now().UTC()
		patch.StartedAt = &n
	}
	return w.store.UpdateTicket(ctx, t.ID, patch, t.Version)
}

// process drives the workflow to completion, suspension, or failure
// and performs the matching ticket transition. It mirrors
// TicketProcessor.process: load-or-init state, run the graph one step
// at a time with a checkpoint+event+heartbeat after each, then settle.
func (w *Worker) process(ctx context.Context, t *ticket.Ticket, attempt int) error {
	if err := w.store.UpdateHeartbeat(ctx, t.ID, w.cfg.WorkerID); err != nil {
		log.Printf("[worker] heartbeat failed for %s: %v", t.ID, err)
	}

	st, stepName, err := w.loadOrInitState(ctx, t)
	if err != nil {
		return w.onWorkflowError(ctx, t, attempt, err)
	}

	for {
		result, err := w.runner.Step(ctx, st, stepName)
		if err != nil {
			return w.onWorkflowError(ctx, t, attempt, err)
		}

		workflow.ApplyPatch(st, result.Patch)

		stateMap, merr := workflow.Marshal(st)
		if merr != nil {
			return w.onWorkflowError(ctx, t, attempt, merr)
		}
		if err := w.store.AppendEvent(ctx, &ticket.Event{
			ID: uuid.NewString(), TicketID: t.ID, EventType: ticket.EventStepComplete, StepName: &stepName,
		}); err != nil {
			log.Printf("[worker] append step_complete event failed for %s: %v", t.ID, err)
		}
		if err := w.store.UpdateHeartbeat(ctx, t.ID, w.cfg.WorkerID); err != nil {
			log.Printf("[worker] heartbeat failed for %s: %v", t.ID, err)
		}

		switch result.Routing {
		case workflow.RouteAwaitApproval:
			return w.onAwaitApproval(ctx, t, st)
		case workflow.RouteEnd:
			return w.onCompleted(ctx, t, st)
		case workflow.RouteContinue:
			// Checkpoint the step that comes NEXT, not the one that just
			// ran, so a crash-and-resume continues forward instead of
			// repeating it.
			if err := w.store.UpsertCheckpoint(ctx, t.ID, stateMap, result.NextStep); err != nil {
				return fmt.Errorf("upsert checkpoint: %w", err)
			}
			stepName = result.NextStep
			continue
		default:
			return w.onWorkflowError(ctx, t, attempt, fmt.Errorf("unknown routing %q from step %q", result.Routing, stepName))
		}
	}
}

// loadOrInitState restores a checkpointed run at the step recorded
// alongside its state, not the graph's entry step — otherwise a
// crash-and-resume would silently repeat already-completed steps
// (and, for the legacy pipeline, redundant LLM calls for them).
func (w *Worker) loadOrInitState(ctx context.Context, t *ticket.Ticket) (*workflow.State, string, error) {
	cp, err := w.store.GetCheckpoint(ctx, t.ID)
	if err == nil {
		st, uerr := workflow.Unmarshal(cp.State)
		if uerr != nil {
			return nil, "", uerr
		}
		stepName := cp.CurrentStep
		if stepName == "" {
			stepName = w.runner.InitialStep()
		}
		return st, stepName, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, "", err
	}
	st := &workflow.State{TicketID: t.ID, CustomerID: t.CustomerID, Subject: t.Subject, Body: t.Body}
	return st, w.runner.InitialStep(), nil
}

func (w *Worker) onCompleted(ctx context.Context, t *ticket.Ticket, st *workflow.State) error {
	result := map[string]any{
		"final_response": st.FinalResponse,
		"actions_taken":  st.ActionsTaken,
	}
	completed := ticket.StatusCompleted
	now := time.Now().UTC()
	if _, err := w.store.UpdateTicket(ctx, t.ID, ticket.Patch{Status: &completed, Result: result, CompletedAt: &now}, t.Version); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if err := w.store.DeleteCheckpoint(ctx, t.ID); err != nil {
		log.Printf("[worker] delete checkpoint failed for %s: %v", t.ID, err)
	}
	return nil
}

func (w *Worker) onAwaitApproval(ctx context.Context, t *ticket.Ticket, st *workflow.State) error {
	if st.PendingApproval == nil {
		return fmt.Errorf("await_approval routing with no pending approval on ticket %s", t.ID)
	}
	approvalID := uuid.NewString()
	if _, err := w.store.CreateApproval(ctx, approvalID, t.ID, st.PendingApproval.Tool, st.PendingApproval.Args); err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	awaiting := ticket.StatusAwaitingApproval
	result := map[string]any{"final_response": st.FinalResponse, "pending_approval": st.PendingApproval}
	if _, err := w.store.UpdateTicket(ctx, t.ID, ticket.Patch{Status: &awaiting, Result: result}, t.Version); err != nil {
		return fmt.Errorf("mark awaiting_approval: %w", err)
	}
	// Checkpoint is deliberately retained: §3 WorkflowCheckpoint lifecycle.
	return nil
}

func (w *Worker) onWorkflowError(ctx context.Context, t *ticket.Ticket, attempt int, cause error) error {
	_ = w.store.AppendEvent(ctx, &ticket.Event{
		ID: uuid.NewString(), TicketID: t.ID, EventType: ticket.EventError,
		Payload: map[string]any{"error": cause.Error()},
	})

	current, err := w.store.GetTicket(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("reload ticket after workflow error: %w", err)
	}

	if attempt >= w.cfg.MaxRetries {
		failed := ticket.StatusFailedPermanent
		result := map[string]any{"error": cause.Error()}
		_, err := w.store.UpdateTicket(ctx, t.ID, ticket.Patch{Status: &failed, Result: result}, current.Version)
		if err != nil {
			return fmt.Errorf("mark failed_permanent: %w", err)
		}
		return nil
	}

	nextAttempt := current.AttemptCount + 1
	pending := ticket.StatusPending
	if _, err := w.store.UpdateTicket(ctx, t.ID, ticket.Patch{Status: &pending, AttemptCount: &nextAttempt}, current.Version); err != nil {
		return fmt.Errorf("increment attempt count: %w", err)
	}
	if err := w.store.AppendEvent(ctx, &ticket.Event{ID: uuid.NewString(), TicketID: t.ID, EventType: ticket.EventRetry}); err != nil {
		log.Printf("[worker] append retry event failed for %s: %v", t.ID, err)
	}

	// Strategy (a): publish an envelope for attempt+1 explicitly so the
	// attempt number travels with the envelope rather than relying on
	// redelivery count.
	if err := w.broker.Publish(ctx, broker.Envelope{TicketID: t.ID, Attempt: nextAttempt, EnqueuedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("republish retry envelope: %w", err)
	}
	return nil
}
