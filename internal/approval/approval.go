// Package approval drives the human-in-the-loop decision on a ticket
// suspended in RouteAwaitApproval: approve to run the gated tool,
// reject to close the ticket with an explanatory response.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	apperrors "github.com/alpinesboltltd/ticketflow/internal/errors"
	"github.com/alpinesboltltd/ticketflow/internal/store"
	"github.com/alpinesboltltd/ticketflow/internal/ticket"
	"github.com/alpinesboltltd/ticketflow/internal/tool"
)

type Service struct {
	store    store.Store
	registry *tool.Registry
}

func New(st store.Store, registry *tool.Registry) *Service {
	return &Service{store: st, registry: registry}
}

func (s *Service) ListPending(ctx context.Context) ([]*ticket.Approval, error) {
	return s.store.ListPendingApprovals(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*ticket.Approval, error) {
	return s.store.GetApproval(ctx, id)
}

// DecideResult reports what the decision did to the underlying ticket,
// for the handler to shape its response.
type DecideResult struct {
	Approval *ticket.Approval
	Ticket   *ticket.Ticket
}

// Decide is the approval CAS, the ticket event, the gated tool's
// execution (or the rejection message), and the ticket's transition
// back to completed — one request, applied in that order. A tool
// failure after approval is folded into result.error; it does not
// reopen the approval or keep the ticket from completing.
func (s *Service) Decide(ctx context.Context, id string, approved bool, decidedBy string, reason *string) (*DecideResult, error) {
	decided, err := s.store.DecideApproval(ctx, id, approved, decidedBy, reason)
	if err != nil {
		return nil, err
	}

	if err := s.store.AppendEvent(ctx, &ticket.Event{
		ID:        uuid.NewString(),
		TicketID:  decided.TicketID,
		EventType: ticket.EventStatusChange,
		Payload:   map[string]any{"approval_id": id, "approved": approved, "decided_by": decidedBy},
	}); err != nil {
		return nil, fmt.Errorf("append approval decision event: %w", err)
	}

	t, err := s.store.GetTicket(ctx, decided.TicketID)
	if err != nil {
		return nil, fmt.Errorf("load ticket for approval decision: %w", err)
	}

	result := mergeResult(t.Result)
	actionsTaken := decodeActionsTaken(result["actions_taken"])

	if approved {
		response, actionErr := s.invokeGated(ctx, decided)
		if actionErr != nil {
			result["error"] = actionErr.Error()
			log.Printf("[approval] gated tool %s failed for ticket %s: %v", decided.ActionType, t.ID, actionErr)
		} else {
			actionsTaken = append(actionsTaken, map[string]any{"tool": decided.ActionType, "args": decided.ActionParams, "approved": true})
			result["actions_taken"] = actionsTaken
			result["final_response"] = response
		}
	} else {
		msg := "Your request was reviewed and could not be approved."
		if reason != nil && *reason != "" {
			msg = fmt.Sprintf("Your request was reviewed and could not be approved: %s", *reason)
		}
		result["final_response"] = msg
	}

	delete(result, "pending_approval")

	updated, err := s.completeTicket(ctx, t, result)
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteCheckpoint(ctx, t.ID); err != nil {
		log.Printf("[approval] delete checkpoint failed for %s: %v", t.ID, err)
	}

	return &DecideResult{Approval: decided, Ticket: updated}, nil
}

func (s *Service) invokeGated(ctx context.Context, a *ticket.Approval) (string, error) {
	gated, ok := s.registry.Get(a.ActionType)
	if !ok {
		return "", fmt.Errorf("unknown gated tool %q", a.ActionType)
	}
	return gated.Execute(ctx, a.ActionParams)
}

// completeTicket retries once on a version conflict: another CAS update
// of the ticket could land between the load above and this write.
// Heartbeats do not bump the version, so they never cause the conflict.
// Any other error is returned without a retry.
func (s *Service) completeTicket(ctx context.Context, t *ticket.Ticket, result map[string]any) (*ticket.Ticket, error) {
	completed := ticket.StatusCompleted
	patch := ticket.Patch{Status: &completed, Result: result}

	updated, err := s.store.UpdateTicket(ctx, t.ID, patch, t.Version)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, apperrors.ErrVersionConflict) {
		return nil, err
	}

	fresh, gerr := s.store.GetTicket(ctx, t.ID)
	if gerr != nil {
		return nil, fmt.Errorf("reload ticket after CAS conflict: %w", gerr)
	}
	return s.store.UpdateTicket(ctx, t.ID, patch, fresh.Version)
}

func mergeResult(existing map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+2)
	for k, v := range existing {
		out[k] = v
	}
	return out
}

// decodeActionsTaken tolerates both shapes actions_taken can arrive in:
// []map[string]any when the ticket's result was built up in-process
// this run, and []any holding map[string]any elements once it has
// round-tripped through JSON(B) storage — json.Unmarshal into a
// map[string]any never reconstructs []map[string]any on its own.
func decodeActionsTaken(v any) []map[string]any {
	switch vv := v.(type) {
	case []map[string]any:
		return vv
	case []any:
		out := make([]map[string]any, 0, len(vv))
		for _, elem := range vv {
			if m, ok := elem.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
