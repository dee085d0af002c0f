package store

import (
	"context"
	"sync"

	apperrors "github.com/alpinesboltltd/ticketflow/internal/errors"
	"github.com/alpinesboltltd/ticketflow/internal/ticket"
)

// InMemStore is a test double satisfying Store. It is not used in
// production; the worker and ingest test suites exercise it in place
// of a real database.
type InMemStore struct {
	mu          sync.Mutex
	tickets     map[string]*ticket.Ticket
	events      map[string][]*ticket.Event
	checkpoints map[string]*ticket.Checkpoint
	approvals   map[string]*ticket.Approval
}

func NewInMemStore() *InMemStore {
	return &InMemStore{
		tickets:     make(map[string]*ticket.Ticket),
		events:      make(map[string][]*ticket.Event),
		checkpoints: make(map[string]*ticket.Checkpoint),
		approvals:   make(map[string]*ticket.Approval),
	}
}

func cloneTicket(t *ticket.Ticket) *ticket.Ticket {
	cp := *t
	return &cp
}

func (s *InMemStore) CreateTicket(ctx context.Context, id string, customerID, subject, body string, channel ticket.Channel, metadata map[string]any) (*ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; ok {
		return nil, apperrors.ErrAlreadyExists
	}
	t := &ticket.Ticket{
		ID: id, CustomerID: customerID, Subject: subject, Body: body,
		Channel: channel, Metadata: metadata, Status: ticket.StatusPending,
		Version: 1, CreatedAt: now(),
	}
	s.tickets[id] = t
	return cloneTicket(t), nil
}

func (s *InMemStore) GetTicket(ctx context.Context, id string) (*ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneTicket(t), nil
}

func (s *InMemStore) FindByMessageID(ctx context.Context, messageID string) (*ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if mid, ok := t.Metadata["message_id"].(string); ok && mid == messageID {
			return cloneTicket(t), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (s *InMemStore) ListTickets(ctx context.Context, f ListTicketsFilter) ([]*ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ticket.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if f.Status != "" && string(t.Status) != f.Status {
			continue
		}
		out = append(out, cloneTicket(t))
	}
	return out, nil
}

func (s *InMemStore) UpdateTicket(ctx context.Context, id string, patch ticket.Patch, expectedVersion int) (*ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if t.Status.Terminal() || t.Version != expectedVersion {
		return nil, apperrors.ErrVersionConflict
	}

	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.ClearResult {
		t.Result = nil
	} else if patch.Result != nil {
		t.Result = patch.Result
	}
	if patch.WorkerID != nil {
		t.WorkerID = patch.WorkerID
	}
	if patch.AttemptCount != nil {
		t.AttemptCount = *patch.AttemptCount
	}
	if patch.StartedAt != nil {
		t.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		t.CompletedAt = patch.CompletedAt
	}
	t.Version++
	return cloneTicket(t), nil
}

func (s *InMemStore) UpdateHeartbeat(ctx context.Context, id string, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	hb := now()
	t.LastHeartbeat = &hb
	t.WorkerID = &workerID
	return nil
}

func (s *InMemStore) AppendEvent(ctx context.Context, ev *ticket.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	cp.CreatedAt = now()
	s.events[ev.TicketID] = append(s.events[ev.TicketID], &cp)
	return nil
}

func (s *InMemStore) ListEvents(ctx context.Context, ticketID string) ([]*ticket.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events[ticketID]
	out := make([]*ticket.Event, len(evs))
	copy(out, evs)
	return out, nil
}

func (s *InMemStore) UpsertCheckpoint(ctx context.Context, ticketID string, state map[string]any, currentStep string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[ticketID] = &ticket.Checkpoint{TicketID: ticketID, State: state, CurrentStep: currentStep, UpdatedAt: now()}
	return nil
}

func (s *InMemStore) GetCheckpoint(ctx context.Context, ticketID string) (*ticket.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[ticketID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := *cp
	return &out, nil
}

func (s *InMemStore) DeleteCheckpoint(ctx context.Context, ticketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, ticketID)
	return nil
}

func (s *InMemStore) CreateApproval(ctx context.Context, id, ticketID, actionType string, actionParams map[string]any) (*ticket.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &ticket.Approval{
		ID: id, TicketID: ticketID, ActionType: actionType, ActionParams: actionParams,
		Status: ticket.ApprovalPending, RequestedAt: now(),
	}
	s.approvals[id] = a
	out := *a
	return &out, nil
}

func (s *InMemStore) GetApproval(ctx context.Context, id string) (*ticket.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (s *InMemStore) ListPendingApprovals(ctx context.Context) ([]*ticket.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ticket.Approval, 0)
	for _, a := range s.approvals {
		if a.Status == ticket.ApprovalPending {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemStore) DecideApproval(ctx context.Context, id string, approved bool, decidedBy string, reason *string) (*ticket.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok || a.Status != ticket.ApprovalPending {
		return nil, apperrors.ErrAlreadyDecided
	}
	if approved {
		a.Status = ticket.ApprovalApproved
	} else {
		a.Status = ticket.ApprovalRejected
	}
	d := now()
	a.DecidedAt = &d
	a.DecidedBy = &decidedBy
	a.DecisionReason = reason
	out := *a
	return &out, nil
}
