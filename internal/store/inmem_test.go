package store

import (
	"context"
	"testing"

	apperrors "github.com/alpinesboltltd/ticketflow/internal/errors"
	"github.com/alpinesboltltd/ticketflow/internal/ticket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTicketIsUniquePerIdentity(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()

	tk, err := s.CreateTicket(ctx, "tk-1", "cust1", "subject", "body", ticket.ChannelHTTP, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tk.Version)
	assert.Equal(t, ticket.StatusPending, tk.Status)

	_, err = s.CreateTicket(ctx, "tk-1", "cust1", "subject", "body", ticket.ChannelHTTP, nil)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestUpdateTicketVersionStrictlyIncreases(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()
	tk, _ := s.CreateTicket(ctx, "tk-2", "cust1", "subject", "body", ticket.ChannelHTTP, nil)

	processing := ticket.StatusProcessing
	updated, err := s.UpdateTicket(ctx, tk.ID, ticket.Patch{Status: &processing}, tk.Version)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	_, err = s.UpdateTicket(ctx, tk.ID, ticket.Patch{Status: &processing}, tk.Version)
	assert.ErrorIs(t, err, apperrors.ErrVersionConflict)
}

func TestTerminalStatusIsSticky(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()
	tk, _ := s.CreateTicket(ctx, "tk-3", "cust1", "subject", "body", ticket.ChannelHTTP, nil)

	completed := ticket.StatusCompleted
	done, err := s.UpdateTicket(ctx, tk.ID, ticket.Patch{Status: &completed}, tk.Version)
	require.NoError(t, err)

	processing := ticket.StatusProcessing
	_, err = s.UpdateTicket(ctx, tk.ID, ticket.Patch{Status: &processing}, done.Version)
	assert.ErrorIs(t, err, apperrors.ErrVersionConflict)
}

func TestHeartbeatDoesNotRaceVersionedUpdate(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()
	tk, _ := s.CreateTicket(ctx, "tk-4", "cust1", "subject", "body", ticket.ChannelHTTP, nil)

	require.NoError(t, s.UpdateHeartbeat(ctx, tk.ID, "worker-1"))

	processing := ticket.StatusProcessing
	updated, err := s.UpdateTicket(ctx, tk.ID, ticket.Patch{Status: &processing}, tk.Version)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.NotNil(t, updated.LastHeartbeat)
}

func TestApprovalDecisionIsAtMostOnce(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()
	tk, _ := s.CreateTicket(ctx, "tk-5", "cust1", "subject", "body", ticket.ChannelHTTP, nil)
	ap, err := s.CreateApproval(ctx, "ap-1", tk.ID, "process_refund", map[string]any{"order_id": "ord_1"})
	require.NoError(t, err)

	decided, err := s.DecideApproval(ctx, ap.ID, true, "admin", nil)
	require.NoError(t, err)
	assert.Equal(t, ticket.ApprovalApproved, decided.Status)

	_, err = s.DecideApproval(ctx, ap.ID, false, "admin", nil)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyDecided)
}

func TestAtMostOnePendingApproval(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()
	tk, _ := s.CreateTicket(ctx, "tk-6", "cust1", "subject", "body", ticket.ChannelHTTP, nil)
	_, err := s.CreateApproval(ctx, "ap-2", tk.ID, "process_refund", nil)
	require.NoError(t, err)

	pending, err := s.ListPendingApprovals(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEventsAreAppendOnly(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()
	tk, _ := s.CreateTicket(ctx, "tk-7", "cust1", "subject", "body", ticket.ChannelHTTP, nil)

	require.NoError(t, s.AppendEvent(ctx, &ticket.Event{ID: "ev-1", TicketID: tk.ID, EventType: ticket.EventCreated}))
	require.NoError(t, s.AppendEvent(ctx, &ticket.Event{ID: "ev-2", TicketID: tk.ID, EventType: ticket.EventStepComplete}))

	events, err := s.ListEvents(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, ticket.EventCreated, events[0].EventType)
}
