package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpinesboltltd/ticketflow/internal/store"
	"github.com/alpinesboltltd/ticketflow/internal/ticket"
	"github.com/alpinesboltltd/ticketflow/internal/tool"
)

func newAwaitingApprovalTicket(t *testing.T, st store.Store) *ticket.Ticket {
	ctx := context.Background()
	tk, err := st.CreateTicket(ctx, "tk-refund", "cust1", "refund please", "order ord_1 never arrived", ticket.ChannelHTTP, nil)
	require.NoError(t, err)

	awaiting := ticket.StatusAwaitingApproval
	updated, err := st.UpdateTicket(ctx, tk.ID, ticket.Patch{Status: &awaiting}, tk.Version)
	require.NoError(t, err)

	_, err = st.CreateApproval(ctx, "appr-1", updated.ID, "process_refund", map[string]any{"order_id": "ord_1"})
	require.NoError(t, err)
	return updated
}

func TestDecideApprovedInvokesGatedToolAndCompletes(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemStore()
	tk := newAwaitingApprovalTicket(t, st)

	invoked := false
	registry := tool.NewRegistry(&tool.Tool{
		Name:          "process_refund",
		ApprovalClass: tool.RequiresApproval,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			invoked = true
			return "Refund processed for order ord_1.", nil
		},
	})

	svc := New(st, registry)
	reason := "confirmed with customer"
	res, err := svc.Decide(ctx, "appr-1", true, "manager-1", &reason)
	require.NoError(t, err)

	assert.True(t, invoked)
	assert.Equal(t, ticket.ApprovalApproved, res.Approval.Status)
	assert.Equal(t, ticket.StatusCompleted, res.Ticket.Status)
	assert.Equal(t, "Refund processed for order ord_1.", res.Ticket.Result["final_response"])

	_, err = st.GetCheckpoint(ctx, tk.ID)
	assert.Error(t, err)
}

func TestDecideRejectedEmbedsReasonAndCompletes(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemStore()
	newAwaitingApprovalTicket(t, st)

	registry := tool.NewRegistry(&tool.Tool{
		Name:          "process_refund",
		ApprovalClass: tool.RequiresApproval,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			t.Fatal("gated tool must not run on rejection")
			return "", nil
		},
	})

	svc := New(st, registry)
	reason := "refund window expired"
	res, err := svc.Decide(ctx, "appr-1", false, "manager-1", &reason)
	require.NoError(t, err)

	assert.Equal(t, ticket.ApprovalRejected, res.Approval.Status)
	assert.Equal(t, ticket.StatusCompleted, res.Ticket.Status)
	assert.Contains(t, res.Ticket.Result["final_response"], "refund window expired")
}

func TestDecideApprovedAppendsApprovedFlagAndClearsPendingApproval(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemStore()
	tk, err := st.CreateTicket(ctx, "tk-refund-2", "cust1", "refund please", "order ord_2 never arrived", ticket.ChannelHTTP, nil)
	require.NoError(t, err)

	// Seed a result shaped exactly like one that has round-tripped
	// through JSON(B) storage: actions_taken decodes as []any holding
	// map[string]any elements, never []map[string]any directly.
	seeded := ticket.Patch{Result: map[string]any{
		"actions_taken":    []any{map[string]any{"tool": "check_order_status", "args": map[string]any{"order_id": "ord_2"}}},
		"pending_approval": map[string]any{"tool": "process_refund", "args": map[string]any{"order_id": "ord_2"}},
	}}
	tk, err = st.UpdateTicket(ctx, tk.ID, seeded, tk.Version)
	require.NoError(t, err)

	awaiting := ticket.StatusAwaitingApproval
	tk, err = st.UpdateTicket(ctx, tk.ID, ticket.Patch{Status: &awaiting}, tk.Version)
	require.NoError(t, err)

	_, err = st.CreateApproval(ctx, "appr-2", tk.ID, "process_refund", map[string]any{"order_id": "ord_2"})
	require.NoError(t, err)

	registry := tool.NewRegistry(&tool.Tool{
		Name:          "process_refund",
		ApprovalClass: tool.RequiresApproval,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "Refund processed for order ord_2.", nil
		},
	})

	svc := New(st, registry)
	res, err := svc.Decide(ctx, "appr-2", true, "manager-1", nil)
	require.NoError(t, err)

	actionsTaken, ok := res.Ticket.Result["actions_taken"].([]map[string]any)
	require.True(t, ok, "actions_taken must decode to []map[string]any even after a []any round trip")
	require.Len(t, actionsTaken, 2, "the pre-existing entry must survive, not be silently dropped")
	assert.Equal(t, "check_order_status", actionsTaken[0]["tool"])
	assert.Equal(t, "process_refund", actionsTaken[1]["tool"])
	assert.Equal(t, true, actionsTaken[1]["approved"])

	_, stillPending := res.Ticket.Result["pending_approval"]
	assert.False(t, stillPending, "pending_approval must be cleared once the ticket completes")
}

func TestDecideIsAtMostOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemStore()
	newAwaitingApprovalTicket(t, st)

	registry := tool.NewRegistry(&tool.Tool{
		Name:          "process_refund",
		ApprovalClass: tool.RequiresApproval,
		Execute:       func(ctx context.Context, args map[string]any) (string, error) { return "ok", nil },
	})

	svc := New(st, registry)
	_, err := svc.Decide(ctx, "appr-1", true, "manager-1", nil)
	require.NoError(t, err)

	_, err = svc.Decide(ctx, "appr-1", false, "manager-2", nil)
	assert.Error(t, err)
}
