package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpinesboltltd/ticketflow/internal/approval"
	"github.com/alpinesboltltd/ticketflow/internal/store"
	"github.com/alpinesboltltd/ticketflow/internal/ticket"
	"github.com/alpinesboltltd/ticketflow/internal/tool"
)

func newApprovalTestRouter(invoked *bool) (*gin.Engine, store.Store) {
	st := store.NewInMemStore()
	registry := tool.NewRegistry(&tool.Tool{
		Name:          "process_refund",
		ApprovalClass: tool.RequiresApproval,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			if invoked != nil {
				*invoked = true
			}
			return "Refund processed.", nil
		},
	})
	svc := approval.New(st, registry)
	h := NewApprovalHandler(svc)

	r := gin.New()
	r.GET("/approvals", h.ListPending)
	r.GET("/approvals/:id", h.Get)
	r.POST("/approvals/:id/decide", h.Decide)
	return r, st
}

func seedAwaitingApproval(t *testing.T, st store.Store) *ticket.Ticket {
	ctx := context.Background()
	tk, err := st.CreateTicket(ctx, "tk-1", "cust1", "refund please", "order ord_1 never arrived", ticket.ChannelHTTP, nil)
	require.NoError(t, err)

	awaiting := ticket.StatusAwaitingApproval
	updated, err := st.UpdateTicket(ctx, tk.ID, ticket.Patch{Status: &awaiting}, tk.Version)
	require.NoError(t, err)

	_, err = st.CreateApproval(ctx, "appr-1", updated.ID, "process_refund", map[string]any{"order_id": "ord_1"})
	require.NoError(t, err)
	return updated
}

func TestListPendingApprovalsReturnsSeededApproval(t *testing.T) {
	r, st := newApprovalTestRouter(nil)
	seedAwaitingApproval(t, st)

	req := httptest.NewRequest(http.MethodGet, "/approvals", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	approvals, ok := resp["approvals"].([]any)
	require.True(t, ok)
	assert.Len(t, approvals, 1)
}

func TestDecideApprovalApprovesAndCompletesTicket(t *testing.T) {
	invoked := false
	r, st := newApprovalTestRouter(&invoked)
	seedAwaitingApproval(t, st)

	body, _ := json.Marshal(map[string]any{"approved": true, "decided_by": "manager-1"})
	req := httptest.NewRequest(http.MethodPost, "/approvals/appr-1/decide", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, invoked)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "appr-1", resp["approval_id"])
	assert.Equal(t, string(ticket.StatusCompleted), resp["status"])
	assert.Equal(t, true, resp["action_executed"])
	assert.Equal(t, "Refund processed.", resp["message"])
}

func TestDecideApprovalRejectsMissingDecidedBy(t *testing.T) {
	r, st := newApprovalTestRouter(nil)
	seedAwaitingApproval(t, st)

	body, _ := json.Marshal(map[string]any{"approved": false})
	req := httptest.NewRequest(http.MethodPost, "/approvals/appr-1/decide", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
