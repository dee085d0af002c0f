package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alpinesboltltd/ticketflow/internal/approval"
	appErrors "github.com/alpinesboltltd/ticketflow/internal/errors"
	"github.com/alpinesboltltd/ticketflow/internal/ticket"
)

type ApprovalHandler struct {
	svc *approval.Service
}

func NewApprovalHandler(svc *approval.Service) *ApprovalHandler {
	return &ApprovalHandler{svc: svc}
}

func (h *ApprovalHandler) ListPending(c *gin.Context) {
	approvals, err := h.svc.ListPending(c.Request.Context())
	if err != nil {
		appErrors.HandleError(c, err, "ListPendingApprovals")
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": approvals})
}

func (h *ApprovalHandler) Get(c *gin.Context) {
	id := c.Param("id")
	a, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		appErrors.HandleError(c, err, "GetApproval")
		return
	}
	c.JSON(http.StatusOK, gin.H{"approval": a})
}

type decideApprovalRequest struct {
	Approved  bool    `json:"approved"`
	DecidedBy string  `json:"decided_by" binding:"required,min=1"`
	Reason    *string `json:"reason,omitempty"`
}

func (h *ApprovalHandler) Decide(c *gin.Context) {
	id := c.Param("id")
	var req decideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErrors.HandleError(c, appErrors.NewValidationError(err.Error()), "DecideApproval - JSON binding")
		return
	}

	result, err := h.svc.Decide(c.Request.Context(), id, req.Approved, req.DecidedBy, req.Reason)
	if err != nil {
		appErrors.HandleError(c, err, "DecideApproval")
		return
	}

	message, _ := result.Ticket.Result["final_response"].(string)
	_, toolFailed := result.Ticket.Result["error"]
	actionExecuted := result.Approval.Status == ticket.ApprovalApproved && !toolFailed

	c.JSON(http.StatusOK, gin.H{
		"approval_id":     result.Approval.ID,
		"ticket_id":       result.Ticket.ID,
		"status":          result.Ticket.Status,
		"action_executed": actionExecuted,
		"message":         message,
	})
}
