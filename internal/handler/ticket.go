package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appErrors "github.com/alpinesboltltd/ticketflow/internal/errors"
	"github.com/alpinesboltltd/ticketflow/internal/ingest"
	"github.com/alpinesboltltd/ticketflow/internal/store"
)

type TicketHandler struct {
	ingest *ingest.Service
	store  store.Store
}

func NewTicketHandler(ingestSvc *ingest.Service, st store.Store) *TicketHandler {
	return &TicketHandler{ingest: ingestSvc, store: st}
}

type createTicketRequest struct {
	CustomerID string `json:"customer_id" binding:"required,min=1,max=100"`
	Subject    string `json:"subject" binding:"required,min=1,max=500"`
	Body       string `json:"body" binding:"required,min=1,max=10000"`
}

func (h *TicketHandler) Create(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErrors.HandleError(c, appErrors.NewValidationError(err.Error()), "CreateTicket - JSON binding")
		return
	}

	t, created, err := h.ingest.CreateFromHTTP(c.Request.Context(), req.CustomerID, req.Subject, req.Body)
	if err != nil {
		appErrors.HandleError(c, err, "CreateTicket")
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"ticket_id": t.ID, "status": t.Status})
}

func (h *TicketHandler) Get(c *gin.Context) {
	id := c.Param("id")
	t, err := h.store.GetTicket(c.Request.Context(), id)
	if err != nil {
		appErrors.HandleError(c, err, "GetTicket")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": t})
}

func (h *TicketHandler) List(c *gin.Context) {
	f := store.ListTicketsFilter{Status: c.Query("status")}
	if p, err := strconv.Atoi(c.Query("page")); err == nil {
		f.Page = p
	}
	if ps, err := strconv.Atoi(c.Query("page_size")); err == nil {
		f.PageSize = ps
	}

	tickets, err := h.store.ListTickets(c.Request.Context(), f)
	if err != nil {
		appErrors.HandleError(c, err, "ListTickets")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

func (h *TicketHandler) Events(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.GetTicket(c.Request.Context(), id); err != nil {
		appErrors.HandleError(c, err, "TicketEvents - GetTicket")
		return
	}
	events, err := h.store.ListEvents(c.Request.Context(), id)
	if err != nil {
		appErrors.HandleError(c, err, "TicketEvents")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
