package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/alpinesboltltd/ticketflow/internal/middleware"
)

// NewRouter wires the full HTTP surface: tickets, approvals, the
// inbound-email webhook, and health — grounded on the teacher's
// api/v1 grouping, flattened since this service has no auth surface.
func NewRouter(ticketH *TicketHandler, approvalH *ApprovalHandler, webhookH *WebhookHandler, systemH *SystemHandler) *gin.Engine {
	r := gin.New()
	r.Use(middleware.ErrorHandler(), middleware.RequestLogger(), requestID())

	r.GET("/health", systemH.Health)

	tickets := r.Group("/tickets")
	{
		tickets.POST("", ticketH.Create)
		tickets.GET("", ticketH.List)
		tickets.GET("/:id", ticketH.Get)
		tickets.GET("/:id/events", ticketH.Events)
	}

	approvals := r.Group("/approvals")
	{
		approvals.GET("", approvalH.ListPending)
		approvals.GET("/:id", approvalH.Get)
		approvals.POST("/:id/decide", approvalH.Decide)
	}

	r.POST("/webhooks/email/:provider", webhookH.ReceiveEmail)

	return r
}

// requestID stamps every response with an X-Request-ID, generating one
// if the caller didn't supply it, so webhook providers and API clients
// can correlate retries with server-side logs.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}
