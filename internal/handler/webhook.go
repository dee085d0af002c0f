package handler

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/alpinesboltltd/ticketflow/internal/errors"
	"github.com/alpinesboltltd/ticketflow/internal/ingest"
)

// WebhookHandler normalizes the three inbound-email shapes the pipeline
// recognizes (sendgrid, mailgun, a generic "mock" JSON shape for local
// development) into ingest.InboundEmail before handing off to the
// ingest service, grounded on original_source's per-provider parser.
type WebhookHandler struct {
	ingest *ingest.Service
}

func NewWebhookHandler(ingestSvc *ingest.Service) *WebhookHandler {
	return &WebhookHandler{ingest: ingestSvc}
}

var addressPattern = regexp.MustCompile(`^(.*?)<([^>]+)>\s*$`)

func splitNameAddress(raw string) (email, name string) {
	raw = strings.TrimSpace(raw)
	if m := addressPattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[2]), strings.Trim(strings.TrimSpace(m[1]), `"`)
	}
	return raw, ""
}

func (h *WebhookHandler) ReceiveEmail(c *gin.Context) {
	provider := c.Param("provider")

	var email ingest.InboundEmail
	switch provider {
	case "sendgrid":
		from, fromName := splitNameAddress(c.PostForm("from"))
		email = ingest.InboundEmail{
			FromEmail: from,
			FromName:  fromName,
			ToEmail:   c.PostForm("to"),
			Subject:   c.PostForm("subject"),
			Text:      c.PostForm("text"),
			HTML:      c.PostForm("html"),
			MessageID: c.PostForm("message_id"),
			InReplyTo: c.PostForm("in_reply_to"),
		}
	case "mailgun":
		contentType := c.GetHeader("Content-Type")
		if strings.Contains(contentType, "multipart/form-data") || strings.Contains(contentType, "application/x-www-form-urlencoded") {
			from, fromName := splitNameAddress(firstNonEmpty(c.PostForm("from"), c.PostForm("sender")))
			email = ingest.InboundEmail{
				FromEmail: from,
				FromName:  fromName,
				ToEmail:   c.PostForm("recipient"),
				Subject:   c.PostForm("subject"),
				Text:      firstNonEmpty(c.PostForm("body-plain"), c.PostForm("stripped-text")),
				HTML:      firstNonEmpty(c.PostForm("body-html"), c.PostForm("stripped-html")),
				MessageID: c.PostForm("Message-Id"),
				InReplyTo: c.PostForm("In-Reply-To"),
			}
		} else {
			var body mailgunJSON
			if err := c.ShouldBindJSON(&body); err != nil {
				appErrors.HandleError(c, appErrors.NewValidationError("invalid mailgun JSON payload"), "ReceiveEmail - mailgun")
				return
			}
			from, fromName := splitNameAddress(firstNonEmpty(body.From, body.Sender))
			email = ingest.InboundEmail{
				FromEmail: from, FromName: fromName, ToEmail: body.Recipient, Subject: body.Subject,
				Text: firstNonEmpty(body.BodyPlain, body.StrippedText), HTML: firstNonEmpty(body.BodyHTML, body.StrippedHTML),
				MessageID: body.MessageID, InReplyTo: body.InReplyTo,
			}
		}
	case "mock":
		var body mockJSON
		if err := c.ShouldBindJSON(&body); err != nil {
			appErrors.HandleError(c, appErrors.NewValidationError("invalid email payload"), "ReceiveEmail - mock")
			return
		}
		from, fromName := splitNameAddress(body.From)
		email = ingest.InboundEmail{
			FromEmail: from, FromName: fromName, ToEmail: body.To, Subject: body.Subject,
			Text: body.Text, HTML: body.HTML, MessageID: body.MessageID, InReplyTo: body.InReplyTo,
		}
	default:
		appErrors.HandleError(c, appErrors.NewValidationError("unknown email provider"), "ReceiveEmail")
		return
	}

	t, created, err := h.ingest.CreateFromEmail(c.Request.Context(), email)
	if err != nil {
		appErrors.HandleError(c, err, "ReceiveEmail - CreateFromEmail")
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"ticket_id": t.ID, "status": t.Status})
}

type mailgunJSON struct {
	From         string `json:"from"`
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	Subject      string `json:"subject"`
	BodyPlain    string `json:"body-plain"`
	StrippedText string `json:"stripped-text"`
	BodyHTML     string `json:"body-html"`
	StrippedHTML string `json:"stripped-html"`
	MessageID    string `json:"Message-Id"`
	InReplyTo    string `json:"In-Reply-To"`
}

type mockJSON struct {
	From      string `json:"from" binding:"required"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	HTML      string `json:"html"`
	MessageID string `json:"message_id"`
	InReplyTo string `json:"in_reply_to"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
