// Package ingest is the single front door tickets enter the pipeline
// through, whether submitted over HTTP or received as inbound email.
// It owns identity derivation so the same customer message, retried by
// a flaky client or redelivered by a webhook provider, produces
// exactly one ticket.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/alpinesboltltd/ticketflow/internal/broker"
	apperrors "github.com/alpinesboltltd/ticketflow/internal/errors"
	"github.com/alpinesboltltd/ticketflow/internal/store"
	"github.com/alpinesboltltd/ticketflow/internal/ticket"
)

// InboundEmail is the normalized shape every webhook provider adapter
// (sendgrid, mailgun, or the mock dev provider) is reduced to before
// it reaches the service.
type InboundEmail struct {
	FromEmail string
	FromName  string
	ToEmail   string
	Subject   string
	Text      string
	HTML      string
	MessageID string
	InReplyTo string
}

type Service struct {
	store  store.Store
	broker broker.Broker
}

func New(st store.Store, br broker.Broker) *Service {
	return &Service{store: st, broker: br}
}

// CreateFromHTTP derives a deterministic ticket id from the submitted
// fields, returning the existing ticket untouched if one already
// carries that identity. The bool result reports whether a new ticket
// was created.
func (s *Service) CreateFromHTTP(ctx context.Context, customerID, subject, body string) (*ticket.Ticket, bool, error) {
	id := ticket.DeriveHTTPIdentity(customerID, subject, body)

	if existing, err := s.store.GetTicket(ctx, id); err == nil {
		return existing, false, nil
	} else if !isNotFound(err) {
		return nil, false, err
	}

	t, err := s.store.CreateTicket(ctx, id, customerID, subject, body, ticket.ChannelHTTP, nil)
	if err != nil {
		if isAlreadyExists(err) {
			if existing, gerr := s.store.GetTicket(ctx, id); gerr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	if err := s.recordCreationAndEnqueue(ctx, t, map[string]any{"channel": "http"}); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// CreateFromEmail handles thread-reply detection before falling back
// to ordinary idempotent creation: a reply to a message this pipeline
// already knows about is folded into the existing ticket as a
// status_change event rather than spawning a duplicate ticket.
func (s *Service) CreateFromEmail(ctx context.Context, email InboundEmail) (*ticket.Ticket, bool, error) {
	body := email.Text
	if body == "" && email.HTML != "" {
		body = stripHTML(email.HTML)
	}
	subject := email.Subject
	if subject == "" {
		subject = "(No subject)"
	}
	if body == "" {
		body = "(Empty email)"
	}

	if email.InReplyTo != "" {
		if existing, err := s.store.FindByMessageID(ctx, email.InReplyTo); err == nil {
			if err := s.store.AppendEvent(ctx, &ticket.Event{
				ID:        uuid.NewString(),
				TicketID:  existing.ID,
				EventType: ticket.EventStatusChange,
				Payload: map[string]any{
					"message_id":   email.MessageID,
					"from":         email.FromEmail,
					"subject":      email.Subject,
					"body_preview": preview(body, 200),
				},
			}); err != nil {
				return nil, false, fmt.Errorf("append email_reply_received event: %w", err)
			}
			return existing, false, nil
		} else if !isNotFound(err) {
			return nil, false, err
		}
	}

	id := ticket.DeriveEmailIdentity(email.MessageID, email.FromEmail, email.Subject)

	if existing, err := s.store.GetTicket(ctx, id); err == nil {
		return existing, false, nil
	} else if !isNotFound(err) {
		return nil, false, err
	}

	metadata := map[string]any{
		"message_id":  email.MessageID,
		"from_email":  email.FromEmail,
		"from_name":   email.FromName,
		"to_email":    email.ToEmail,
		"in_reply_to": email.InReplyTo,
	}

	t, err := s.store.CreateTicket(ctx, id, extractCustomerID(email.FromEmail), subject, body, ticket.ChannelEmail, metadata)
	if err != nil {
		if isAlreadyExists(err) {
			if existing, gerr := s.store.GetTicket(ctx, id); gerr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	if err := s.recordCreationAndEnqueue(ctx, t, map[string]any{
		"channel": "email", "from": email.FromEmail, "subject": email.Subject, "message_id": email.MessageID,
	}); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// recordCreationAndEnqueue appends the `created` event and publishes
// the first envelope for a brand-new ticket. Attempt starts at 0 so
// the worker's retry arithmetic (attempt >= max_retries) matches the
// documented failure-after-N-retries behavior exactly.
func (s *Service) recordCreationAndEnqueue(ctx context.Context, t *ticket.Ticket, payload map[string]any) error {
	if err := s.store.AppendEvent(ctx, &ticket.Event{
		ID: uuid.NewString(), TicketID: t.ID, EventType: ticket.EventCreated, Payload: payload,
	}); err != nil {
		return fmt.Errorf("append created event: %w", err)
	}
	if err := s.broker.Publish(ctx, broker.Envelope{TicketID: t.ID, Attempt: 0, EnqueuedAt: t.CreatedAt}); err != nil {
		return fmt.Errorf("publish initial envelope: %w", err)
	}
	return nil
}

func extractCustomerID(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func stripHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return strings.TrimSpace(doc.Text())
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}

func isAlreadyExists(err error) bool {
	return errors.Is(err, apperrors.ErrAlreadyExists)
}
