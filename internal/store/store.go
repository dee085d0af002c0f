// Package store is the transactional record of tickets, ticket events,
// workflow checkpoints, and approval requests. It exposes optimistic-
// locked updates and is the only component permitted to mutate
// persistent pipeline state.
package store

import (
	"context"
	"time"

	"github.com/alpinesboltltd/ticketflow/internal/ticket"
)

type ListTicketsFilter struct {
	Status   string
	Page     int
	PageSize int
}

// Store is implemented by PostgresStore (production) and InMemStore
// (tests). The ticket- and approval-mutating methods (CreateTicket,
// UpdateTicket, CreateApproval, DecideApproval) return the post-image on
// success; UpdateHeartbeat, AppendEvent and the checkpoint writes return
// only an error.
type Store interface {
	CreateTicket(ctx context.Context, id string, customerID, subject, body string, channel ticket.Channel, metadata map[string]any) (*ticket.Ticket, error)
	GetTicket(ctx context.Context, id string) (*ticket.Ticket, error)
	// FindByMessageID locates a ticket whose metadata.message_id matches,
	// used by email ingestion's thread-reply detection. Returns
	// ErrNotFound if no ticket carries that message id.
	FindByMessageID(ctx context.Context, messageID string) (*ticket.Ticket, error)
	ListTickets(ctx context.Context, f ListTicketsFilter) ([]*ticket.Ticket, error)
	UpdateTicket(ctx context.Context, id string, patch ticket.Patch, expectedVersion int) (*ticket.Ticket, error)
	UpdateHeartbeat(ctx context.Context, id string, workerID string) error

	AppendEvent(ctx context.Context, ev *ticket.Event) error
	ListEvents(ctx context.Context, ticketID string) ([]*ticket.Event, error)

	UpsertCheckpoint(ctx context.Context, ticketID string, state map[string]any, currentStep string) error
	GetCheckpoint(ctx context.Context, ticketID string) (*ticket.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, ticketID string) error

	CreateApproval(ctx context.Context, id, ticketID, actionType string, actionParams map[string]any) (*ticket.Approval, error)
	GetApproval(ctx context.Context, id string) (*ticket.Approval, error)
	ListPendingApprovals(ctx context.Context) ([]*ticket.Approval, error)
	DecideApproval(ctx context.Context, id string, approved bool, decidedBy string, reason *string) (*ticket.Approval, error)
}

func now() time.Time { return time.Now().UTC() }
