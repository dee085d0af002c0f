// Package ticket holds the domain types for the ticket processing
// pipeline, decoupled from the GORM entities that persist them.
package ticket

import "time"

type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusAwaitingApproval  Status = "awaiting_approval"
	StatusCompleted         Status = "completed"
	StatusFailedPermanent   Status = "failed_permanent"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailedPermanent
}

type Channel string

const (
	ChannelHTTP  Channel = "http"
	ChannelEmail Channel = "email"
)

type EventType string

const (
	EventCreated      EventType = "created"
	EventStatusChange EventType = "status_change"
	EventStepComplete EventType = "step_complete"
	EventError        EventType = "error"
	EventRetry        EventType = "retry"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Ticket is the core mutable record driven through the state machine.
// Version strictly increments on every CAS update; terminal statuses
// are sticky.
type Ticket struct {
	ID            string         `json:"id"`
	CustomerID    string         `json:"customer_id"`
	Subject       string         `json:"subject"`
	Body          string         `json:"body"`
	Channel       Channel        `json:"channel"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Status        Status         `json:"status"`
	Result        map[string]any `json:"result,omitempty"`
	WorkerID      *string        `json:"worker_id,omitempty"`
	AttemptCount  int            `json:"attempt_count"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	LastHeartbeat *time.Time     `json:"last_heartbeat,omitempty"`
}

// Patch carries a sparse set of field overwrites for an update_ticket
// call. Nil means "leave unchanged"; fields that must be explicitly
// clearable use double pointers or explicit sentinel values at the
// store boundary.
type Patch struct {
	Status       *Status
	Result       map[string]any
	ClearResult  bool
	WorkerID     *string
	AttemptCount *int
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

type Event struct {
	ID        string         `json:"id"`
	TicketID  string         `json:"ticket_id"`
	EventType EventType      `json:"event_type"`
	StepName  *string        `json:"step_name,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Checkpoint struct {
	TicketID    string         `json:"ticket_id"`
	State       map[string]any `json:"state,omitempty"`
	CurrentStep string         `json:"current_step"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type Approval struct {
	ID             string         `json:"id"`
	TicketID       string         `json:"ticket_id"`
	ActionType     string         `json:"action_type"`
	ActionParams   map[string]any `json:"action_params,omitempty"`
	Status         ApprovalStatus `json:"status"`
	RequestedAt    time.Time      `json:"requested_at"`
	DecidedAt      *time.Time     `json:"decided_at,omitempty"`
	DecidedBy      *string        `json:"decided_by,omitempty"`
	DecisionReason *string        `json:"decision_reason,omitempty"`
}
