package entity

import "time"

// GORM entities for the ticket processing pipeline's Store (spec §3).

type Ticket struct {
	ID            string     `gorm:"type:uuid;primaryKey"`
	CustomerID    string     `gorm:"type:text;not null;index"`
	Subject       string     `gorm:"type:text;not null"`
	Body          string     `gorm:"type:text;not null"`
	Channel       string     `gorm:"type:text;not null;default:'http'"`
	Metadata      []byte     `gorm:"type:jsonb"`
	Status        string     `gorm:"type:text;not null;index"`
	Result        []byte     `gorm:"type:jsonb"`
	WorkerID      *string    `gorm:"type:text"`
	AttemptCount  int        `gorm:"not null;default:0"`
	Version       int        `gorm:"not null;default:1"`
	CreatedAt     time.Time  `gorm:"not null"`
	StartedAt     *time.Time
	CompletedAt   *time.Time
	LastHeartbeat *time.Time
}

func (Ticket) TableName() string { return "tickets" }

type TicketEvent struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	TicketID  string    `gorm:"type:uuid;not null;index"`
	EventType string    `gorm:"type:text;not null"`
	StepName  *string   `gorm:"type:text"`
	Payload   []byte    `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (TicketEvent) TableName() string { return "ticket_events" }

type WorkflowCheckpoint struct {
	TicketID    string `gorm:"type:uuid;primaryKey"`
	State       []byte `gorm:"type:jsonb"`
	CurrentStep string `gorm:"type:text;not null"`
	UpdatedAt   time.Time
}

func (WorkflowCheckpoint) TableName() string { return "workflow_checkpoints" }

type ApprovalRequest struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	TicketID       string  `gorm:"type:uuid;not null;index"`
	ActionType     string  `gorm:"type:text;not null"`
	ActionParams   []byte  `gorm:"type:jsonb"`
	Status         string  `gorm:"type:text;not null;index"`
	RequestedAt    time.Time
	DecidedAt      *time.Time
	DecidedBy      *string `gorm:"type:text"`
	DecisionReason *string `gorm:"type:text"`
}

func (ApprovalRequest) TableName() string { return "approval_requests" }

// Domain fixtures backing the tool catalog (spec §4.5/§4.6). Read-mostly;
// seeded for demo/test purposes, out of the pipeline's core scope.

type Customer struct {
	ID        string `gorm:"type:text;primaryKey"`
	Email     string `gorm:"type:text;not null"`
	Name      string `gorm:"type:text"`
	Tier      string `gorm:"type:text;default:'standard'"`
	CreatedAt time.Time
}

func (Customer) TableName() string { return "customers" }

type Product struct {
	ID    string `gorm:"type:text;primaryKey"`
	Name  string `gorm:"type:text;not null"`
	Price float64
}

func (Product) TableName() string { return "products" }

type Order struct {
	ID         string `gorm:"type:text;primaryKey"`
	CustomerID string `gorm:"type:text;index"`
	Status     string `gorm:"type:text;not null"`
	Total      float64
	Tracking   *string `gorm:"type:text"`
	CreatedAt  time.Time
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID        uint   `gorm:"primaryKey"`
	OrderID   string `gorm:"type:text;index"`
	ProductID string `gorm:"type:text"`
	Quantity  int
}

func (OrderItem) TableName() string { return "order_items" }

type HelpArticle struct {
	ID       string `gorm:"type:text;primaryKey"`
	Category string `gorm:"type:text;index"`
	Title    string `gorm:"type:text;not null"`
	Body     string `gorm:"type:text;not null"`
}

func (HelpArticle) TableName() string { return "help_articles" }
