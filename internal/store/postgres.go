package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/alpinesboltltd/ticketflow/internal/errors"
	"github.com/alpinesboltltd/ticketflow/internal/ticket"
	"gorm.io/gorm"
)

// PostgresStore is grounded on the teacher's claim-next-step CTE idiom
// (SELECT ... FOR UPDATE SKIP LOCKED ... UPDATE ... RETURNING), adapted
// here from "claim a workflow step" to "CAS a ticket by version".
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMap(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}

func (s *PostgresStore) CreateTicket(ctx context.Context, id string, customerID, subject, body string, channel ticket.Channel, metadata map[string]any) (*ticket.Ticket, error) {
	meta, err := marshalMap(metadata)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode ticket metadata", err.Error())
	}

	row := struct {
		ID         string
		CustomerID string
		Subject    string
		Body       string
		Channel    string
		Metadata   []byte
		Status     string
		Version    int
	}{
		ID: id, CustomerID: customerID, Subject: subject, Body: body,
		Channel: string(channel), Metadata: meta, Status: string(ticket.StatusPending), Version: 1,
	}

	err = s.db.WithContext(ctx).Exec(
		`INSERT INTO tickets (id, customer_id, subject, body, channel, metadata, status, attempt_count, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, now())`,
		row.ID, row.CustomerID, row.Subject, row.Body, row.Channel, row.Metadata, row.Status, row.Version,
	).Error
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.ErrAlreadyExists
		}
		return nil, fmt.Errorf("create ticket: %w", apperrors.WrapDatabaseError(err, "create_ticket"))
	}
	return s.GetTicket(ctx, id)
}

func isUniqueViolation(err error) bool {
	return err != nil && (errors.Is(err, gorm.ErrDuplicatedKey) || containsAny(err.Error(), "duplicate key", "unique constraint", "SQLSTATE 23505"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

type ticketRow struct {
	ID            string
	CustomerID    string
	Subject       string
	Body          string
	Channel       string
	Metadata      []byte
	Status        string
	Result        []byte
	WorkerID      sql.NullString
	AttemptCount  int
	Version       int
	CreatedAt     sql.NullTime
	StartedAt     sql.NullTime
	CompletedAt   sql.NullTime
	LastHeartbeat sql.NullTime
}

func (r *ticketRow) toDomain() *ticket.Ticket {
	t := &ticket.Ticket{
		ID:           r.ID,
		CustomerID:   r.CustomerID,
		Subject:      r.Subject,
		Body:         r.Body,
		Channel:      ticket.Channel(r.Channel),
		Metadata:     unmarshalMap(r.Metadata),
		Status:       ticket.Status(r.Status),
		Result:       unmarshalMap(r.Result),
		AttemptCount: r.AttemptCount,
		Version:      r.Version,
	}
	if r.WorkerID.Valid {
		id := r.WorkerID.String
		t.WorkerID = &id
	}
	if r.CreatedAt.Valid {
		t.CreatedAt = r.CreatedAt.Time
	}
	if r.StartedAt.Valid {
		st := r.StartedAt.Time
		t.StartedAt = &st
	}
	if r.CompletedAt.Valid {
		ct := r.CompletedAt.Time
		t.CompletedAt = &ct
	}
	if r.LastHeartbeat.Valid {
		hb := r.LastHeartbeat.Time
		t.LastHeartbeat = &hb
	}
	return t
}

func (s *PostgresStore) GetTicket(ctx context.Context, id string) (*ticket.Ticket, error) {
	var r ticketRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, customer_id, subject, body, channel, metadata, status, result, worker_id,
		        attempt_count, version, created_at, started_at, completed_at, last_heartbeat
		 FROM tickets WHERE id = ?`, id,
	).Scan(&r).Error
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err, "get_ticket")
	}
	if r.ID == "" {
		return nil, apperrors.ErrNotFound
	}
	return r.toDomain(), nil
}

// FindByMessageID supports email thread-reply detection: a containment
// match against the metadata jsonb column, mirroring the Supabase
// `.contains("metadata", {...})` lookup email ingestion used to find
// the ticket an inbound reply belongs to.
func (s *PostgresStore) FindByMessageID(ctx context.Context, messageID string) (*ticket.Ticket, error) {
	frag, err := marshalMap(map[string]any{"message_id": messageID})
	if err != nil {
		return nil, err
	}
	var r ticketRow
	err = s.db.WithContext(ctx).Raw(
		`SELECT id, customer_id, subject, body, channel, metadata, status, result, worker_id,
		        attempt_count, version, created_at, started_at, completed_at, last_heartbeat
		 FROM tickets WHERE metadata @> ?::jsonb ORDER BY created_at DESC LIMIT 1`, string(frag),
	).Scan(&r).Error
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err, "find_ticket_by_message_id")
	}
	if r.ID == "" {
		return nil, apperrors.ErrNotFound
	}
	return r.toDomain(), nil
}

func (s *PostgresStore) ListTickets(ctx context.Context, f ListTicketsFilter) ([]*ticket.Ticket, error) {
	page, pageSize := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	q := s.db.WithContext(ctx).Table("tickets")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var rows []ticketRow
	err := q.Order("created_at desc").Limit(pageSize).Offset(offset).
		Select("id, customer_id, subject, body, channel, metadata, status, result, worker_id, attempt_count, version, created_at, started_at, completed_at, last_heartbeat").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err, "list_tickets")
	}

	out := make([]*ticket.Ticket, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// UpdateTicket is the ticket pipeline's CAS: the teacher's
// "claim next step" CTE generalizes directly into "update iff version
// still matches expected_version, bumping version by one".
func (s *PostgresStore) UpdateTicket(ctx context.Context, id string, patch ticket.Patch, expectedVersion int) (*ticket.Ticket, error) {
	sets := []string{"version = version + 1"}
	args := []any{}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.ClearResult {
		sets = append(sets, "result = NULL")
	} else if patch.Result != nil {
		b, err := marshalMap(patch.Result)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to encode ticket result", err.Error())
		}
		sets = append(sets, "result = ?")
		args = append(args, b)
	}
	if patch.WorkerID != nil {
		sets = append(sets, "worker_id = ?")
		args = append(args, *patch.WorkerID)
	}
	if patch.AttemptCount != nil {
		sets = append(sets, "attempt_count = ?")
		args = append(args, *patch.AttemptCount)
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *patch.CompletedAt)
	}

	setClause := sets[0]
	for _, c := range sets[1:] {
		setClause += ", " + c
	}

	query := fmt.Sprintf(
		`WITH c AS (
		   SELECT id FROM tickets
		   WHERE id = ? AND version = ? AND status NOT IN ('completed', 'failed_permanent')
		 )
		 UPDATE tickets t SET %s
		 FROM c WHERE t.id = c.id
		 RETURNING t.id`, setClause)

	fullArgs := append([]any{id, expectedVersion}, args...)

	var returnedID string
	row := s.db.WithContext(ctx).Raw(query, fullArgs...).Row()
	if err := row.Scan(&returnedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No matching row: either the version no longer matches, or
			// the ticket is already terminal. Both are version races
			// from the caller's perspective.
			if _, getErr := s.GetTicket(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, apperrors.ErrVersionConflict
		}
		return nil, apperrors.WrapDatabaseError(err, "update_ticket")
	}

	return s.GetTicket(ctx, id)
}

// UpdateHeartbeat updates only last_heartbeat and worker_id, deliberately
// bypassing the version CAS (§4.1 option (a)) so a high-frequency
// heartbeat never races a legitimate step-persistence CAS issued by the
// same worker holding the lease.
func (s *PostgresStore) UpdateHeartbeat(ctx context.Context, id string, workerID string) error {
	err := s.db.WithContext(ctx).Exec(
		`UPDATE tickets SET last_heartbeat = now(), worker_id = ? WHERE id = ?`,
		workerID, id,
	).Error
	if err != nil {
		return apperrors.WrapDatabaseError(err, "update_heartbeat")
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *ticket.Event) error {
	payload, err := marshalMap(ev.Payload)
	if err != nil {
		return apperrors.NewInternalError("failed to encode event payload", err.Error())
	}
	err = s.db.WithContext(ctx).Exec(
		`INSERT INTO ticket_events (id, ticket_id, event_type, step_name, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, now())`,
		ev.ID, ev.TicketID, string(ev.EventType), ev.StepName, payload,
	).Error
	if err != nil {
		return apperrors.WrapDatabaseError(err, "append_event")
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, ticketID string) ([]*ticket.Event, error) {
	type row struct {
		ID        string
		TicketID  string
		EventType string
		StepName  sql.NullString
		Payload   []byte
		CreatedAt sql.NullTime
	}
	var rows []row
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, ticket_id, event_type, step_name, payload, created_at
		 FROM ticket_events WHERE ticket_id = ? ORDER BY created_at ASC`, ticketID,
	).Scan(&rows).Error
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err, "list_events")
	}
	out := make([]*ticket.Event, 0, len(rows))
	for _, r := range rows {
		e := &ticket.Event{ID: r.ID, TicketID: r.TicketID, EventType: ticket.EventType(r.EventType), Payload: unmarshalMap(r.Payload)}
		if r.StepName.Valid {
			name := r.StepName.String
			e.StepName = &name
		}
		if r.CreatedAt.Valid {
			e.CreatedAt = r.CreatedAt.Time
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *PostgresStore) UpsertCheckpoint(ctx context.Context, ticketID string, state map[string]any, currentStep string) error {
	b, err := marshalMap(state)
	if err != nil {
		return apperrors.NewInternalError("failed to encode checkpoint state", err.Error())
	}
	err = s.db.WithContext(ctx).Exec(
		`INSERT INTO workflow_checkpoints (ticket_id, state, current_step, updated_at)
		 VALUES (?, ?, ?, now())
		 ON CONFLICT (ticket_id) DO UPDATE SET state = EXCLUDED.state, current_step = EXCLUDED.current_step, updated_at = now()`,
		ticketID, b, currentStep,
	).Error
	if err != nil {
		return apperrors.WrapDatabaseError(err, "upsert_checkpoint")
	}
	return nil
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, ticketID string) (*ticket.Checkpoint, error) {
	type row struct {
		TicketID    string
		State       []byte
		CurrentStep string
		UpdatedAt   sql.NullTime
	}
	var r row
	err := s.db.WithContext(ctx).Raw(
		`SELECT ticket_id, state, current_step, updated_at FROM workflow_checkpoints WHERE ticket_id = ?`, ticketID,
	).Scan(&r).Error
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err, "get_checkpoint")
	}
	if r.TicketID == "" {
		return nil, apperrors.ErrNotFound
	}
	cp := &ticket.Checkpoint{TicketID: r.TicketID, State: unmarshalMap(r.State), CurrentStep: r.CurrentStep}
	if r.UpdatedAt.Valid {
		cp.UpdatedAt = r.UpdatedAt.Time
	}
	return cp, nil
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, ticketID string) error {
	err := s.db.WithContext(ctx).Exec(`DELETE FROM workflow_checkpoints WHERE ticket_id = ?`, ticketID).Error
	if err != nil {
		return apperrors.WrapDatabaseError(err, "delete_checkpoint")
	}
	return nil
}

func (s *PostgresStore) CreateApproval(ctx context.Context, id, ticketID, actionType string, actionParams map[string]any) (*ticket.Approval, error) {
	b, err := marshalMap(actionParams)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode approval params", err.Error())
	}
	err = s.db.WithContext(ctx).Exec(
		`INSERT INTO approval_requests (id, ticket_id, action_type, action_params, status, requested_at)
		 VALUES (?, ?, ?, ?, ?, now())`,
		id, ticketID, actionType, b, string(ticket.ApprovalPending),
	).Error
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err, "create_approval")
	}
	return s.GetApproval(ctx, id)
}

type approvalRow struct {
	ID             string
	TicketID       string
	ActionType     string
	ActionParams   []byte
	Status         string
	RequestedAt    sql.NullTime
	DecidedAt      sql.NullTime
	DecidedBy      sql.NullString
	DecisionReason sql.NullString
}

func (r *approvalRow) toDomain() *ticket.Approval {
	a := &ticket.Approval{
		ID: r.ID, TicketID: r.TicketID, ActionType: r.ActionType,
		ActionParams: unmarshalMap(r.ActionParams), Status: ticket.ApprovalStatus(r.Status),
	}
	if r.RequestedAt.Valid {
		a.RequestedAt = r.RequestedAt.Time
	}
	if r.DecidedAt.Valid {
		d := r.DecidedAt.Time
		a.DecidedAt = &d
	}
	if r.DecidedBy.Valid {
		d := r.DecidedBy.String
		a.DecidedBy = &d
	}
	if r.DecisionReason.Valid {
		d := r.DecisionReason.String
		a.DecisionReason = &d
	}
	return a
}

func (s *PostgresStore) GetApproval(ctx context.Context, id string) (*ticket.Approval, error) {
	var r approvalRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, ticket_id, action_type, action_params, status, requested_at, decided_at, decided_by, decision_reason
		 FROM approval_requests WHERE id = ?`, id,
	).Scan(&r).Error
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err, "get_approval")
	}
	if r.ID == "" {
		return nil, apperrors.ErrNotFound
	}
	return r.toDomain(), nil
}

func (s *PostgresStore) ListPendingApprovals(ctx context.Context) ([]*ticket.Approval, error) {
	var rows []approvalRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, ticket_id, action_type, action_params, status, requested_at, decided_at, decided_by, decision_reason
		 FROM approval_requests WHERE status = ? ORDER BY requested_at ASC`, string(ticket.ApprovalPending),
	).Scan(&rows).Error
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err, "list_pending_approvals")
	}
	out := make([]*ticket.Approval, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// DecideApproval CASes the approval row from pending to approved/rejected;
// returns ErrAlreadyDecided if the row was no longer pending.
func (s *PostgresStore) DecideApproval(ctx context.Context, id string, approved bool, decidedBy string, reason *string) (*ticket.Approval, error) {
	newStatus := ticket.ApprovalRejected
	if approved {
		newStatus = ticket.ApprovalApproved
	}

	var returnedID string
	row := s.db.WithContext(ctx).Raw(
		`WITH c AS (SELECT id FROM approval_requests WHERE id = ? AND status = ?)
		 UPDATE approval_requests a SET status = ?, decided_at = now(), decided_by = ?, decision_reason = ?
		 FROM c WHERE a.id = c.id
		 RETURNING a.id`,
		id, string(ticket.ApprovalPending), string(newStatus), decidedBy, reason,
	).Row()
	if err := row.Scan(&returnedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrAlreadyDecided
		}
		return nil, apperrors.WrapDatabaseError(err, "decide_approval")
	}
	return s.GetApproval(ctx, id)
}
