// Package workflow is the directed-graph step interpreter: each step
// consumes the current state and returns a patch plus a routing
// decision, which the worker applies and checkpoints one step at a
// time (see internal/worker).
package workflow

import (
	"encoding/json"

	"github.com/alpinesboltltd/ticketflow/internal/llm"
)

// State is the workflow's running state: typed core fields for the
// values every graph cares about, plus an opaque Extra map for
// graph-specific or provider-specific data (e.g. email threading
// headers) that doesn't deserve a named field.
type State struct {
	TicketID   string
	CustomerID string
	Subject    string
	Body       string

	// Legacy-pipeline fields.
	Classification  string
	Entities        map[string]any
	ResearchResults string
	DraftResponse   string
	ReviewNotes     string

	// Agent-graph fields.
	Messages        []llm.Message
	ActionsTaken    []map[string]any
	PendingApproval *PendingApproval

	FinalResponse string
	Error         string

	Extra map[string]any
}

// PendingApproval mirrors the sentinel the agent node surfaces when the
// model proposes a gated tool call.
type PendingApproval struct {
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	ToolCallID string         `json:"tool_call_id"`
}

// Routing is the signal a step returns alongside its patch.
type Routing string

const (
	RouteContinue      Routing = "continue"
	RouteAwaitApproval Routing = "await_approval"
	RouteEnd           Routing = "end"
)

// StepResult is what a single graph node produces: a sparse patch to
// merge into State, a routing decision, and (when routing is
// RouteContinue) the name of the next step.
type StepResult struct {
	Patch    map[string]any
	Routing  Routing
	NextStep string
}

// ApplyPatch merges a sparse field patch into state. Keys matching a
// known field set that field directly; anything else is folded into
// Extra so no information is silently dropped.
func ApplyPatch(st *State, patch map[string]any) {
	if st.Extra == nil {
		st.Extra = map[string]any{}
	}
	for k, v := range patch {
		switch k {
		case "classification":
			if s, ok := v.(string); ok {
				st.Classification = s
			}
		case "entities":
			if m, ok := v.(map[string]any); ok {
				st.Entities = m
			}
		case "research_results":
			if s, ok := v.(string); ok {
				st.ResearchResults = s
			}
		case "draft_response":
			if s, ok := v.(string); ok {
				st.DraftResponse = s
			}
		case "review_notes":
			if s, ok := v.(string); ok {
				st.ReviewNotes = s
			}
		case "final_response":
			if s, ok := v.(string); ok {
				st.FinalResponse = s
			}
		case "error":
			if s, ok := v.(string); ok {
				st.Error = s
			}
		case "pending_approval":
			if pa, ok := v.(*PendingApproval); ok {
				st.PendingApproval = pa
			} else if v == nil {
				st.PendingApproval = nil
			}
		case "actions_taken_append":
			if m, ok := v.(map[string]any); ok {
				st.ActionsTaken = append(st.ActionsTaken, m)
			}
		case "messages_append":
			if msg, ok := v.(llm.Message); ok {
				st.Messages = append(st.Messages, msg)
			}
		default:
			st.Extra[k] = v
		}
	}
}

// Marshal/Unmarshal round-trip State through the checkpoint store's
// opaque jsonb state column.
func Marshal(st *State) (map[string]any, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func Unmarshal(m map[string]any) (*State, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
