package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpinesboltltd/ticketflow/internal/llm"
	"github.com/alpinesboltltd/ticketflow/internal/tool"
	"github.com/alpinesboltltd/ticketflow/internal/workflow"
)

// scriptedClient replays one CompleteResponse per call, in order, so a
// test can script an exact agent/tools/agent round trip.
type scriptedClient struct {
	responses []*llm.CompleteResponse
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.CompleteRequest) (*llm.CompleteResponse, error) {
	if c.calls >= len(c.responses) {
		return nil, errors.New("scriptedClient called more times than scripted")
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func newState() *workflow.State {
	return &workflow.State{TicketID: "tk-1", CustomerID: "cust-1", Subject: "Order question", Body: "Where is my order?"}
}

// runToEnd drives Step/ApplyPatch in the same pattern worker.process
// uses, stopping at RouteEnd or RouteAwaitApproval.
func runToEnd(t *testing.T, r *Runner, st *workflow.State) (workflow.StepResult, string) {
	step := r.InitialStep()
	for i := 0; i < 10; i++ {
		result, err := r.Step(context.Background(), st, step)
		require.NoError(t, err)
		workflow.ApplyPatch(st, result.Patch)
		if result.Routing != workflow.RouteContinue {
			return result, step
		}
		step = result.NextStep
	}
	t.Fatal("workflow did not terminate within 10 steps")
	return workflow.StepResult{}, ""
}

func TestAgentStepEndsImmediatelyWithNoToolCalls(t *testing.T) {
	client := &scriptedClient{responses: []*llm.CompleteResponse{
		{Text: "Your order shipped yesterday and should arrive Friday.", StopReason: llm.StopEndTurn},
	}}
	registry := tool.NewRegistry()
	r := NewRunner(client, registry, 8)
	st := newState()

	result, step := runToEnd(t, r, st)

	assert.Equal(t, "agent", step)
	assert.Equal(t, workflow.RouteEnd, result.Routing)
	assert.Equal(t, "Your order shipped yesterday and should arrive Friday.", st.FinalResponse)
}

func TestAgentToolLoopExecutesAutoApproveToolAndReturns(t *testing.T) {
	lookupCalled := false
	registry := tool.NewRegistry(&tool.Tool{
		Name:          "check_order_status",
		ApprovalClass: tool.AutoApprove,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			lookupCalled = true
			assert.Equal(t, "ord_1", args["order_id"])
			return "order ord_1: shipped, arriving Friday", nil
		},
	})
	client := &scriptedClient{responses: []*llm.CompleteResponse{
		{
			ToolCalls:  []llm.ToolCall{{ID: "call-1", Name: "check_order_status", Input: map[string]any{"order_id": "ord_1"}}},
			StopReason: llm.StopToolUse,
		},
		{Text: "Your order ord_1 has shipped and arrives Friday.", StopReason: llm.StopEndTurn},
	}}
	r := NewRunner(client, registry, 8)
	st := newState()

	result, step := runToEnd(t, r, st)

	assert.True(t, lookupCalled)
	assert.Equal(t, "agent", step)
	assert.Equal(t, workflow.RouteEnd, result.Routing)
	assert.Equal(t, "Your order ord_1 has shipped and arrives Friday.", st.FinalResponse)
	require.Len(t, st.ActionsTaken, 1)
	assert.Equal(t, "check_order_status", st.ActionsTaken[0]["tool"])
}

func TestAgentRoutesToAwaitApprovalForGatedTool(t *testing.T) {
	toolInvoked := false
	registry := tool.NewRegistry(&tool.Tool{
		Name:          "process_refund",
		ApprovalClass: tool.RequiresApproval,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			toolInvoked = true
			return "should not run inline", nil
		},
	})
	client := &scriptedClient{responses: []*llm.CompleteResponse{
		{
			ToolCalls:  []llm.ToolCall{{ID: "call-1", Name: "process_refund", Input: map[string]any{"order_id": "ord_1"}}},
			StopReason: llm.StopToolUse,
		},
	}}
	r := NewRunner(client, registry, 8)
	st := newState()

	result, step := runToEnd(t, r, st)

	assert.False(t, toolInvoked, "a gated tool must never execute inline in the agent loop")
	assert.Equal(t, "agent", step)
	assert.Equal(t, workflow.RouteAwaitApproval, result.Routing)
	require.NotNil(t, st.PendingApproval)
	assert.Equal(t, "process_refund", st.PendingApproval.Tool)
	assert.Equal(t, "ord_1", st.PendingApproval.Args["order_id"])
	assert.Contains(t, st.FinalResponse, "process_refund")
	assert.Contains(t, st.FinalResponse, "requires approval")
}

func TestAgentStepFallsBackAfterMaxRounds(t *testing.T) {
	registry := tool.NewRegistry()
	r := NewRunner(nil, registry, 0)
	st := newState()
	for i := 0; i < r.maxRounds; i++ {
		st.Messages = append(st.Messages, llm.Message{Role: llm.RoleAssistant, Text: "..."})
	}

	result, err := r.Step(context.Background(), st, "agent")
	require.NoError(t, err)
	workflow.ApplyPatch(st, result.Patch)

	assert.Equal(t, workflow.RouteEnd, result.Routing)
	assert.Equal(t, fallbackResponse, st.FinalResponse)
}
