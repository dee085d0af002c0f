// Package agent is the reason-act loop graph: agent, tools, finalize.
// A tool call requiring approval ends the loop at agent with
// RouteAwaitApproval instead of advancing to a further step — the
// worker never re-enters the graph for an awaiting-approval ticket, it
// hands off to the approval service instead. Grounded on
// original_source's agent.py node wiring, reimplemented as a
// step-driven interpreter per the graph's routing table rather than a
// coroutine-managed state machine.
package agent

import (
	"context"
	"fmt"

	"github.com/alpinesboltltd/ticketflow/internal/llm"
	"github.com/alpinesboltltd/ticketflow/internal/tool"
	"github.com/alpinesboltltd/ticketflow/internal/workflow"
)

const SystemPrompt = `You are an intelligent customer support agent. Resolve the customer's ticket using the tools available to you.

Query first: use tools to gather information (help articles, order status, customer history, product details) before responding.
Always verify an order exists via check_order_status before proposing a refund.
Be specific: include order numbers and tracking details in your response.
Escalate to a human when uncertain or when the customer explicitly requests one.`

const fallbackResponse = "I apologize, but I was unable to process your request. A human agent will review your ticket shortly."

type Runner struct {
	client    llm.Client
	registry  *tool.Registry
	maxRounds int
}

func NewRunner(client llm.Client, registry *tool.Registry, maxRounds int) *Runner {
	if maxRounds <= 0 {
		maxRounds = 8
	}
	return &Runner{client: client, registry: registry, maxRounds: maxRounds}
}

func (r *Runner) InitialStep() string { return "agent" }

func (r *Runner) Step(ctx context.Context, st *workflow.State, stepName string) (workflow.StepResult, error) {
	if len(st.Messages) == 0 {
		ticketMessage := fmt.Sprintf(`## Support Ticket

Ticket ID: %s
Customer ID: %s
Subject: %s

Message:
%s

Please analyze this ticket and help resolve the customer's issue.`, st.TicketID, st.CustomerID, st.Subject, st.Body)
		st.Messages = []llm.Message{{Role: llm.RoleUser, Text: ticketMessage}}
	}

	switch stepName {
	case "agent":
		return r.agentStep(ctx, st)
	case "tools":
		return r.toolsStep(ctx, st)
	case "finalize":
		return r.finalizeStep(ctx, st)
	default:
		return workflow.StepResult{}, fmt.Errorf("unknown agent step %q", stepName)
	}
}

func agentRounds(st *workflow.State) int {
	rounds := 0
	for _, m := range st.Messages {
		if m.Role == llm.RoleAssistant {
			rounds++
		}
	}
	return rounds
}

func (r *Runner) agentStep(ctx context.Context, st *workflow.State) (workflow.StepResult, error) {
	if agentRounds(st) >= r.maxRounds {
		return workflow.StepResult{
			Patch:   map[string]any{"final_response": fallbackResponse},
			Routing: workflow.RouteEnd,
		}, nil
	}

	resp, err := r.client.Complete(ctx, llm.CompleteRequest{
		System:    SystemPrompt,
		Messages:  st.Messages,
		Tools:     r.registry.Specs(),
		MaxTokens: 1024,
	})
	if err != nil {
		return workflow.StepResult{}, err
	}

	assistantMsg := llm.Message{Role: llm.RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls}
	st.Messages = append(st.Messages, assistantMsg)

	if len(resp.ToolCalls) == 0 {
		return workflow.StepResult{
			Patch:   map[string]any{"final_response": resp.Text},
			Routing: workflow.RouteEnd,
		}, nil
	}

	for _, tc := range resp.ToolCalls {
		if r.registry.RequiresApproval(tc.Name) {
			pending := &workflow.PendingApproval{Tool: tc.Name, Args: tc.Input, ToolCallID: tc.ID}
			msg := fmt.Sprintf("Your request requires approval. A support manager will review and approve the %s shortly.", tc.Name)
			return workflow.StepResult{
				Patch:   map[string]any{"pending_approval": pending, "final_response": msg},
				Routing: workflow.RouteAwaitApproval,
			}, nil
		}
	}

	return workflow.StepResult{Routing: workflow.RouteContinue, NextStep: "tools"}, nil
}

func (r *Runner) toolsStep(ctx context.Context, st *workflow.State) (workflow.StepResult, error) {
	if len(st.Messages) == 0 {
		return workflow.StepResult{}, fmt.Errorf("tools step reached with no prior assistant message")
	}
	last := st.Messages[len(st.Messages)-1]

	var results []llm.ToolResult
	actions := make([]map[string]any, 0, len(last.ToolCalls))
	for _, tc := range last.ToolCalls {
		t, ok := r.registry.Get(tc.Name)
		if !ok {
			results = append(results, llm.ToolResult{ToolCallID: tc.ID, Content: fmt.Sprintf("unknown tool %q", tc.Name), IsError: true})
			continue
		}
		out, err := t.Execute(ctx, tc.Input)
		if err != nil {
			results = append(results, llm.ToolResult{ToolCallID: tc.ID, Content: err.Error(), IsError: true})
			continue
		}
		results = append(results, llm.ToolResult{ToolCallID: tc.ID, Content: out})
		actions = append(actions, map[string]any{"tool": tc.Name, "args": tc.Input})
	}

	st.Messages = append(st.Messages, llm.Message{Role: llm.RoleUser, ToolResults: results})
	for _, a := range actions {
		st.ActionsTaken = append(st.ActionsTaken, a)
	}

	return workflow.StepResult{Routing: workflow.RouteContinue, NextStep: "agent"}, nil
}

func (r *Runner) finalizeStep(ctx context.Context, st *workflow.State) (workflow.StepResult, error) {
	response := st.FinalResponse
	if response == "" {
		response = fallbackResponse
	}
	return workflow.StepResult{
		Patch:   map[string]any{"final_response": response},
		Routing: workflow.RouteEnd,
	}, nil
}
