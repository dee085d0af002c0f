// Package tool is the canonical registry of actions the agent workflow
// may invoke: information lookups served straight from the domain
// tables, and action tools gated by approval classification.
package tool

import (
	"context"

	"github.com/alpinesboltltd/ticketflow/internal/llm"
)

type ApprovalClass string

const (
	AutoApprove      ApprovalClass = "auto_approve"
	RequiresApproval ApprovalClass = "requires_approval"
)

// Tool is one entry in the registry. Execute is invoked either directly
// by the agent's tools node (auto-approve) or by the approval service
// after a human decision (requires-approval).
type Tool struct {
	Name          string
	Description   string
	InputSchema   map[string]any
	ApprovalClass ApprovalClass
	Execute       func(ctx context.Context, args map[string]any) (string, error)
}

// Registry indexes every declared tool by name and answers the
// workflow engine's approval-classification lookup.
type Registry struct {
	tools map[string]*Tool
	order []string
}

func NewRegistry(tools ...*Tool) *Registry {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r
}

func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) RequiresApproval(name string) bool {
	t, ok := r.tools[name]
	return ok && t.ApprovalClass == RequiresApproval
}

// Specs returns the tool catalog in registration order, shaped for an
// llm.CompleteRequest.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, llm.ToolSpec{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return specs
}
