// Package legacy is the linear six-step pipeline graph: classify,
// extract, research, draft, review, finalize. Grounded on the
// teacher's executor step switch, generalized from its four ad-hoc
// steps to the full chain. classify, extract, draft and review each make
// one narrowly-scoped LLM call; research makes no LLM call and gathers
// context from the query_help_articles and get_customer_history tools;
// finalize makes no LLM call and copies the draft into the final response.
package legacy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alpinesboltltd/ticketflow/internal/llm"
	"github.com/alpinesboltltd/ticketflow/internal/tool"
	"github.com/alpinesboltltd/ticketflow/internal/workflow"
)

var stepOrder = []string{"classify", "extract", "research", "draft", "review", "finalize"}

type Runner struct {
	client   llm.Client
	registry *tool.Registry
}

func NewRunner(client llm.Client, registry *tool.Registry) *Runner {
	return &Runner{client: client, registry: registry}
}

func (r *Runner) InitialStep() string { return stepOrder[0] }

func nextOf(step string) string {
	for i, s := range stepOrder {
		if s == step && i+1 < len(stepOrder) {
			return stepOrder[i+1]
		}
	}
	return ""
}

func (r *Runner) Step(ctx context.Context, st *workflow.State, stepName string) (workflow.StepResult, error) {
	switch stepName {
	case "classify":
		return r.classify(ctx, st)
	case "extract":
		return r.extract(ctx, st)
	case "research":
		return r.research(ctx, st)
	case "draft":
		return r.draft(ctx, st)
	case "review":
		return r.review(ctx, st)
	case "finalize":
		return r.finalize(ctx, st)
	default:
		return workflow.StepResult{}, fmt.Errorf("unknown legacy step %q", stepName)
	}
}

func (r *Runner) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := r.client.Complete(ctx, llm.CompleteRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Text: prompt}},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (r *Runner) classify(ctx context.Context, st *workflow.State) (workflow.StepResult, error) {
	prompt := fmt.Sprintf(`Classify this customer support ticket into exactly one category.

Categories: billing, technical, account, general.

Subject: %s
Body: %s

Respond with only the category name.`, st.Subject, st.Body)

	text, err := r.complete(ctx, prompt)
	if err != nil {
		return workflow.StepResult{}, err
	}
	classification := strings.ToLower(strings.TrimSpace(text))
	switch classification {
	case "billing", "technical", "account", "general":
	default:
		classification = "general"
	}
	return workflow.StepResult{
		Patch:    map[string]any{"classification": classification},
		Routing:  workflow.RouteContinue,
		NextStep: nextOf("classify"),
	}, nil
}

func (r *Runner) extract(ctx context.Context, st *workflow.State) (workflow.StepResult, error) {
	prompt := fmt.Sprintf(`Extract key entities from this customer support ticket as JSON with keys
order_id, product, issue_type, urgency (low|medium|high).

Subject: %s
Body: %s

Respond with JSON only.`, st.Subject, st.Body)

	text, err := r.complete(ctx, prompt)
	if err != nil {
		return workflow.StepResult{}, err
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var entities map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &entities); err != nil {
		entities = map[string]any{"order_id": nil, "product": nil, "issue_type": "unknown", "urgency": "medium"}
	}
	return workflow.StepResult{
		Patch:    map[string]any{"entities": entities},
		Routing:  workflow.RouteContinue,
		NextStep: nextOf("extract"),
	}, nil
}

func (r *Runner) research(ctx context.Context, st *workflow.State) (workflow.StepResult, error) {
	var notes []string

	if t, ok := r.registry.Get("query_help_articles"); ok {
		if out, err := t.Execute(ctx, map[string]any{"search_term": st.Subject}); err == nil {
			notes = append(notes, out)
		}
	}
	if t, ok := r.registry.Get("get_customer_history"); ok {
		if out, err := t.Execute(ctx, map[string]any{"customer_id": st.CustomerID}); err == nil {
			notes = append(notes, out)
		}
	}

	return workflow.StepResult{
		Patch:    map[string]any{"research_results": strings.Join(notes, "\n")},
		Routing:  workflow.RouteContinue,
		NextStep: nextOf("research"),
	}, nil
}

func (r *Runner) draft(ctx context.Context, st *workflow.State) (workflow.StepResult, error) {
	prompt := fmt.Sprintf(`Write a helpful, professional customer support response.

Category: %s
Subject: %s
Body: %s
Extracted information: %v
Relevant context:
%s

Be specific and actionable. Do not invent information not present above.`,
		st.Classification, st.Subject, st.Body, st.Entities, st.ResearchResults)

	text, err := r.complete(ctx, prompt)
	if err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.StepResult{
		Patch:    map[string]any{"draft_response": text},
		Routing:  workflow.RouteContinue,
		NextStep: nextOf("draft"),
	}, nil
}

func (r *Runner) review(ctx context.Context, st *workflow.State) (workflow.StepResult, error) {
	prompt := fmt.Sprintf(`Review this draft support response for tone, accuracy, and unwarranted promises.
Give 2-3 sentences of notes.

Subject: %s
Body: %s
Draft: %s`, st.Subject, st.Body, st.DraftResponse)

	text, err := r.complete(ctx, prompt)
	if err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.StepResult{
		Patch:    map[string]any{"review_notes": text},
		Routing:  workflow.RouteContinue,
		NextStep: nextOf("review"),
	}, nil
}

func (r *Runner) finalize(ctx context.Context, st *workflow.State) (workflow.StepResult, error) {
	return workflow.StepResult{
		Patch:   map[string]any{"final_response": st.DraftResponse},
		Routing: workflow.RouteEnd,
	}, nil
}
