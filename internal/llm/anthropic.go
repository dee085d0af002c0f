package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// AnthropicClient is grounded on the teacher's AnthropicProvider client
// construction and message-building pattern, generalized here to carry
// tool declarations and decode tool_use blocks for the agent workflow's
// reason-act loop.
type AnthropicClient struct {
	client     *anthropic.Client
	model      anthropic.Model
	timeout    time.Duration
	maxRetries int
}

func NewAnthropicClient(apiKey string, model string, timeoutSeconds, maxRetries int) *AnthropicClient {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaude3_5HaikuLatest
	}
	return &AnthropicClient{
		client:     &c,
		model:      m,
		timeout:    time.Duration(timeoutSeconds) * time.Second,
		maxRetries: maxRetries,
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	params := c.buildParams(req)

	var lastErr error
	attempts := c.maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		message, err := c.client.Messages.New(callCtx, params)
		cancel()
		if err == nil {
			return toCompleteResponse(message), nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("anthropic completion failed after %d attempts: %w", attempts, lastErr)
}

func (c *AnthropicClient) buildParams(req CompleteRequest) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System, Type: constant.Text("text")}}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser:
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			for _, tr := range m.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			if len(blocks) > 0 {
				params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
			}
		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
			}
			if len(blocks) > 0 {
				params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}

	for _, ts := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        ts.Name,
				Description: anthropic.String(ts.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: ts.InputSchema["properties"],
				},
			},
		})
	}

	return params
}

func toCompleteResponse(message *anthropic.Message) *CompleteResponse {
	resp := &CompleteResponse{StopReason: StopReason(message.StopReason)}
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += variant.Text
		case anthropic.ToolUseBlock:
			var input map[string]any
			_ = json.Unmarshal(variant.Input, &input)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: input,
			})
		}
	}
	return resp
}
