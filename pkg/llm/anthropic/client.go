// Package anthropic adapts the Anthropic Claude API to the llm.Client
// interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"reasonrt/pkg/llm"
	"reasonrt/pkg/llm/llmerrors"
	"reasonrt/pkg/tools"
)

// Client wraps the Anthropic SDK.
type Client struct {
	client anthropicsdk.Client
	model  anthropicsdk.Model
}

// New creates a client for the given model.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropicsdk.Model(model),
	}
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	return string(c.model)
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, messages, err := buildMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeBadPrompt, err.Error())
	}

	params := anthropicsdk.MessageNewParams{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: int64(in.MaxTokens),
	}
	if in.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(float64(in.Temperature))
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt, Type: "text"}}
	}
	if len(in.Tools) > 0 {
		params.Tools = buildTools(in.Tools)
		params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{
			OfAuto: &anthropicsdk.ToolChoiceAutoParam{},
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classify(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "empty response from Anthropic API")
	}

	var content string
	var toolCalls []llm.ToolCall
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			content += block.AsText().Text
		case "tool_use":
			use := block.AsToolUse()
			var args map[string]any
			if err := json.Unmarshal(use.Input, &args); err != nil {
				return llm.CompletionResponse{}, fmt.Errorf("parse tool input for %s: %w", use.Name, err)
			}
			toolCalls = append(toolCalls, llm.ToolCall{ID: use.ID, Name: use.Name, Parameters: args})
		}
	}

	return llm.CompletionResponse{
		Content:    content,
		ToolCalls:  toolCalls,
		StopReason: string(resp.StopReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// buildMessages extracts system text to the top-level parameter and folds the
// rest into the strict user/assistant alternation the API requires. Tool
// results become user text; their pairing travels in the conversation order.
func buildMessages(messages []llm.Message) (string, []anthropicsdk.MessageParam, error) {
	if len(messages) == 0 {
		return "", nil, errors.New("message list cannot be empty")
	}

	var systemParts []string
	var out []anthropicsdk.MessageParam
	var userParts []string

	flushUser := func() {
		if len(userParts) == 0 {
			return
		}
		out = append(out, anthropicsdk.NewUserMessage(
			anthropicsdk.NewTextBlock(strings.Join(userParts, "\n\n"))))
		userParts = nil
	}

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case llm.RoleAssistant:
			flushUser()
			blocks := []anthropicsdk.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, tc.Parameters, tc.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropicsdk.NewTextBlock("(continuing)"))
			}
			out = append(out, anthropicsdk.NewAssistantMessage(blocks...))
		case llm.RoleTool:
			flushUser()
			out = append(out, anthropicsdk.NewUserMessage(
				anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		default:
			userParts = append(userParts, msg.Content)
		}
	}
	flushUser()

	if len(out) == 0 {
		return "", nil, errors.New("must have at least one non-system message")
	}
	return strings.Join(systemParts, "\n\n"), out, nil
}

func buildTools(defs []tools.ToolDefinition) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		props := make(map[string]any, len(def.InputSchema.Properties))
		for name, prop := range def.InputSchema.Properties {
			propMap := map[string]any{"type": prop.Type}
			if prop.Description != "" {
				propMap["description"] = prop.Description
			}
			if len(prop.Enum) > 0 {
				propMap["enum"] = prop.Enum
			}
			props[name] = propMap
		}
		schema := anthropicsdk.ToolInputSchemaParam{
			Type:       "object",
			Properties: props,
			Required:   def.InputSchema.Required,
		}
		out = append(out, anthropicsdk.ToolUnionParamOfTool(schema, def.Name))
	}
	return out
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.New(llmerrors.ErrorTypeTransient, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.New(llmerrors.ErrorTypeTransient, "request canceled")
	}
	return llmerrors.Classify(err)
}
