// Package openai adapts the OpenAI chat completions API to the llm.Client
// interface.
package openai

import (
	"context"
	"encoding/json"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"reasonrt/pkg/llm"
	"reasonrt/pkg/llm/llmerrors"
	"reasonrt/pkg/tools"
)

// Client wraps the official OpenAI SDK.
type Client struct {
	client openaisdk.Client
	model  string
}

// New creates a client for the given model.
func New(apiKey, model string) *Client {
	return &Client{
		client: openaisdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	return c.model
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: buildMessages(in.Messages),
	}
	if in.MaxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(in.MaxTokens))
	}
	if in.Temperature > 0 {
		params.Temperature = openaisdk.Float(float64(in.Temperature))
	}
	if len(in.Tools) > 0 {
		params.Tools = buildTools(in.Tools)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI API")
	}

	choice := resp.Choices[0]
	out := llm.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				continue
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Parameters: args,
		})
	}
	return out, nil
}

func buildMessages(messages []llm.Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openaisdk.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openaisdk.AssistantMessage(msg.Content))
				continue
			}
			assistant := openaisdk.ChatCompletionAssistantMessageParam{
				ToolCalls: make([]openaisdk.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls)),
			}
			if msg.Content != "" {
				assistant.Content = openaisdk.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openaisdk.String(msg.Content),
				}
			}
			for _, tc := range msg.ToolCalls {
				raw, err := json.Marshal(tc.Parameters)
				if err != nil {
					raw = []byte("{}")
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(raw),
					},
				})
			}
			out = append(out, openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case llm.RoleTool:
			out = append(out, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openaisdk.UserMessage(msg.Content))
		}
	}
	return out
}

func buildTools(defs []tools.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, 0, len(defs))
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
		out = append(out, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openaisdk.String(def.Description),
				Parameters: shared.FunctionParameters(map[string]any{
					"type":       "object",
					"properties": props,
					"required":   def.InputSchema.Required,
				}),
			},
		})
	}
	return out
}
