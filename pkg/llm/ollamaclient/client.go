// Package ollamaclient adapts a local Ollama server to the llm.Client
// interface.
package ollamaclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"reasonrt/pkg/llm"
	"reasonrt/pkg/llm/llmerrors"
	"reasonrt/pkg/tools"
)

// Client wraps the Ollama API client.
type Client struct {
	client *api.Client
	model  string
}

// New creates a client against hostURL (e.g. "http://localhost:11434").
func New(hostURL, model string) *Client {
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Host == "" {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	return c.model
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: buildMessages(in.Messages),
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}
	if len(in.Tools) > 0 {
		req.Tools = buildTools(in.Tools)
	}

	var response api.ChatResponse
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classify(err)
	}

	out := llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: stopReason(&response),
		Usage: llm.Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
		},
	}
	for i := range response.Message.ToolCalls {
		call := &response.Message.ToolCalls[i]
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:         id,
			Name:       call.Function.Name,
			Parameters: call.Function.Arguments.ToMap(),
		})
	}
	return out, nil
}

func buildMessages(messages []llm.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		m := api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == llm.RoleTool {
			m.ToolCallID = msg.ToolCallID
		}
		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			args := api.NewToolCallFunctionArguments()
			for k, v := range tc.Parameters {
				args.Set(k, v)
			}
			m.ToolCalls = append(m.ToolCalls, api.ToolCall{
				ID: tc.ID,
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		out = append(out, m)
	}
	return out
}

func buildTools(defs []tools.ToolDefinition) api.Tools {
	out := make(api.Tools, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := api.NewToolPropertiesMap()
		for name, prop := range def.InputSchema.Properties {
			tp := api.ToolProperty{
				Type:        api.PropertyType{prop.Type},
				Description: prop.Description,
			}
			if len(prop.Enum) > 0 {
				enum := make([]any, len(prop.Enum))
				for j, v := range prop.Enum {
					enum[j] = v
				}
				tp.Enum = enum
			}
			properties.Set(name, tp)
		}
		out[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: properties,
					Required:   def.InputSchema.Required,
				},
			},
		}
	}
	return out
}

func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return llmerrors.New(llmerrors.ErrorTypeTransient, fmt.Sprintf("ollama server not reachable: %v", err))
	case strings.Contains(msg, "not found") && strings.Contains(msg, "model"):
		return llmerrors.New(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("ollama model not found: %v", err))
	default:
		return llmerrors.Classify(err)
	}
}
