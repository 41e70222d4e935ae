// Package llm provides interfaces and types for language model client
// implementations, plus the retry and instrumentation wrappers applied to
// every provider.
package llm

import (
	"context"

	"reasonrt/pkg/tools"
)

// Role represents the role of a message in a conversation.
type Role string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem Role = "system"
	// RoleUser indicates a message from the human user.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant Role = "assistant"
	// RoleTool indicates a tool result being fed back to the model.
	RoleTool Role = "tool"
)

// Message represents one message in a completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCallID pairs a RoleTool message with the call that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolName names the tool for RoleTool messages.
	ToolName string `json:"tool_name,omitempty"`
	// ToolCalls carries the calls an assistant message requested, so
	// providers that pair tool results with their requests can rebuild the
	// exchange.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// CompletionRequest represents a request to generate a completion.
type CompletionRequest struct {
	Messages    []Message
	Tools       []tools.ToolDefinition
	MaxTokens   int
	Temperature float32
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns the combined token count.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Add accumulates another usage sample.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
	}
}

// CompletionResponse represents a completion result.
type CompletionResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// StreamChunk represents one chunk of a streamed completion.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// Client defines the interface for language model interactions.
type Client interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// ModelName returns the model identifier this client talks to.
	ModelName() string
}

// Streamer is implemented by clients that support incremental output.
type Streamer interface {
	// Stream generates a completion as a channel of chunks. The channel is
	// closed after the final chunk.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a tool-result message paired to a call id.
func NewToolMessage(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, ToolName: toolName}
}
