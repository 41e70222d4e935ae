package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scripted client for tests: it returns the queued responses
// in order, then an error when the script runs out.
type MockClient struct {
	mu        sync.Mutex
	model     string
	script    []ScriptStep
	callCount int
	requests  []CompletionRequest
}

// ScriptStep is one queued mock outcome.
type ScriptStep struct {
	Response CompletionResponse
	Err      error
}

// NewMockClient creates a scripted client.
func NewMockClient(model string, script ...ScriptStep) *MockClient {
	return &MockClient{model: model, script: script}
}

// Enqueue appends a response to the script.
func (m *MockClient) Enqueue(step ScriptStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, step)
}

// ModelName returns the configured model name.
func (m *MockClient) ModelName() string {
	return m.model
}

// Complete pops the next scripted step.
func (m *MockClient) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.callCount >= len(m.script) {
		return CompletionResponse{}, fmt.Errorf("mock script exhausted after %d calls", m.callCount)
	}
	step := m.script[m.callCount]
	m.callCount++
	if step.Err != nil {
		return CompletionResponse{}, step.Err
	}
	return step.Response, nil
}

// CallCount returns how many completions were requested.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Requests returns a copy of the captured requests for assertions.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// TextStep scripts a plain final-text response.
func TextStep(content string) ScriptStep {
	return ScriptStep{Response: CompletionResponse{
		Content:    content,
		StopReason: "end_turn",
		Usage:      Usage{PromptTokens: 10, CompletionTokens: 5},
	}}
}

// ToolStep scripts a response that requests the given tool calls.
func ToolStep(calls ...ToolCall) ScriptStep {
	return ScriptStep{Response: CompletionResponse{
		ToolCalls:  calls,
		StopReason: "tool_use",
		Usage:      Usage{PromptTokens: 10, CompletionTokens: 5},
	}}
}

// ErrStep scripts a failure.
func ErrStep(err error) ScriptStep {
	return ScriptStep{Err: err}
}
