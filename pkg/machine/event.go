package machine

import (
	"reasonrt/pkg/llm"
	"reasonrt/pkg/tools"
)

// Event is the sealed set of inbound occurrences the machine reacts to.
type Event interface {
	eventKind() string
}

// StartEvent begins a new request, or continues the conversation when the
// machine is in a terminal state.
type StartEvent struct {
	Query string
	// Context is the addressable body of text a decomposing strategy may
	// chunk and delegate. Empty for ordinary queries.
	Context string
}

func (StartEvent) eventKind() string { return "start" }

// LLMResultEvent delivers the outcome of one LLMCall directive.
type LLMResultEvent struct {
	CallID   string
	Response llm.CompletionResponse
	// Err is set when the call failed after client-side retries.
	Err error
}

func (LLMResultEvent) eventKind() string { return "llm_result" }

// LLMPartialEvent delivers one streamed delta for the active LLM call.
type LLMPartialEvent struct {
	CallID string
	Delta  string
}

func (LLMPartialEvent) eventKind() string { return "llm_partial" }

// ToolResultEvent delivers the single terminal result of one ToolCall
// directive.
type ToolResultEvent struct {
	CallID string
	Name   string
	Output string
	Err    *tools.ErrorInfo
}

func (ToolResultEvent) eventKind() string { return "tool_result" }

// WorkerEventKind is the terminal or progress state a child reports.
type WorkerEventKind string

const (
	WorkerEventStarted   WorkerEventKind = "started"
	WorkerEventCompleted WorkerEventKind = "completed"
	WorkerEventFailed    WorkerEventKind = "failed"
)

// WorkerEvent delivers a child worker's progress or terminal outcome.
type WorkerEvent struct {
	Tag    string
	Kind   WorkerEventKind
	Result string
	Error  string
}

func (WorkerEvent) eventKind() string { return "worker_event" }

// CancelEvent aborts the active request.
type CancelEvent struct {
	Reason string
}

func (CancelEvent) eventKind() string { return "cancel" }
