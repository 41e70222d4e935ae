package machine

import (
	"time"

	"reasonrt/pkg/fanout"
	"reasonrt/pkg/llm"
	"reasonrt/pkg/tools"
)

// Directive is the sealed set of side effects the machine asks its executor
// to perform. Directives are pure data; the machine never executes them.
type Directive interface {
	// Type returns a stable identifier for logging and dispatch.
	Type() string
}

// LLMCallDirective asks the executor to run one model completion.
type LLMCallDirective struct {
	ID       string
	Model    string
	Messages []llm.Message
	Tools    []tools.ToolDefinition
	// DisableTools suppresses tool advertisement for this one call (used by
	// the synthesis follow-up).
	DisableTools bool
	MaxTokens    int
	Metadata     map[string]string
}

// Type identifies the directive.
func (LLMCallDirective) Type() string { return "llm_call" }

// ToolCallDirective asks the executor to run one tool under its contract.
type ToolCallDirective struct {
	ID           string
	ToolName     string
	Arguments    map[string]any
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Type identifies the directive.
func (ToolCallDirective) Type() string { return "tool_call" }

// SpawnWorkerDirective asks the executor to start one child runtime over a
// group of chunks.
type SpawnWorkerDirective struct {
	Tag      string
	Query    string
	ChunkIDs []string
	// Chunks carries the assigned segments themselves, so the executor needs
	// no access to the parent's state.
	Chunks []fanout.Chunk
	// Depth is the child's remaining recursion depth; zero disables further
	// spawning in the child.
	Depth int
}

// Type identifies the directive.
func (SpawnWorkerDirective) Type() string { return "spawn_worker" }

// CancelWorkerDirective forwards a best-effort cancellation to one child.
type CancelWorkerDirective struct {
	Tag    string
	Reason string
}

// Type identifies the directive.
func (CancelWorkerDirective) Type() string { return "cancel_worker" }

// EmitSignalDirective publishes an observability signal. The machine attaches
// no meaning to the catalog; it is carried through to the integration layer.
type EmitSignalDirective struct {
	Signal  string
	Payload map[string]any
}

// Type identifies the directive.
func (EmitSignalDirective) Type() string { return "emit_signal" }

// EmitRequestErrorDirective reports a request-level rejection (busy,
// validation) for a request that never entered the machine.
type EmitRequestErrorDirective struct {
	RequestID string
	Reason    string
}

// Type identifies the directive.
func (EmitRequestErrorDirective) Type() string { return "emit_request_error" }

// Signal names emitted by the machine. The concrete catalog consumed by
// telemetry lives in the integration layer.
const (
	SignalRequestCompleted = "request_completed"
	SignalRequestFailed    = "request_failed"
	SignalFanoutStarted    = "fanout_started"
	SignalSynthesisStarted = "synthesis_started"
)
