// Package machine implements the pure reasoning-strategy state machine: a
// transition function from (state, event) to (state, directives) with no side
// effects, specialized per strategy through the Strategy interface.
package machine

import (
	"reasonrt/pkg/fanout"
	"reasonrt/pkg/llm"
)

// Status is the machine's top-level state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusAwaitingLLM  Status = "awaiting_llm"
	StatusAwaitingTool Status = "awaiting_tool"
	// StatusPreparing covers the fan-out sub-phases (chunking, spawning).
	StatusPreparing Status = "preparing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether st accepts no further progress events.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Phase is the fan-out sub-phase within StatusPreparing.
type Phase string

const (
	PhaseNone      Phase = ""
	PhaseChunking  Phase = "chunking"
	PhaseSpawning  Phase = "spawning"
	PhaseSynthesis Phase = "synthesis"
)

// Reason explains a terminal error status.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonCancelled     Reason = "cancelled"
	ReasonLLMError      Reason = "llm_error"
	ReasonMaxIterations Reason = "max_iterations"
	ReasonParseFailure  Reason = "parse_failure"
)

// ToolCallStatus tracks one pending tool call.
type ToolCallStatus string

const (
	ToolCallPending ToolCallStatus = "pending"
	ToolCallDone    ToolCallStatus = "done"
)

// ToolCallRecord is one tool call issued in the current round.
type ToolCallRecord struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Status    ToolCallStatus `json:"status"`
	// Output holds the conversation-ready result text once Status is done.
	Output string `json:"output,omitempty"`
}

// WorkerStatus tracks one spawned child.
type WorkerStatus string

const (
	WorkerSpawned   WorkerStatus = "spawned"
	WorkerRunning   WorkerStatus = "running"
	WorkerCompleted WorkerStatus = "completed"
	WorkerFailed    WorkerStatus = "failed"
)

// WorkerRecord is one child worker in the parent's registry.
type WorkerRecord struct {
	Tag      string       `json:"tag"`
	ChunkIDs []string     `json:"chunk_ids"`
	Status   WorkerStatus `json:"status"`
	Result   string       `json:"result,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// State is the full machine state for one strategy instance. It is owned by
// exactly one controller; Update never mutates its input.
type State struct {
	Status            Status                    `json:"status"`
	Query             string                    `json:"query,omitempty"`
	Iteration         int                       `json:"iteration"`
	Conversation      []llm.Message             `json:"conversation"`
	PendingToolCalls  map[string]ToolCallRecord `json:"pending_tool_calls,omitempty"`
	PendingOrder      []string                  `json:"pending_tool_call_order,omitempty"`
	CurrentLLMCallID  string                    `json:"current_llm_call_id,omitempty"`
	StreamingText     string                    `json:"streaming_text,omitempty"`
	ParseRetries      int                       `json:"parse_retries"`
	TerminationReason Reason                    `json:"termination_reason,omitempty"`
	Result            string                    `json:"result,omitempty"`
	Usage             llm.Usage                 `json:"usage"`

	// Fan-out bookkeeping, meaningful only for decomposing strategies.
	Phase       Phase                   `json:"phase,omitempty"`
	Chunks      []fanout.Chunk          `json:"chunks,omitempty"`
	Workers     map[string]WorkerRecord `json:"workers,omitempty"`
	WorkerOrder []string                `json:"worker_order,omitempty"`
	// SynthesisDone marks that the single tools-disabled follow-up has been
	// issued, so later responses take the normal completion path.
	SynthesisDone bool `json:"synthesis_done,omitempty"`
}

// NewState returns an idle state.
func NewState() State {
	return State{Status: StatusIdle}
}

// clone deep-copies the mutable containers so Update can build the successor
// state without aliasing its input.
func (s State) clone() State {
	out := s
	out.Conversation = append([]llm.Message(nil), s.Conversation...)
	if s.PendingToolCalls != nil {
		out.PendingToolCalls = make(map[string]ToolCallRecord, len(s.PendingToolCalls))
		for k, v := range s.PendingToolCalls {
			out.PendingToolCalls[k] = v
		}
	}
	out.PendingOrder = append([]string(nil), s.PendingOrder...)
	out.Chunks = append([]fanout.Chunk(nil), s.Chunks...)
	if s.Workers != nil {
		out.Workers = make(map[string]WorkerRecord, len(s.Workers))
		for k, v := range s.Workers {
			out.Workers[k] = v
		}
	}
	out.WorkerOrder = append([]string(nil), s.WorkerOrder...)
	return out
}

// pendingComplete reports whether every issued tool call has a result.
func (s *State) pendingComplete() bool {
	if len(s.PendingOrder) == 0 {
		return false
	}
	for _, id := range s.PendingOrder {
		if rec, ok := s.PendingToolCalls[id]; !ok || rec.Status != ToolCallDone {
			return false
		}
	}
	return true
}

// workersComplete reports whether every spawned worker has reported a
// terminal outcome (success and failure both count).
func (s *State) workersComplete() bool {
	if len(s.WorkerOrder) == 0 {
		return false
	}
	for _, tag := range s.WorkerOrder {
		rec, ok := s.Workers[tag]
		if !ok {
			return false
		}
		if rec.Status != WorkerCompleted && rec.Status != WorkerFailed {
			return false
		}
	}
	return true
}
