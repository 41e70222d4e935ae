package machine

import "reasonrt/pkg/llm"

// Snapshot is the externally visible projection of a state, shaped for
// polling callers: the same structure whether the request is still running or
// already terminal.
type Snapshot struct {
	Status    Status    `json:"status"`
	Done      bool      `json:"done"`
	Result    string    `json:"result,omitempty"`
	Reason    Reason    `json:"reason,omitempty"`
	Iteration int       `json:"iteration"`
	Streaming string    `json:"streaming,omitempty"`
	Usage     llm.Usage `json:"usage"`

	PendingTools int `json:"pending_tools,omitempty"`
	WorkersLive  int `json:"workers_live,omitempty"`
	WorkersDone  int `json:"workers_done,omitempty"`
}

// TakeSnapshot projects a state for external observers.
func TakeSnapshot(st State) Snapshot {
	snap := Snapshot{
		Status:    st.Status,
		Done:      st.Status.Terminal(),
		Result:    st.Result,
		Reason:    st.TerminationReason,
		Iteration: st.Iteration,
		Streaming: st.StreamingText,
		Usage:     st.Usage,
	}
	for _, id := range st.PendingOrder {
		if rec, ok := st.PendingToolCalls[id]; ok && rec.Status == ToolCallPending {
			snap.PendingTools++
		}
	}
	for _, tag := range st.WorkerOrder {
		switch st.Workers[tag].Status {
		case WorkerCompleted, WorkerFailed:
			snap.WorkersDone++
		default:
			snap.WorkersLive++
		}
	}
	return snap
}
