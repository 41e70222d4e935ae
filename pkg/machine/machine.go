package machine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"reasonrt/pkg/fanout"
	"reasonrt/pkg/llm"
	"reasonrt/pkg/tokens"
	"reasonrt/pkg/tools"
)

// Config carries the per-instance knobs the transition function consults.
type Config struct {
	Model           string
	MaxTokens       int
	MaxIterations   int
	MaxParseRetries int

	// Tools advertised to the model when the strategy enables them.
	Tools []tools.ToolDefinition
	// Contract applied to every ToolCallDirective this machine issues.
	ToolTimeout    time.Duration
	ToolMaxRetries int
	ToolBackoff    time.Duration

	// Depth is the remaining recursion budget; zero disables fan-out.
	Depth int
	// FanoutTokens is the context size above which a decomposing strategy
	// delegates instead of inlining.
	FanoutTokens int
	ChunkLines   int
	MaxChildren  int

	// NewID generates correlation IDs for LLM and tool call directives.
	// Defaults to uuid.NewString.
	NewID func() string
}

// Machine binds a strategy to its configuration. Update is the only entry
// point; it is a pure function of (state, event) and is safe to call from a
// single goroutine per instance.
type Machine struct {
	strategy Strategy
	cfg      Config
}

// NewMachine builds a machine for the named strategy.
func NewMachine(strategyName string, cfg Config) (*Machine, error) {
	strat, err := LookupStrategy(strategyName)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("machine config: model is required")
	}
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("machine config: max iterations must be positive, got %d", cfg.MaxIterations)
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Machine{strategy: strat, cfg: cfg}, nil
}

// Strategy returns the bound strategy.
func (m *Machine) Strategy() Strategy { return m.strategy }

// Update applies one event to the state and returns the successor state plus
// the directives the caller must execute. The input state is never mutated;
// unrecognized or stale events return the state unchanged with no directives.
func (m *Machine) Update(st State, ev Event) (State, []Directive) {
	switch e := ev.(type) {
	case StartEvent:
		return m.onStart(st, e)
	case LLMResultEvent:
		return m.onLLMResult(st, e)
	case LLMPartialEvent:
		return m.onLLMPartial(st, e)
	case ToolResultEvent:
		return m.onToolResult(st, e)
	case WorkerEvent:
		return m.onWorker(st, e)
	case CancelEvent:
		return m.onCancel(st, e)
	default:
		return st, nil
	}
}

func (m *Machine) onStart(st State, e StartEvent) (State, []Directive) {
	switch {
	case st.Status == StatusIdle:
		next := st.clone()
		next.Query = e.Query
		next.Conversation = []llm.Message{llm.NewSystemMessage(m.strategy.SystemPrompt())}

		if m.shouldFanOut(e.Context) {
			return m.beginFanOut(next, e)
		}

		user := m.strategy.UserPrompt(e.Query)
		if e.Context != "" {
			user = fmt.Sprintf("%s\n\nContext:\n%s", user, e.Context)
		}
		next.Conversation = append(next.Conversation, llm.NewUserMessage(user))
		return m.issueLLMCall(next, false)

	case st.Status.Terminal():
		// Continuation: keep the conversation, reset per-request bookkeeping.
		next := st.clone()
		next.Query = e.Query
		next.Iteration = 0
		next.ParseRetries = 0
		next.TerminationReason = ReasonNone
		next.Result = ""
		next.Phase = PhaseNone
		next.Chunks = nil
		next.Workers = nil
		next.WorkerOrder = nil
		next.SynthesisDone = false
		user := m.strategy.UserPrompt(e.Query)
		if e.Context != "" {
			user = fmt.Sprintf("%s\n\nContext:\n%s", user, e.Context)
		}
		next.Conversation = append(next.Conversation, llm.NewUserMessage(user))
		return m.issueLLMCall(next, false)

	default:
		// A start while active is a lifecycle violation; the owning
		// controller rejects it before it reaches the machine.
		return st, nil
	}
}

func (m *Machine) shouldFanOut(context string) bool {
	if !m.strategy.Decomposes() || m.cfg.Depth <= 0 || context == "" {
		return false
	}
	return tokens.Count(context) > m.cfg.FanoutTokens
}

func (m *Machine) beginFanOut(st State, e StartEvent) (State, []Directive) {
	st.Phase = PhaseChunking
	st.Chunks = fanout.Split(e.Context, m.cfg.ChunkLines)
	groups := fanout.Assign(st.Chunks, m.cfg.MaxChildren)

	st.Phase = PhaseSpawning
	st.Status = StatusPreparing
	st.Workers = make(map[string]WorkerRecord, len(groups))
	st.WorkerOrder = make([]string, 0, len(groups))

	byID := make(map[string]fanout.Chunk, len(st.Chunks))
	for _, ch := range st.Chunks {
		byID[ch.ID] = ch
	}

	directives := make([]Directive, 0, len(groups)+1)
	for i, chunkIDs := range groups {
		tag := fmt.Sprintf("worker-%d", i+1)
		st.Workers[tag] = WorkerRecord{Tag: tag, ChunkIDs: chunkIDs, Status: WorkerSpawned}
		st.WorkerOrder = append(st.WorkerOrder, tag)
		directives = append(directives, SpawnWorkerDirective{
			Tag:      tag,
			Query:    WorkerQuery(e.Query, chunkIDs),
			ChunkIDs: chunkIDs,
			Chunks:   chunkSet(byID, chunkIDs),
			Depth:    m.cfg.Depth - 1,
		})
	}
	directives = append(directives, EmitSignalDirective{
		Signal: SignalFanoutStarted,
		Payload: map[string]any{
			"chunks":  len(st.Chunks),
			"workers": len(groups),
		},
	})
	return st, directives
}

func chunkSet(byID map[string]fanout.Chunk, ids []string) []fanout.Chunk {
	out := make([]fanout.Chunk, 0, len(ids))
	for _, id := range ids {
		if ch, ok := byID[id]; ok {
			out = append(out, ch)
		}
	}
	return out
}

func (m *Machine) onLLMResult(st State, e LLMResultEvent) (State, []Directive) {
	if st.Status != StatusAwaitingLLM || e.CallID != st.CurrentLLMCallID {
		return st, nil
	}
	next := st.clone()
	next.CurrentLLMCallID = ""
	next.StreamingText = ""
	next.Iteration++
	next.Usage = next.Usage.Add(e.Response.Usage)

	if e.Err != nil {
		return m.fail(next, ReasonLLMError, e.Err.Error())
	}

	if len(e.Response.ToolCalls) > 0 && m.strategy.ToolsEnabled() && !next.SynthesisDone {
		return m.issueToolCalls(next, e.Response)
	}

	next.Conversation = append(next.Conversation, llm.NewAssistantMessage(e.Response.Content))

	if answer, ok := m.strategy.ExtractFinal(e.Response.Content); ok {
		next.Status = StatusCompleted
		next.Result = answer
		next.Phase = PhaseNone
		return next, []Directive{EmitSignalDirective{
			Signal:  SignalRequestCompleted,
			Payload: map[string]any{"iterations": next.Iteration},
		}}
	}

	if next.ParseRetries >= m.cfg.MaxParseRetries {
		return m.fail(next, ReasonParseFailure,
			fmt.Sprintf("no parsable answer after %d retries", next.ParseRetries))
	}
	if next.Iteration >= m.cfg.MaxIterations {
		return m.fail(next, ReasonMaxIterations,
			fmt.Sprintf("no answer within %d iterations", m.cfg.MaxIterations))
	}
	next.ParseRetries++
	next.Conversation = append(next.Conversation, llm.NewUserMessage(m.strategy.RetryPrompt()))
	return m.issueLLMCall(next, next.SynthesisDone)
}

func (m *Machine) issueToolCalls(st State, resp llm.CompletionResponse) (State, []Directive) {
	asst := llm.NewAssistantMessage(resp.Content)
	asst.ToolCalls = append([]llm.ToolCall(nil), resp.ToolCalls...)
	st.Conversation = append(st.Conversation, asst)

	st.PendingToolCalls = make(map[string]ToolCallRecord, len(resp.ToolCalls))
	st.PendingOrder = make([]string, 0, len(resp.ToolCalls))

	directives := make([]Directive, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		st.PendingToolCalls[tc.ID] = ToolCallRecord{
			CallID:    tc.ID,
			Name:      tc.Name,
			Arguments: tc.Parameters,
			Status:    ToolCallPending,
		}
		st.PendingOrder = append(st.PendingOrder, tc.ID)
		directives = append(directives, ToolCallDirective{
			ID:           tc.ID,
			ToolName:     tc.Name,
			Arguments:    tc.Parameters,
			Timeout:      m.cfg.ToolTimeout,
			MaxRetries:   m.cfg.ToolMaxRetries,
			RetryBackoff: m.cfg.ToolBackoff,
		})
	}
	st.Status = StatusAwaitingTool
	return st, directives
}

func (m *Machine) onLLMPartial(st State, e LLMPartialEvent) (State, []Directive) {
	if st.Status != StatusAwaitingLLM || e.CallID != st.CurrentLLMCallID {
		return st, nil
	}
	next := st.clone()
	next.StreamingText += e.Delta
	return next, nil
}

func (m *Machine) onToolResult(st State, e ToolResultEvent) (State, []Directive) {
	if st.Status != StatusAwaitingTool {
		return st, nil
	}
	rec, ok := st.PendingToolCalls[e.CallID]
	if !ok || rec.Status == ToolCallDone {
		// Unknown correlation ID or a duplicate delivery.
		return st, nil
	}
	next := st.clone()
	rec.Status = ToolCallDone
	if e.Err != nil {
		rec.Output = fmt.Sprintf("tool %s failed (%s): %s", e.Name, e.Err.Type, e.Err.Message)
	} else {
		rec.Output = e.Output
	}
	next.PendingToolCalls[e.CallID] = rec

	if !next.pendingComplete() {
		return next, nil
	}

	// Feed results back in issuance order, regardless of arrival order.
	for _, id := range next.PendingOrder {
		done := next.PendingToolCalls[id]
		next.Conversation = append(next.Conversation,
			llm.NewToolMessage(done.CallID, done.Name, done.Output))
	}
	next.PendingToolCalls = nil
	next.PendingOrder = nil

	if next.Iteration >= m.cfg.MaxIterations {
		return m.fail(next, ReasonMaxIterations,
			fmt.Sprintf("no answer within %d iterations", m.cfg.MaxIterations))
	}
	return m.issueLLMCall(next, false)
}

func (m *Machine) onWorker(st State, e WorkerEvent) (State, []Directive) {
	if st.Status != StatusPreparing {
		return st, nil
	}
	rec, ok := st.Workers[e.Tag]
	if !ok {
		return st, nil
	}
	next := st.clone()
	switch e.Kind {
	case WorkerEventStarted:
		if rec.Status == WorkerSpawned {
			rec.Status = WorkerRunning
		}
	case WorkerEventCompleted:
		if rec.Status == WorkerCompleted || rec.Status == WorkerFailed {
			return st, nil
		}
		rec.Status = WorkerCompleted
		rec.Result = e.Result
	case WorkerEventFailed:
		if rec.Status == WorkerCompleted || rec.Status == WorkerFailed {
			return st, nil
		}
		rec.Status = WorkerFailed
		rec.Error = e.Error
	default:
		return st, nil
	}
	next.Workers[e.Tag] = rec

	if !next.workersComplete() {
		return next, nil
	}
	return m.beginSynthesis(next)
}

// beginSynthesis runs once all workers are terminal: every chunk is accounted
// for as either a finding or a failure, and the merged prompt goes to a
// single tools-disabled completion.
func (m *Machine) beginSynthesis(st State) (State, []Directive) {
	findings := make([]fanout.Finding, 0, len(st.Chunks))
	for _, tag := range st.WorkerOrder {
		rec := st.Workers[tag]
		for _, chunkID := range rec.ChunkIDs {
			f := fanout.Finding{ChunkID: chunkID}
			if rec.Status == WorkerFailed {
				f.Failed = true
				f.Content = rec.Error
			} else {
				f.Content = rec.Result
			}
			findings = append(findings, f)
		}
	}

	st.Phase = PhaseSynthesis
	st.SynthesisDone = true
	st.Conversation = append(st.Conversation,
		llm.NewUserMessage(fanout.BuildSynthesisPrompt(st.Query, findings)))

	next, directives := m.issueLLMCall(st, true)
	directives = append(directives, EmitSignalDirective{
		Signal:  SignalSynthesisStarted,
		Payload: map[string]any{"findings": len(findings)},
	})
	return next, directives
}

func (m *Machine) onCancel(st State, e CancelEvent) (State, []Directive) {
	if st.Status.Terminal() {
		return st, nil
	}
	next := st.clone()

	var directives []Directive
	for _, tag := range next.WorkerOrder {
		rec := next.Workers[tag]
		if rec.Status == WorkerCompleted || rec.Status == WorkerFailed {
			continue
		}
		directives = append(directives, CancelWorkerDirective{Tag: tag, Reason: e.Reason})
	}

	next.Status = StatusError
	next.TerminationReason = ReasonCancelled
	next.CurrentLLMCallID = ""
	next.StreamingText = ""
	next.PendingToolCalls = nil
	next.PendingOrder = nil
	directives = append(directives, EmitSignalDirective{
		Signal:  SignalRequestFailed,
		Payload: map[string]any{"reason": string(ReasonCancelled)},
	})
	return next, directives
}

// issueLLMCall stamps a fresh correlation ID and emits the completion
// directive for the current conversation.
func (m *Machine) issueLLMCall(st State, disableTools bool) (State, []Directive) {
	id := m.cfg.NewID()
	st.Status = StatusAwaitingLLM
	st.CurrentLLMCallID = id
	st.StreamingText = ""

	var defs []tools.ToolDefinition
	if m.strategy.ToolsEnabled() && !disableTools {
		defs = m.cfg.Tools
	}
	return st, []Directive{LLMCallDirective{
		ID:           id,
		Model:        m.cfg.Model,
		Messages:     append([]llm.Message(nil), st.Conversation...),
		Tools:        defs,
		DisableTools: disableTools,
		MaxTokens:    m.cfg.MaxTokens,
		Metadata:     map[string]string{"strategy": m.strategy.Name()},
	}}
}

// Resume regenerates the in-flight directives for a restored state: a fresh
// completion for an interrupted LLM call, the still-pending tool calls under
// their original correlation IDs, or the workers that never reported. The
// restored state itself is not otherwise changed.
func (m *Machine) Resume(st State) (State, []Directive) {
	switch st.Status {
	case StatusAwaitingLLM:
		next := st.clone()
		return m.issueLLMCall(next, next.SynthesisDone)

	case StatusAwaitingTool:
		next := st.clone()
		var directives []Directive
		for _, id := range next.PendingOrder {
			rec := next.PendingToolCalls[id]
			if rec.Status == ToolCallDone {
				continue
			}
			directives = append(directives, ToolCallDirective{
				ID:           rec.CallID,
				ToolName:     rec.Name,
				Arguments:    rec.Arguments,
				Timeout:      m.cfg.ToolTimeout,
				MaxRetries:   m.cfg.ToolMaxRetries,
				RetryBackoff: m.cfg.ToolBackoff,
			})
		}
		return next, directives

	case StatusPreparing:
		next := st.clone()
		byID := make(map[string]fanout.Chunk, len(next.Chunks))
		for _, ch := range next.Chunks {
			byID[ch.ID] = ch
		}
		var directives []Directive
		for _, tag := range next.WorkerOrder {
			rec := next.Workers[tag]
			if rec.Status == WorkerCompleted || rec.Status == WorkerFailed {
				continue
			}
			rec.Status = WorkerSpawned
			next.Workers[tag] = rec
			directives = append(directives, SpawnWorkerDirective{
				Tag:      rec.Tag,
				Query:    WorkerQuery(next.Query, rec.ChunkIDs),
				ChunkIDs: rec.ChunkIDs,
				Chunks:   chunkSet(byID, rec.ChunkIDs),
				Depth:    m.cfg.Depth - 1,
			})
		}
		return next, directives

	default:
		return st, nil
	}
}

func (m *Machine) fail(st State, reason Reason, detail string) (State, []Directive) {
	st.Status = StatusError
	st.TerminationReason = reason
	st.CurrentLLMCallID = ""
	st.StreamingText = ""
	st.PendingToolCalls = nil
	st.PendingOrder = nil
	return st, []Directive{EmitSignalDirective{
		Signal: SignalRequestFailed,
		Payload: map[string]any{
			"reason": string(reason),
			"detail": detail,
		},
	}}
}
