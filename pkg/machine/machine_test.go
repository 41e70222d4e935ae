package machine

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reasonrt/pkg/llm"
	"reasonrt/pkg/tools"
)

func newTestMachine(t *testing.T, strategy string, mutate func(*Config)) *Machine {
	t.Helper()
	seq := 0
	cfg := Config{
		Model:           "test-model",
		MaxTokens:       1024,
		MaxIterations:   10,
		MaxParseRetries: 2,
		Depth:           1,
		FanoutTokens:    2000,
		ChunkLines:      2,
		MaxChildren:     4,
		NewID: func() string {
			seq++
			return fmt.Sprintf("call-%d", seq)
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewMachine(strategy, cfg)
	require.NoError(t, err)
	return m
}

func llmCall(t *testing.T, directives []Directive) LLMCallDirective {
	t.Helper()
	for _, d := range directives {
		if call, ok := d.(LLMCallDirective); ok {
			return call
		}
	}
	t.Fatalf("no llm_call among %d directives", len(directives))
	return LLMCallDirective{}
}

func TestStartIssuesInitialLLMCall(t *testing.T) {
	m := newTestMachine(t, "react", func(c *Config) {
		c.Tools = []tools.ToolDefinition{{Name: "calculator"}}
	})

	st, directives := m.Update(NewState(), StartEvent{Query: "what is 2+2?"})

	assert.Equal(t, StatusAwaitingLLM, st.Status)
	require.Len(t, directives, 1)
	call := llmCall(t, directives)
	assert.Equal(t, "call-1", call.ID)
	assert.Equal(t, call.ID, st.CurrentLLMCallID)
	require.Len(t, call.Messages, 2)
	assert.Equal(t, llm.RoleSystem, call.Messages[0].Role)
	assert.Equal(t, "what is 2+2?", call.Messages[1].Content)
	require.Len(t, call.Tools, 1)
}

func TestUpdateDoesNotMutateInput(t *testing.T) {
	m := newTestMachine(t, "react", nil)
	before := NewState()

	after, _ := m.Update(before, StartEvent{Query: "q"})

	assert.Equal(t, StatusIdle, before.Status)
	assert.Empty(t, before.Conversation)
	assert.Equal(t, StatusAwaitingLLM, after.Status)
}

func TestCompletionExtractsFinalAnswer(t *testing.T) {
	m := newTestMachine(t, "react", nil)
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})

	st, directives := m.Update(st, LLMResultEvent{
		CallID: st.CurrentLLMCallID,
		Response: llm.CompletionResponse{
			Content: "I worked it out.\nFINAL ANSWER: 4",
			Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 5},
		},
	})

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "4", st.Result)
	assert.Equal(t, 15, st.Usage.Total())
	require.Len(t, directives, 1)
	sig, ok := directives[0].(EmitSignalDirective)
	require.True(t, ok)
	assert.Equal(t, SignalRequestCompleted, sig.Signal)
}

func TestStaleLLMResultIgnored(t *testing.T) {
	m := newTestMachine(t, "react", nil)
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})

	next, directives := m.Update(st, LLMResultEvent{
		CallID:   "some-old-call",
		Response: llm.CompletionResponse{Content: "FINAL ANSWER: stale"},
	})

	assert.Equal(t, st, next)
	assert.Empty(t, directives)
}

func TestToolResultsAppliedInIssuanceOrder(t *testing.T) {
	m := newTestMachine(t, "react", func(c *Config) {
		c.Tools = []tools.ToolDefinition{{Name: "calculator"}, {Name: "search"}}
	})
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})

	st, directives := m.Update(st, LLMResultEvent{
		CallID: st.CurrentLLMCallID,
		Response: llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{
				{ID: "tc-1", Name: "calculator", Parameters: map[string]any{"expression": "2+2"}},
				{ID: "tc-2", Name: "search", Parameters: map[string]any{"query": "four"}},
			},
		},
	})
	assert.Equal(t, StatusAwaitingTool, st.Status)
	require.Len(t, directives, 2)

	// Second call finishes first; the conversation must still list results in
	// the order the calls were issued.
	st, directives = m.Update(st, ToolResultEvent{CallID: "tc-2", Name: "search", Output: "second"})
	assert.Equal(t, StatusAwaitingTool, st.Status)
	assert.Empty(t, directives)

	st, directives = m.Update(st, ToolResultEvent{CallID: "tc-1", Name: "calculator", Output: "first"})
	assert.Equal(t, StatusAwaitingLLM, st.Status)
	llmCall(t, directives)

	n := len(st.Conversation)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, "first", st.Conversation[n-2].Content)
	assert.Equal(t, "tc-1", st.Conversation[n-2].ToolCallID)
	assert.Equal(t, "second", st.Conversation[n-1].Content)
	assert.Equal(t, "tc-2", st.Conversation[n-1].ToolCallID)
}

func TestDuplicateToolResultIgnored(t *testing.T) {
	m := newTestMachine(t, "react", nil)
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})
	st, _ = m.Update(st, LLMResultEvent{
		CallID: st.CurrentLLMCallID,
		Response: llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{
				{ID: "tc-1", Name: "calculator"},
				{ID: "tc-2", Name: "calculator"},
			},
		},
	})

	st, _ = m.Update(st, ToolResultEvent{CallID: "tc-1", Name: "calculator", Output: "once"})
	next, directives := m.Update(st, ToolResultEvent{CallID: "tc-1", Name: "calculator", Output: "twice"})

	assert.Equal(t, st, next)
	assert.Empty(t, directives)
	assert.Equal(t, "once", next.PendingToolCalls["tc-1"].Output)
}

func TestFailedToolResultEntersConversation(t *testing.T) {
	m := newTestMachine(t, "react", nil)
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})
	st, _ = m.Update(st, LLMResultEvent{
		CallID: st.CurrentLLMCallID,
		Response: llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{ID: "tc-1", Name: "calculator"}},
		},
	})

	st, _ = m.Update(st, ToolResultEvent{
		CallID: "tc-1",
		Name:   "calculator",
		Err:    &tools.ErrorInfo{Type: tools.ErrTypeTimeout, Message: "deadline exceeded"},
	})

	assert.Equal(t, StatusAwaitingLLM, st.Status)
	last := st.Conversation[len(st.Conversation)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Contains(t, last.Content, "tool calculator failed (timeout)")
}

func TestParseRetriesBounded(t *testing.T) {
	m := newTestMachine(t, "react", func(c *Config) { c.MaxParseRetries = 1 })
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})

	st, directives := m.Update(st, LLMResultEvent{
		CallID:   st.CurrentLLMCallID,
		Response: llm.CompletionResponse{Content: "rambling with no conclusion"},
	})
	assert.Equal(t, StatusAwaitingLLM, st.Status)
	assert.Equal(t, 1, st.ParseRetries)
	llmCall(t, directives)

	st, directives = m.Update(st, LLMResultEvent{
		CallID:   st.CurrentLLMCallID,
		Response: llm.CompletionResponse{Content: "still rambling"},
	})
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, ReasonParseFailure, st.TerminationReason)
	require.Len(t, directives, 1)
	sig := directives[0].(EmitSignalDirective)
	assert.Equal(t, SignalRequestFailed, sig.Signal)
}

func TestMaxIterationsInToolLoop(t *testing.T) {
	m := newTestMachine(t, "react", func(c *Config) { c.MaxIterations = 2 })
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})

	for i := 0; i < 2; i++ {
		callID := fmt.Sprintf("tc-%d", i)
		st, _ = m.Update(st, LLMResultEvent{
			CallID: st.CurrentLLMCallID,
			Response: llm.CompletionResponse{
				ToolCalls: []llm.ToolCall{{ID: callID, Name: "calculator"}},
			},
		})
		if st.Status.Terminal() {
			break
		}
		require.Equal(t, StatusAwaitingTool, st.Status)
		st, _ = m.Update(st, ToolResultEvent{CallID: callID, Name: "calculator", Output: "ok"})
	}

	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, ReasonMaxIterations, st.TerminationReason)
}

func TestLLMErrorTerminates(t *testing.T) {
	m := newTestMachine(t, "react", nil)
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})

	st, _ = m.Update(st, LLMResultEvent{
		CallID: st.CurrentLLMCallID,
		Err:    errors.New("rate limited"),
	})

	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, ReasonLLMError, st.TerminationReason)
}

func TestTerminalStateIsSticky(t *testing.T) {
	m := newTestMachine(t, "react", nil)
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})
	st, _ = m.Update(st, LLMResultEvent{
		CallID:   st.CurrentLLMCallID,
		Response: llm.CompletionResponse{Content: "FINAL ANSWER: done"},
	})
	require.Equal(t, StatusCompleted, st.Status)

	for _, ev := range []Event{
		LLMResultEvent{CallID: "late", Response: llm.CompletionResponse{Content: "FINAL ANSWER: other"}},
		ToolResultEvent{CallID: "tc-9", Name: "calculator", Output: "late"},
		WorkerEvent{Tag: "worker-1", Kind: WorkerEventCompleted, Result: "late"},
		CancelEvent{Reason: "user"},
	} {
		next, directives := m.Update(st, ev)
		assert.Equal(t, st, next)
		assert.Empty(t, directives)
	}
	assert.Equal(t, "done", st.Result)
}

func TestContinuationKeepsConversation(t *testing.T) {
	m := newTestMachine(t, "react", nil)
	st, _ := m.Update(NewState(), StartEvent{Query: "first"})
	st, _ = m.Update(st, LLMResultEvent{
		CallID:   st.CurrentLLMCallID,
		Response: llm.CompletionResponse{Content: "FINAL ANSWER: one"},
	})
	require.Equal(t, StatusCompleted, st.Status)
	turnOne := len(st.Conversation)

	st, directives := m.Update(st, StartEvent{Query: "and now?"})

	assert.Equal(t, StatusAwaitingLLM, st.Status)
	assert.Empty(t, st.Result)
	assert.Equal(t, ReasonNone, st.TerminationReason)
	assert.Equal(t, 0, st.Iteration)
	call := llmCall(t, directives)
	assert.Len(t, call.Messages, turnOne+1)
	assert.Equal(t, "and now?", call.Messages[turnOne].Content)
}

func TestStartWhileActiveIgnored(t *testing.T) {
	m := newTestMachine(t, "react", nil)
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})

	next, directives := m.Update(st, StartEvent{Query: "another"})

	assert.Equal(t, st, next)
	assert.Empty(t, directives)
}

func TestStreamingDeltasAccumulate(t *testing.T) {
	m := newTestMachine(t, "react", nil)
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})

	st, _ = m.Update(st, LLMPartialEvent{CallID: st.CurrentLLMCallID, Delta: "FINAL "})
	st, _ = m.Update(st, LLMPartialEvent{CallID: st.CurrentLLMCallID, Delta: "ANSWER"})
	st, _ = m.Update(st, LLMPartialEvent{CallID: "other", Delta: "noise"})

	assert.Equal(t, "FINAL ANSWER", st.StreamingText)

	st, _ = m.Update(st, LLMResultEvent{
		CallID:   st.CurrentLLMCallID,
		Response: llm.CompletionResponse{Content: "FINAL ANSWER: ok"},
	})
	assert.Empty(t, st.StreamingText)
}

func fanoutContext(lines int) string {
	var sb strings.Builder
	for i := 1; i <= lines; i++ {
		fmt.Fprintf(&sb, "line %d of the document under analysis\n", i)
	}
	return sb.String()
}

func TestFanoutSpawnsWorkersAndSynthesizes(t *testing.T) {
	m := newTestMachine(t, "decompose", func(c *Config) {
		c.FanoutTokens = 10
		c.ChunkLines = 2
		c.MaxChildren = 2
	})

	st, directives := m.Update(NewState(), StartEvent{
		Query:   "summarize the document",
		Context: fanoutContext(4),
	})

	assert.Equal(t, StatusPreparing, st.Status)
	assert.Equal(t, PhaseSpawning, st.Phase)
	require.Len(t, st.Chunks, 2)

	var spawns []SpawnWorkerDirective
	for _, d := range directives {
		if s, ok := d.(SpawnWorkerDirective); ok {
			spawns = append(spawns, s)
		}
	}
	require.Len(t, spawns, 2)
	assert.Equal(t, []string{"chunk-1"}, spawns[0].ChunkIDs)
	assert.Equal(t, []string{"chunk-2"}, spawns[1].ChunkIDs)
	assert.Equal(t, 0, spawns[0].Depth)

	// Children report out of order, with one failure.
	st, directives = m.Update(st, WorkerEvent{Tag: "worker-2", Kind: WorkerEventFailed, Error: "boom"})
	assert.Equal(t, StatusPreparing, st.Status)
	assert.Empty(t, directives)

	st, directives = m.Update(st, WorkerEvent{Tag: "worker-1", Kind: WorkerEventCompleted, Result: "lines 1-2 discuss setup"})
	assert.Equal(t, StatusAwaitingLLM, st.Status)
	assert.Equal(t, PhaseSynthesis, st.Phase)
	assert.True(t, st.SynthesisDone)

	call := llmCall(t, directives)
	assert.True(t, call.DisableTools)
	assert.Empty(t, call.Tools)
	prompt := call.Messages[len(call.Messages)-1].Content
	assert.Contains(t, prompt, "1 of 2 chunks completed successfully")
	assert.Contains(t, prompt, "1 chunk(s) failed")
	assert.Contains(t, prompt, "chunk-1: lines 1-2 discuss setup")
	assert.Contains(t, prompt, "chunk-2: FAILED")

	st, _ = m.Update(st, LLMResultEvent{
		CallID:   st.CurrentLLMCallID,
		Response: llm.CompletionResponse{Content: "FINAL ANSWER: a setup guide"},
	})
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "a setup guide", st.Result)
}

func TestFanoutSkippedBelowThreshold(t *testing.T) {
	m := newTestMachine(t, "decompose", func(c *Config) { c.FanoutTokens = 100000 })

	st, directives := m.Update(NewState(), StartEvent{Query: "q", Context: fanoutContext(4)})

	assert.Equal(t, StatusAwaitingLLM, st.Status)
	call := llmCall(t, directives)
	assert.Contains(t, call.Messages[1].Content, "Context:")
}

func TestFanoutSkippedAtZeroDepth(t *testing.T) {
	m := newTestMachine(t, "decompose", func(c *Config) {
		c.Depth = 0
		c.FanoutTokens = 1
	})

	st, _ := m.Update(NewState(), StartEvent{Query: "q", Context: fanoutContext(50)})

	assert.Equal(t, StatusAwaitingLLM, st.Status)
	assert.Empty(t, st.Workers)
}

func TestUnknownWorkerTagIgnored(t *testing.T) {
	m := newTestMachine(t, "decompose", func(c *Config) {
		c.FanoutTokens = 10
		c.MaxChildren = 2
	})
	st, _ := m.Update(NewState(), StartEvent{Query: "q", Context: fanoutContext(4)})

	next, directives := m.Update(st, WorkerEvent{Tag: "worker-99", Kind: WorkerEventCompleted})

	assert.Equal(t, st, next)
	assert.Empty(t, directives)
}

func TestCancelDuringFanout(t *testing.T) {
	m := newTestMachine(t, "decompose", func(c *Config) {
		c.FanoutTokens = 10
		c.MaxChildren = 3
	})
	st, _ := m.Update(NewState(), StartEvent{Query: "q", Context: fanoutContext(6)})
	st, _ = m.Update(st, WorkerEvent{Tag: "worker-1", Kind: WorkerEventCompleted, Result: "done"})

	st, directives := m.Update(st, CancelEvent{Reason: "user request"})

	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, ReasonCancelled, st.TerminationReason)

	var cancels []CancelWorkerDirective
	for _, d := range directives {
		if c, ok := d.(CancelWorkerDirective); ok {
			cancels = append(cancels, c)
		}
	}
	// worker-1 already finished; only the two live workers get a cancel.
	require.Len(t, cancels, 2)
	assert.Equal(t, "worker-2", cancels[0].Tag)
	assert.Equal(t, "worker-3", cancels[1].Tag)
}

func TestCancelWhileAwaitingLLM(t *testing.T) {
	m := newTestMachine(t, "react", nil)
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})

	st, directives := m.Update(st, CancelEvent{Reason: "shutdown"})

	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, ReasonCancelled, st.TerminationReason)
	assert.Empty(t, st.CurrentLLMCallID)
	require.Len(t, directives, 1)

	// A late result for the cancelled call changes nothing.
	next, late := m.Update(st, LLMResultEvent{
		CallID:   "call-1",
		Response: llm.CompletionResponse{Content: "FINAL ANSWER: too late"},
	})
	assert.Equal(t, st, next)
	assert.Empty(t, late)
}

func TestChainOfThoughtNeverAdvertisesTools(t *testing.T) {
	m := newTestMachine(t, "cot", func(c *Config) {
		c.Tools = []tools.ToolDefinition{{Name: "calculator"}}
	})

	_, directives := m.Update(NewState(), StartEvent{Query: "q"})

	call := llmCall(t, directives)
	assert.Empty(t, call.Tools)
}

func TestSnapshotCountsPendingWork(t *testing.T) {
	m := newTestMachine(t, "react", nil)
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})
	st, _ = m.Update(st, LLMResultEvent{
		CallID: st.CurrentLLMCallID,
		Response: llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{
				{ID: "tc-1", Name: "calculator"},
				{ID: "tc-2", Name: "calculator"},
			},
		},
	})
	st, _ = m.Update(st, ToolResultEvent{CallID: "tc-1", Name: "calculator", Output: "ok"})

	snap := TakeSnapshot(st)
	assert.False(t, snap.Done)
	assert.Equal(t, StatusAwaitingTool, snap.Status)
	assert.Equal(t, 1, snap.PendingTools)
}

func TestSnapshotTerminal(t *testing.T) {
	m := newTestMachine(t, "react", nil)
	st, _ := m.Update(NewState(), StartEvent{Query: "q"})
	st, _ = m.Update(st, LLMResultEvent{
		CallID:   st.CurrentLLMCallID,
		Response: llm.CompletionResponse{Content: "FINAL ANSWER: 42"},
	})

	snap := TakeSnapshot(st)
	assert.True(t, snap.Done)
	assert.Equal(t, "42", snap.Result)
	assert.Equal(t, Reason(""), snap.Reason)
}

func TestLookupStrategyUnknown(t *testing.T) {
	_, err := LookupStrategy("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy")
}

func TestStrategyNamesSorted(t *testing.T) {
	names := StrategyNames()
	assert.Equal(t, []string{"cot", "decompose", "got", "react", "tot"}, names)
}
