package controller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reasonrt/pkg/llm"
	"reasonrt/pkg/machine"
)

type recordedDirective struct {
	requestID string
	directive machine.Directive
}

// fakeExecutor captures directives instead of performing them, so tests can
// script the event side themselves.
type fakeExecutor struct {
	mu         sync.Mutex
	directives []recordedDirective
}

func (f *fakeExecutor) Execute(_ context.Context, requestID string, d machine.Directive) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directives = append(f.directives, recordedDirective{requestID: requestID, directive: d})
}

func (f *fakeExecutor) all() []recordedDirective {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedDirective(nil), f.directives...)
}

func (f *fakeExecutor) lastLLMCall(t *testing.T, requestID string) machine.LLMCallDirective {
	t.Helper()
	recs := f.all()
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].requestID != requestID {
			continue
		}
		if call, ok := recs[i].directive.(machine.LLMCallDirective); ok {
			return call
		}
	}
	t.Fatalf("no llm_call recorded for request %s", requestID)
	return machine.LLMCallDirective{}
}

func (f *fakeExecutor) toolCalls(requestID string) []machine.ToolCallDirective {
	var out []machine.ToolCallDirective
	for _, rec := range f.all() {
		if rec.requestID != requestID {
			continue
		}
		if tc, ok := rec.directive.(machine.ToolCallDirective); ok {
			out = append(out, tc)
		}
	}
	return out
}

func newTestController(t *testing.T, strategy string) (*Controller, *fakeExecutor) {
	t.Helper()
	seq := 0
	m, err := machine.NewMachine(strategy, machine.Config{
		Model:           "test-model",
		MaxTokens:       512,
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
	})
	require.NoError(t, err)
	exec := &fakeExecutor{}
	return New(m, exec, Options{}), exec
}

func TestSubmitRunsToCompletion(t *testing.T) {
	c, exec := newTestController(t, "react")
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "req-1", "what is 2+2?", ""))
	assert.Equal(t, "req-1", c.ActiveRequest())

	call := exec.lastLLMCall(t, "req-1")
	c.Deliver("req-1", machine.LLMResultEvent{
		CallID:   call.ID,
		Response: llm.CompletionResponse{Content: "FINAL ANSWER: 4"},
	})

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	snap, err := c.Await(waitCtx)
	require.NoError(t, err)
	assert.True(t, snap.Done)
	assert.Equal(t, "4", snap.Result)
	assert.Empty(t, c.ActiveRequest())
}

func TestSubmitWhileBusyRejected(t *testing.T) {
	c, exec := newTestController(t, "react")
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "req-1", "first", ""))
	err := c.Submit(ctx, "req-2", "second", "")
	require.ErrorIs(t, err, ErrBusy)

	// The rejection surfaces as a directive addressed to the rejected request.
	var rejected []machine.EmitRequestErrorDirective
	for _, rec := range exec.all() {
		if e, ok := rec.directive.(machine.EmitRequestErrorDirective); ok {
			rejected = append(rejected, e)
		}
	}
	require.Len(t, rejected, 1)
	assert.Equal(t, "req-2", rejected[0].RequestID)
	assert.Equal(t, "busy", rejected[0].Reason)

	// The original request is unaffected.
	assert.Equal(t, "req-1", c.ActiveRequest())
}

func TestSubmitAfterTerminalContinues(t *testing.T) {
	c, exec := newTestController(t, "react")
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "req-1", "first", ""))
	call := exec.lastLLMCall(t, "req-1")
	c.Deliver("req-1", machine.LLMResultEvent{
		CallID:   call.ID,
		Response: llm.CompletionResponse{Content: "FINAL ANSWER: one"},
	})

	require.NoError(t, c.Submit(ctx, "req-2", "second", ""))
	call = exec.lastLLMCall(t, "req-2")
	assert.Greater(t, len(call.Messages), 2)
}

func TestLateDeliverySuppressed(t *testing.T) {
	c, exec := newTestController(t, "react")
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "req-1", "first", ""))
	staleCall := exec.lastLLMCall(t, "req-1")
	require.NoError(t, c.Cancel("superseded"))

	require.NoError(t, c.Submit(ctx, "req-2", "second", ""))

	// A straggler from req-1 arrives after req-2 started. Nothing may change.
	c.Deliver("req-1", machine.LLMResultEvent{
		CallID:   staleCall.ID,
		Response: llm.CompletionResponse{Content: "FINAL ANSWER: stale"},
	})

	snap := c.Snapshot()
	assert.False(t, snap.Done)
	assert.Equal(t, machine.StatusAwaitingLLM, snap.Status)
	assert.Equal(t, "req-2", c.ActiveRequest())
}

func TestCancel(t *testing.T) {
	c, _ := newTestController(t, "react")
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "req-1", "q", ""))
	require.NoError(t, c.Cancel("user request"))

	snap := c.Snapshot()
	assert.True(t, snap.Done)
	assert.Equal(t, machine.ReasonCancelled, snap.Reason)

	assert.ErrorIs(t, c.Cancel("again"), ErrNoRequest)
}

func TestDeliverIgnoredAfterTerminal(t *testing.T) {
	c, exec := newTestController(t, "react")
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "req-1", "q", ""))
	call := exec.lastLLMCall(t, "req-1")
	c.Deliver("req-1", machine.LLMResultEvent{
		CallID:   call.ID,
		Response: llm.CompletionResponse{Content: "FINAL ANSWER: done"},
	})
	require.True(t, c.Snapshot().Done)

	// A start sneaking in through Deliver must not reopen the finished
	// request; continuations go through Submit.
	before := len(exec.all())
	c.Deliver("req-1", machine.StartEvent{Query: "again"})
	assert.Equal(t, before, len(exec.all()))

	snap := c.Snapshot()
	assert.True(t, snap.Done)
	assert.Equal(t, "done", snap.Result)

	require.NoError(t, c.Submit(ctx, "req-2", "next", ""))
	assert.Equal(t, "req-2", c.ActiveRequest())
}

func TestAwaitWithoutRequest(t *testing.T) {
	c, _ := newTestController(t, "react")
	_, err := c.Await(context.Background())
	assert.ErrorIs(t, err, ErrNoRequest)
}

func TestCheckpointResumeReissuesPendingTools(t *testing.T) {
	c, exec := newTestController(t, "react")
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "req-1", "q", ""))
	call := exec.lastLLMCall(t, "req-1")
	c.Deliver("req-1", machine.LLMResultEvent{
		CallID: call.ID,
		Response: llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{
				{ID: "tc-1", Name: "calculator", Parameters: map[string]any{"expression": "2+2"}},
				{ID: "tc-2", Name: "calculator", Parameters: map[string]any{"expression": "3+3"}},
			},
		},
	})
	c.Deliver("req-1", machine.ToolResultEvent{CallID: "tc-1", Name: "calculator", Output: "4"})

	token, err := c.Checkpoint()
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// A fresh controller, as after a process restart.
	c2, exec2 := newTestController(t, "react")
	require.NoError(t, c2.Resume(ctx, token))
	assert.Equal(t, "req-1", c2.ActiveRequest())

	// Only the unfinished call is reissued, under its original ID.
	reissued := exec2.toolCalls("req-1")
	require.Len(t, reissued, 1)
	assert.Equal(t, "tc-2", reissued[0].ID)

	c2.Deliver("req-1", machine.ToolResultEvent{CallID: "tc-2", Name: "calculator", Output: "6"})
	followUp := exec2.lastLLMCall(t, "req-1")
	c2.Deliver("req-1", machine.LLMResultEvent{
		CallID:   followUp.ID,
		Response: llm.CompletionResponse{Content: "FINAL ANSWER: 4 and 6"},
	})

	snap := c2.Snapshot()
	assert.True(t, snap.Done)
	assert.Equal(t, "4 and 6", snap.Result)
}

func TestCheckpointResumeReissuesLLMCall(t *testing.T) {
	c, _ := newTestController(t, "react")
	ctx := context.Background()
	require.NoError(t, c.Submit(ctx, "req-1", "q", ""))

	token, err := c.Checkpoint()
	require.NoError(t, err)

	c2, exec2 := newTestController(t, "react")
	require.NoError(t, c2.Resume(ctx, token))
	call := exec2.lastLLMCall(t, "req-1")
	assert.NotEmpty(t, call.ID)
	require.Len(t, call.Messages, 2)
}

func TestResumeStrategyMismatch(t *testing.T) {
	c, _ := newTestController(t, "react")
	require.NoError(t, c.Submit(context.Background(), "req-1", "q", ""))
	token, err := c.Checkpoint()
	require.NoError(t, err)

	other, _ := newTestController(t, "cot")
	err = other.Resume(context.Background(), token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestResumeWhileBusyRejected(t *testing.T) {
	c, _ := newTestController(t, "react")
	ctx := context.Background()
	require.NoError(t, c.Submit(ctx, "req-1", "q", ""))
	token, err := c.Checkpoint()
	require.NoError(t, err)

	busy, _ := newTestController(t, "react")
	require.NoError(t, busy.Submit(ctx, "req-9", "other", ""))
	assert.ErrorIs(t, busy.Resume(ctx, token), ErrBusy)
}

func TestCheckpointWithoutRequest(t *testing.T) {
	c, _ := newTestController(t, "react")
	_, err := c.Checkpoint()
	assert.ErrorIs(t, err, ErrNoRequest)
}
