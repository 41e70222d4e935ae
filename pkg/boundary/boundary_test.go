package boundary

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reasonrt/pkg/budget"
	"reasonrt/pkg/llm"
	"reasonrt/pkg/machine"
	"reasonrt/pkg/tools"
)

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.NewCalculatorTool()))
	return registry
}

func testMachineConfig() machine.Config {
	return machine.Config{
		Model:           "mock-model",
		MaxTokens:       512,
		MaxIterations:   10,
		MaxParseRetries: 2,
		ToolTimeout:     5 * time.Second,
		ToolMaxRetries:  1,
		ToolBackoff:     time.Millisecond,
		Depth:           1,
		FanoutTokens:    10,
		ChunkLines:      2,
		MaxChildren:     2,
	}
}

func awaitResult(t *testing.T, r *Runtime) machine.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := r.Controller().Await(ctx)
	require.NoError(t, err)
	return snap
}

func TestToolLoopEndToEnd(t *testing.T) {
	client := llm.NewMockClient("mock-model",
		llm.ToolStep(llm.ToolCall{
			ID:         "tc-1",
			Name:       "calculator",
			Parameters: map[string]any{"expression": "2+2"},
		}),
		llm.TextStep("The tool says 4.\nFINAL ANSWER: 4"),
	)

	r, err := New(Options{
		Strategy: "react",
		Machine:  testMachineConfig(),
		Client:   client,
		Registry: testRegistry(t),
	})
	require.NoError(t, err)

	require.NoError(t, r.Controller().Submit(context.Background(), "req-1", "what is 2+2?", ""))
	snap := awaitResult(t, r)

	assert.True(t, snap.Done)
	assert.Equal(t, "4", snap.Result)
	assert.Equal(t, 2, client.CallCount())

	// The second completion must carry the tool result back to the model.
	second := client.Requests()[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "4", last.Content)
}

func TestLLMFailureTerminatesRequest(t *testing.T) {
	client := llm.NewMockClient("mock-model", llm.ErrStep(fmt.Errorf("upstream down")))

	r, err := New(Options{
		Strategy: "react",
		Machine:  testMachineConfig(),
		Client:   client,
		Registry: testRegistry(t),
	})
	require.NoError(t, err)

	require.NoError(t, r.Controller().Submit(context.Background(), "req-1", "q", ""))
	snap := awaitResult(t, r)

	assert.True(t, snap.Done)
	assert.Equal(t, machine.ReasonLLMError, snap.Reason)
}

func fanoutContext(lines int) string {
	var sb strings.Builder
	for i := 1; i <= lines; i++ {
		fmt.Fprintf(&sb, "line %d of the corpus\n", i)
	}
	return sb.String()
}

func TestFanoutEndToEnd(t *testing.T) {
	// One worker takes all chunks so the script stays deterministic: first
	// the child's completion, then the parent's synthesis.
	cfg := testMachineConfig()
	cfg.MaxChildren = 1

	client := llm.NewMockClient("mock-model",
		llm.TextStep("FINAL ANSWER: the corpus counts its own lines"),
		llm.TextStep("FINAL ANSWER: a self-describing corpus"),
	)

	store := budget.NewStore()
	budgetHandle := store.CreateBudget("root", 4, 100000)
	workspaceHandle := store.CreateWorkspace("root")

	r, err := New(Options{
		Strategy:        "decompose",
		Machine:         cfg,
		Client:          client,
		Registry:        testRegistry(t),
		Store:           store,
		BudgetHandle:    budgetHandle,
		WorkspaceHandle: workspaceHandle,
	})
	require.NoError(t, err)

	require.NoError(t, r.Controller().Submit(context.Background(), "req-1", "what is this about?", fanoutContext(4)))
	snap := awaitResult(t, r)

	assert.True(t, snap.Done)
	assert.Equal(t, "a self-describing corpus", snap.Result)

	// The child booked its slot and left per-chunk findings behind.
	b, err := store.Budget(budgetHandle)
	require.NoError(t, err)
	childrenUsed, _, tokensUsed, _ := b.Usage()
	assert.Equal(t, 1, childrenUsed)
	assert.Positive(t, tokensUsed)

	ws, err := store.Workspace(workspaceHandle)
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk-1", "chunk-2"}, ws.Keys())

	// The synthesis request went out without tools.
	synthesis := client.Requests()[client.CallCount()-1]
	assert.Empty(t, synthesis.Tools)
	last := synthesis.Messages[len(synthesis.Messages)-1]
	assert.Contains(t, last.Content, "2 of 2 chunks completed successfully")
}

func TestFanoutToleratesBlockedSpawns(t *testing.T) {
	// Zero child slots: every spawn fails, yet the request still finishes
	// through synthesis over the failure report.
	client := llm.NewMockClient("mock-model",
		llm.TextStep("FINAL ANSWER: nothing could be analyzed"),
	)

	store := budget.NewStore()
	budgetHandle := store.CreateBudget("root", 0, 100000)

	r, err := New(Options{
		Strategy:     "decompose",
		Machine:      testMachineConfig(),
		Client:       client,
		Registry:     testRegistry(t),
		Store:        store,
		BudgetHandle: budgetHandle,
	})
	require.NoError(t, err)

	require.NoError(t, r.Controller().Submit(context.Background(), "req-1", "analyze", fanoutContext(4)))
	snap := awaitResult(t, r)

	assert.True(t, snap.Done)
	assert.Equal(t, "nothing could be analyzed", snap.Result)
	require.Equal(t, 1, client.CallCount())

	synthesis := client.Requests()[0]
	last := synthesis.Messages[len(synthesis.Messages)-1]
	assert.Contains(t, last.Content, "0 of 2 chunks completed successfully")
	assert.Contains(t, last.Content, "2 chunk(s) failed")
}

func TestUnknownToolReportedToModel(t *testing.T) {
	client := llm.NewMockClient("mock-model",
		llm.ToolStep(llm.ToolCall{ID: "tc-1", Name: "no_such_tool"}),
		llm.TextStep("FINAL ANSWER: gave up on the tool"),
	)

	r, err := New(Options{
		Strategy: "react",
		Machine:  testMachineConfig(),
		Client:   client,
		Registry: testRegistry(t),
	})
	require.NoError(t, err)

	require.NoError(t, r.Controller().Submit(context.Background(), "req-1", "q", ""))
	snap := awaitResult(t, r)

	assert.True(t, snap.Done)
	assert.Equal(t, "gave up on the tool", snap.Result)

	second := client.Requests()[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Contains(t, last.Content, "no_such_tool")
	assert.Contains(t, last.Content, "failed")
}

func TestFailedWorkerNoteCarriesReason(t *testing.T) {
	// The child's only LLM call errors out, so its chunks are recorded as
	// failed findings with the reason preserved for later consultation.
	cfg := testMachineConfig()
	cfg.MaxChildren = 1

	client := llm.NewMockClient("mock-model",
		llm.ErrStep(fmt.Errorf("503 service unavailable")),
		llm.TextStep("FINAL ANSWER: analysis incomplete"),
	)

	store := budget.NewStore()
	budgetHandle := store.CreateBudget("root", 4, 100000)
	workspaceHandle := store.CreateWorkspace("root")

	r, err := New(Options{
		Strategy:        "decompose",
		Machine:         cfg,
		Client:          client,
		Registry:        testRegistry(t),
		Store:           store,
		BudgetHandle:    budgetHandle,
		WorkspaceHandle: workspaceHandle,
	})
	require.NoError(t, err)

	require.NoError(t, r.Controller().Submit(context.Background(), "req-1", "analyze", fanoutContext(4)))
	snap := awaitResult(t, r)
	assert.True(t, snap.Done)

	ws, err := store.Workspace(workspaceHandle)
	require.NoError(t, err)
	for _, key := range []string{"chunk-1", "chunk-2"} {
		notes := ws.NotesByKey(key)
		require.Len(t, notes, 1)
		assert.True(t, notes[0].Error)
		assert.Equal(t, string(machine.ReasonLLMError), notes[0].Content)
	}
}

func TestCloseReleasesOwnedHandles(t *testing.T) {
	store := budget.NewStore()
	budgetHandle := store.CreateBudget("root", 4, 100000)
	workspaceHandle := store.CreateWorkspace("root")

	inherited, err := New(Options{
		Strategy:        "react",
		Machine:         testMachineConfig(),
		Client:          llm.NewMockClient("mock-model"),
		Registry:        testRegistry(t),
		Store:           store,
		BudgetHandle:    budgetHandle,
		WorkspaceHandle: workspaceHandle,
	})
	require.NoError(t, err)

	inherited.Close()
	nb, nw := store.Len()
	assert.Equal(t, 1, nb)
	assert.Equal(t, 1, nw)

	owner, err := New(Options{
		Strategy:        "react",
		Machine:         testMachineConfig(),
		Client:          llm.NewMockClient("mock-model"),
		Registry:        testRegistry(t),
		Store:           store,
		BudgetHandle:    budgetHandle,
		WorkspaceHandle: workspaceHandle,
		Owner:           "root",
	})
	require.NoError(t, err)

	owner.Close()
	nb, nw = store.Len()
	assert.Zero(t, nb)
	assert.Zero(t, nw)
}
