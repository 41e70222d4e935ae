// Package boundary executes directives against the outside world: model
// completions, tool runs, child worker spawns, and cancellation. It is the
// only package that turns the machine's declarative output into effects.
package boundary

import (
	"context"
	"strings"
	"sync"
	"time"

	"reasonrt/pkg/budget"
	"reasonrt/pkg/controller"
	"reasonrt/pkg/llm"
	"reasonrt/pkg/logx"
	"reasonrt/pkg/machine"
	"reasonrt/pkg/metrics"
	"reasonrt/pkg/tools"
)

// Options wires a runtime instance. Client, Registry and Store are required;
// the rest default to no-ops.
type Options struct {
	Strategy string
	Machine  machine.Config

	Client   llm.Client
	Registry *tools.Registry

	Store           *budget.Store
	BudgetHandle    budget.Handle
	WorkspaceHandle budget.Handle
	// Owner is the id under which the handles were created. Set it when the
	// caller created them and wants Close to release them; leave it empty
	// for inherited handles.
	Owner string

	Log     *logx.Logger
	Metrics metrics.Recorder
	Journal controller.Journal
}

// Runtime is one reasoning instance: a controller plus the executor that
// performs its directives. Child workers are runtimes too, sharing the
// parent's budget and workspace through the store.
type Runtime struct {
	opts    Options
	ctrl    *controller.Controller
	runner  *tools.Runner
	log     *logx.Logger
	metrics metrics.Recorder

	mu       sync.Mutex
	children map[string]*Runtime
}

// New builds a runtime for the named strategy. The runtime is its own
// controller's executor.
func New(opts Options) (*Runtime, error) {
	if opts.Log == nil {
		opts.Log = logx.NewLogger("runtime")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}

	r := &Runtime{
		opts:     opts,
		runner:   tools.NewRunner(opts.Registry),
		log:      opts.Log,
		metrics:  opts.Metrics,
		children: make(map[string]*Runtime),
	}
	m, err := machine.NewMachine(opts.Strategy, opts.Machine)
	if err != nil {
		return nil, err
	}
	r.ctrl = controller.New(m, r, controller.Options{
		Log:     opts.Log,
		Metrics: opts.Metrics,
		Journal: opts.Journal,
	})
	return r, nil
}

// Controller exposes the lifecycle surface: Submit, Cancel, Await, Snapshot,
// Checkpoint, Resume.
func (r *Runtime) Controller() *controller.Controller { return r.ctrl }

// Close releases the budget and workspace handles registered under Owner.
// Inherited handles are untouched, Destroy ignores non-owners.
func (r *Runtime) Close() {
	if r.opts.Store == nil || r.opts.Owner == "" {
		return
	}
	r.opts.Store.Destroy(r.opts.BudgetHandle, r.opts.Owner)
	r.opts.Store.Destroy(r.opts.WorkspaceHandle, r.opts.Owner)
}

// Execute dispatches one directive. Always asynchronous: the controller holds
// its lock while calling here, and results come back through Deliver.
func (r *Runtime) Execute(ctx context.Context, requestID string, d machine.Directive) {
	switch dd := d.(type) {
	case machine.LLMCallDirective:
		go r.runLLMCall(ctx, requestID, dd)
	case machine.ToolCallDirective:
		go r.runToolCall(ctx, requestID, dd)
	case machine.SpawnWorkerDirective:
		go r.spawnWorker(ctx, requestID, dd)
	case machine.CancelWorkerDirective:
		go r.cancelWorker(dd)
	case machine.EmitSignalDirective:
		r.log.Info("signal %s %v", dd.Signal, dd.Payload)
	case machine.EmitRequestErrorDirective:
		r.log.Warn("request %s rejected: %s", dd.RequestID, dd.Reason)
	default:
		r.log.Error("unhandled directive %s", d.Type())
	}
}

func (r *Runtime) runLLMCall(ctx context.Context, requestID string, d machine.LLMCallDirective) {
	req := llm.CompletionRequest{
		Messages:  d.Messages,
		MaxTokens: d.MaxTokens,
	}
	if !d.DisableTools {
		req.Tools = d.Tools
	}

	resp, err := r.complete(ctx, requestID, d.ID, req)
	if err == nil {
		err = r.chargeTokens(resp.Usage)
	}
	r.ctrl.Deliver(requestID, machine.LLMResultEvent{CallID: d.ID, Response: resp, Err: err})
}

// complete prefers the streaming surface when the client offers one and no
// tools are advertised, feeding deltas into the machine as they arrive.
func (r *Runtime) complete(ctx context.Context, requestID, callID string, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	streamer, ok := r.opts.Client.(llm.Streamer)
	if !ok || len(req.Tools) > 0 {
		return r.opts.Client.Complete(ctx, req)
	}

	chunks, err := streamer.Stream(ctx, req)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return llm.CompletionResponse{}, chunk.Err
		}
		if chunk.Content != "" {
			sb.WriteString(chunk.Content)
			r.ctrl.Deliver(requestID, machine.LLMPartialEvent{CallID: callID, Delta: chunk.Content})
		}
		if chunk.Done {
			break
		}
	}
	return llm.CompletionResponse{Content: sb.String()}, nil
}

// chargeTokens books usage against the shared budget. A latched overrun turns
// the successful completion into a failure so the request terminates.
func (r *Runtime) chargeTokens(usage llm.Usage) error {
	if r.opts.Store == nil || r.opts.BudgetHandle == "" {
		return nil
	}
	b, err := r.opts.Store.Budget(r.opts.BudgetHandle)
	if err != nil {
		return nil
	}
	return b.AddTokens(usage.Total())
}

func (r *Runtime) runToolCall(ctx context.Context, requestID string, d machine.ToolCallDirective) {
	start := time.Now()
	result := r.runner.Execute(ctx, tools.Call{
		CallID:    d.ID,
		Name:      d.ToolName,
		Arguments: d.Arguments,
		Contract: tools.Contract{
			Timeout:    d.Timeout,
			MaxRetries: d.MaxRetries,
			Backoff:    d.RetryBackoff,
		},
	})
	r.metrics.ObserveToolExecution(d.ToolName, result.OK(), result.Attempts, time.Since(start))

	ev := machine.ToolResultEvent{CallID: d.ID, Name: d.ToolName}
	if result.OK() {
		ev.Output = result.Text()
	} else {
		ev.Err = result.Err
	}
	r.ctrl.Deliver(requestID, ev)
}

func (r *Runtime) cancelWorker(d machine.CancelWorkerDirective) {
	r.mu.Lock()
	child := r.children[d.Tag]
	r.mu.Unlock()
	if child == nil {
		return
	}
	if err := child.Controller().Cancel(d.Reason); err == nil {
		r.log.Debug("cancelled %s: %s", d.Tag, d.Reason)
	}
}
