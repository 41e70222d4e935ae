package boundary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reasonrt/pkg/budget"
	"reasonrt/pkg/machine"
)

// spawnWorker reserves a budget slot, runs a child runtime over the assigned
// chunks, and reports the outcome back as a worker event. Every failure mode
// funnels into WorkerEventFailed so the parent's fan-in gate always closes.
func (r *Runtime) spawnWorker(ctx context.Context, requestID string, d machine.SpawnWorkerDirective) {
	if err := r.reserveChild(); err != nil {
		r.log.Warn("%s not spawned: %v", d.Tag, err)
		r.ctrl.Deliver(requestID, machine.WorkerEvent{
			Tag:   d.Tag,
			Kind:  machine.WorkerEventFailed,
			Error: err.Error(),
		})
		return
	}

	child, err := r.newChild(d)
	if err != nil {
		r.ctrl.Deliver(requestID, machine.WorkerEvent{
			Tag:   d.Tag,
			Kind:  machine.WorkerEventFailed,
			Error: err.Error(),
		})
		return
	}

	r.mu.Lock()
	r.children[d.Tag] = child
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.children, d.Tag)
		r.mu.Unlock()
	}()

	r.ctrl.Deliver(requestID, machine.WorkerEvent{Tag: d.Tag, Kind: machine.WorkerEventStarted})

	childRequestID := fmt.Sprintf("%s/%s", requestID, d.Tag)
	contextText := chunkText(d)
	if err := child.Controller().Submit(ctx, childRequestID, d.Query, contextText); err != nil {
		r.ctrl.Deliver(requestID, machine.WorkerEvent{
			Tag:   d.Tag,
			Kind:  machine.WorkerEventFailed,
			Error: err.Error(),
		})
		return
	}

	snap, err := child.Controller().Await(ctx)
	switch {
	case err != nil:
		_ = child.Controller().Cancel("parent gave up")
		r.ctrl.Deliver(requestID, machine.WorkerEvent{
			Tag:   d.Tag,
			Kind:  machine.WorkerEventFailed,
			Error: err.Error(),
		})
	case snap.Status == machine.StatusCompleted:
		r.recordFinding(d, snap.Result, "")
		r.ctrl.Deliver(requestID, machine.WorkerEvent{
			Tag:    d.Tag,
			Kind:   machine.WorkerEventCompleted,
			Result: snap.Result,
		})
	default:
		reason := string(snap.Reason)
		if reason == "" {
			reason = string(snap.Status)
		}
		r.recordFinding(d, "", reason)
		r.ctrl.Deliver(requestID, machine.WorkerEvent{
			Tag:   d.Tag,
			Kind:  machine.WorkerEventFailed,
			Error: reason,
		})
	}
}

// reserveChild books one child slot against the shared budget. A latched
// token overrun blocks further spawning even when slots remain.
func (r *Runtime) reserveChild() error {
	if r.opts.Store == nil || r.opts.BudgetHandle == "" {
		return nil
	}
	b, err := r.opts.Store.Budget(r.opts.BudgetHandle)
	if err != nil {
		return err
	}
	if b.Exceeded() {
		return budget.ErrTokenBudget
	}
	return b.ReserveChild()
}

// newChild builds the child runtime. It shares the parent's client, tool
// registry, budget and workspace; only the recursion depth changes.
func (r *Runtime) newChild(d machine.SpawnWorkerDirective) (*Runtime, error) {
	opts := r.opts
	opts.Machine.Depth = d.Depth
	opts.Log = r.log.WithID(d.Tag)
	// Children inherit the handles; only their creator may destroy them.
	opts.Owner = ""
	return New(opts)
}

// recordFinding writes the child's outcome into the shared workspace so later
// turns and siblings can consult it.
func (r *Runtime) recordFinding(d machine.SpawnWorkerDirective, result, failure string) {
	if r.opts.Store == nil || r.opts.WorkspaceHandle == "" {
		return
	}
	ws, err := r.opts.Store.Workspace(r.opts.WorkspaceHandle)
	if err != nil {
		return
	}
	content := result
	if failure != "" {
		content = failure
	}
	for _, chunkID := range d.ChunkIDs {
		ws.Append(budget.Note{
			Key:       chunkID,
			Author:    d.Tag,
			Content:   content,
			Error:     failure != "",
			CreatedAt: time.Now().UTC(),
		})
	}
}

func chunkText(d machine.SpawnWorkerDirective) string {
	parts := make([]string, 0, len(d.Chunks))
	for _, ch := range d.Chunks {
		parts = append(parts, fmt.Sprintf("[%s, lines %d-%d]\n%s", ch.ID, ch.StartLine, ch.EndLine, ch.Text))
	}
	return strings.Join(parts, "\n\n")
}
