// Package controller owns the lifecycle of one reasoning runtime instance:
// it serializes events into the state machine, hands directives to an
// executor, enforces single-flight admission, suppresses late deliveries from
// superseded requests, and snapshots progress for pollers.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"reasonrt/pkg/logx"
	"reasonrt/pkg/machine"
	"reasonrt/pkg/metrics"
)

var (
	// ErrBusy rejects a submission while another request is in flight.
	ErrBusy = errors.New("controller: request already in flight")
	// ErrNoRequest is returned by Cancel and Await when nothing is active.
	ErrNoRequest = errors.New("controller: no active request")
)

// Executor performs directives on behalf of the controller. Implementations
// run asynchronously and report outcomes back through Deliver; they must not
// call back into the controller synchronously from Execute.
type Executor interface {
	Execute(ctx context.Context, requestID string, d machine.Directive)
}

// Journal receives every event and directive that crosses the controller, in
// application order. Implementations must be safe for concurrent use.
type Journal interface {
	Event(requestID string, ev machine.Event)
	Directive(requestID string, d machine.Directive)
}

type nopJournal struct{}

func (nopJournal) Event(string, machine.Event)         {}
func (nopJournal) Directive(string, machine.Directive) {}

// Options carries the controller's collaborators. Zero values fall back to
// no-op implementations.
type Options struct {
	Log     *logx.Logger
	Metrics metrics.Recorder
	Journal Journal
}

// Controller drives one machine instance. All state transitions happen under
// a single mutex, so events apply in a total order no matter which goroutine
// delivers them.
type Controller struct {
	mu      sync.Mutex
	machine *machine.Machine
	state   machine.State
	exec    Executor

	log     *logx.Logger
	metrics metrics.Recorder
	journal Journal

	activeRequest string
	startedAt     time.Time
	done          chan struct{}
	reqCtx        context.Context
	reqCancel     context.CancelFunc
}

// New builds a controller around a machine and an executor.
func New(m *machine.Machine, exec Executor, opts Options) *Controller {
	if opts.Log == nil {
		opts.Log = logx.NewLogger("controller")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	if opts.Journal == nil {
		opts.Journal = nopJournal{}
	}
	return &Controller{
		machine: m,
		exec:    exec,
		state:   machine.NewState(),
		log:     opts.Log,
		metrics: opts.Metrics,
		journal: opts.Journal,
	}
}

// Submit starts a new request. At most one request is in flight per
// controller; while one is active the new request is rejected with ErrBusy
// and an EmitRequestError directive so the caller side sees the rejection
// through the same channel as every other outcome. A terminal state accepts a
// new submission as a conversation continuation.
func (c *Controller) Submit(ctx context.Context, requestID, query, contextText string) error {
	c.mu.Lock()
	if c.activeRequest != "" && !c.state.Status.Terminal() {
		active := c.activeRequest
		c.mu.Unlock()
		c.log.Warn("rejecting request %s: %s still in flight", requestID, active)
		c.exec.Execute(ctx, requestID, machine.EmitRequestErrorDirective{
			RequestID: requestID,
			Reason:    "busy",
		})
		return ErrBusy
	}

	c.activeRequest = requestID
	c.startedAt = time.Now()
	c.done = make(chan struct{})
	c.reqCtx, c.reqCancel = context.WithCancel(ctx)

	ev := machine.StartEvent{Query: query, Context: contextText}
	c.applyLocked(ev)
	c.mu.Unlock()
	return nil
}

// Deliver routes an event from the executor into the machine. Events tagged
// with a request ID other than the active one are dropped: a late tool result
// or child outcome from a cancelled request must not disturb its successor.
func (c *Controller) Deliver(requestID string, ev machine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if requestID != c.activeRequest {
		c.log.Debug("suppressing %T for stale request %s (active %s)", ev, requestID, c.activeRequest)
		return
	}
	if c.state.Status.Terminal() {
		c.log.Debug("suppressing %T for finished request %s", ev, requestID)
		return
	}
	c.applyLocked(ev)
}

// Cancel aborts the active request. The machine transitions to a terminal
// error state immediately; in-flight work is cut off through the request
// context and any directives it still produces are suppressed as late.
func (c *Controller) Cancel(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeRequest == "" || c.state.Status.Terminal() {
		return ErrNoRequest
	}
	c.applyLocked(machine.CancelEvent{Reason: reason})
	return nil
}

// Snapshot returns the current externally visible progress. Uniform shape for
// running and finished requests, so pollers need no special cases.
func (c *Controller) Snapshot() machine.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return machine.TakeSnapshot(c.state)
}

// Await blocks until the active request reaches a terminal state or ctx
// expires, then returns the final snapshot.
func (c *Controller) Await(ctx context.Context) (machine.Snapshot, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return machine.Snapshot{}, ErrNoRequest
	}
	select {
	case <-done:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// ActiveRequest returns the in-flight request ID, or "" when idle.
func (c *Controller) ActiveRequest() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeRequest == "" || c.state.Status.Terminal() {
		return ""
	}
	return c.activeRequest
}

// applyLocked runs one event through the machine and dispatches the resulting
// directives. Callers hold c.mu.
func (c *Controller) applyLocked(ev machine.Event) {
	c.journal.Event(c.activeRequest, ev)
	next, directives := c.machine.Update(c.state, ev)
	wasTerminal := c.state.Status.Terminal()
	c.state = next

	ctx := c.reqCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, d := range directives {
		c.journal.Directive(c.activeRequest, d)
		if spawn, ok := d.(machine.SpawnWorkerDirective); ok {
			c.metrics.IncWorkerSpawn(c.machine.Strategy().Name())
			c.log.Debug("spawning %s over %d chunk(s)", spawn.Tag, len(spawn.ChunkIDs))
		}
		c.exec.Execute(ctx, c.activeRequest, d)
	}

	if c.state.Status.Terminal() && !wasTerminal {
		c.finishLocked()
	}
}

// finishLocked records the terminal outcome and releases waiters.
func (c *Controller) finishLocked() {
	outcome := "completed"
	if c.state.Status == machine.StatusError {
		outcome = string(c.state.TerminationReason)
	}
	c.metrics.ObserveRequestOutcome(c.machine.Strategy().Name(), outcome, time.Since(c.startedAt))
	c.log.Info("request %s finished: %s", c.activeRequest, outcome)

	if c.reqCancel != nil {
		c.reqCancel()
		c.reqCancel = nil
		c.reqCtx = nil
	}
	if c.done != nil {
		close(c.done)
	}
}

// String identifies the controller for logs.
func (c *Controller) String() string {
	return fmt.Sprintf("controller(%s)", c.machine.Strategy().Name())
}
