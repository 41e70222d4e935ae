package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reasonrt/pkg/logx"
)

// Contract bounds one tool execution: overall deadline per attempt, retry
// count, and a fixed backoff between attempts.
type Contract struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// Call is one tool invocation handed to the pipeline.
type Call struct {
	CallID    string
	Name      string
	Arguments map[string]any
	Contract  Contract
}

// Result is the single terminal outcome of one call. Either Output is set or
// Err is set, never both.
type Result struct {
	CallID   string
	Name     string
	Output   string
	Err      *ErrorInfo
	Attempts int
	Duration time.Duration
}

// OK reports whether the call succeeded.
func (r *Result) OK() bool {
	return r.Err == nil
}

// Text returns the output for the conversation: the tool output on success,
// or a structured error description on failure. Failures are surfaced to the
// model, never dropped.
func (r *Result) Text() string {
	if r.Err != nil {
		return fmt.Sprintf("tool %s failed (%s): %s", r.Name, r.Err.Type, r.Err.Message)
	}
	return r.Output
}

// Runner executes tool calls under their contracts. It produces exactly one
// Result per call, whatever happens inside the tool.
type Runner struct {
	registry *Registry
	logger   *logx.Logger
}

// NewRunner creates a runner over the given registry.
func NewRunner(registry *Registry) *Runner {
	return &Runner{
		registry: registry,
		logger:   logx.NewLogger("tool-runner"),
	}
}

// Execute runs one call to completion. Unknown tools fail fast; retryable
// failures are retried up to the contract's MaxRetries with fixed backoff;
// the final failure is classified and returned, not raised.
func (r *Runner) Execute(ctx context.Context, call Call) Result {
	start := time.Now()
	result := Result{CallID: call.CallID, Name: call.Name}

	tool, err := r.registry.Get(call.Name)
	if err != nil {
		result.Err = Classify(err)
		result.Duration = time.Since(start)
		r.logger.Warn("call %s names unregistered tool %q", call.CallID, call.Name)
		return result
	}

	var lastErr *ErrorInfo
	for attempt := 0; attempt <= call.Contract.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				result.Err = Classify(ctx.Err())
				result.Attempts = attempt
				result.Duration = time.Since(start)
				return result
			case <-time.After(call.Contract.Backoff):
			}
		}

		output, execErr := r.runOnce(ctx, tool, call)
		result.Attempts = attempt + 1
		if execErr == nil {
			result.Output = output
			result.Duration = time.Since(start)
			if attempt > 0 {
				r.logger.Info("tool %s call %s succeeded on attempt %d", call.Name, call.CallID, attempt+1)
			}
			return result
		}

		lastErr = Classify(execErr)
		if !lastErr.Retryable {
			break
		}
		r.logger.Warn("tool %s call %s attempt %d failed (%s), retrying", call.Name, call.CallID, attempt+1, lastErr.Type)
	}

	if lastErr.Retryable {
		// Retries exhausted: the terminal classification is no longer retryable.
		lastErr = &ErrorInfo{
			Type:      lastErr.Type,
			Message:   fmt.Sprintf("retries exhausted after %d attempts: %s", result.Attempts, lastErr.Message),
			Retryable: false,
			Details:   lastErr.Details,
		}
	}
	result.Err = lastErr
	result.Duration = time.Since(start)
	r.logger.Error("tool %s call %s finalized with error: %s", call.Name, call.CallID, lastErr)
	return result
}

// runOnce applies the per-attempt timeout and renders the tool output as text.
func (r *Runner) runOnce(ctx context.Context, tool Tool, call Call) (string, error) {
	attemptCtx := ctx
	if call.Contract.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, call.Contract.Timeout)
		defer cancel()
	}

	done := make(chan struct{})
	var out any
	var execErr error
	go func() {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				execErr = NewPermanentError(fmt.Errorf("tool panicked: %v", rec))
			}
		}()
		out, execErr = tool.Exec(attemptCtx, call.Arguments)
	}()

	select {
	case <-attemptCtx.Done():
		// The goroutine is abandoned; a well-behaved tool observes ctx and
		// unwinds shortly after.
		return "", attemptCtx.Err()
	case <-done:
	}

	if execErr != nil {
		return "", execErr
	}
	return renderOutput(out), nil
}

func renderOutput(out any) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
