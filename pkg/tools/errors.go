package tools

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownTool is returned when a call names a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArgs is returned by tools when arguments are missing or mistyped.
	ErrInvalidArgs = errors.New("invalid arguments")
)

// ErrorType classifies tool failures for the retry policy.
type ErrorType string

const (
	ErrTypeTimeout     ErrorType = "timeout"
	ErrTypeUnknownTool ErrorType = "unknown_tool"
	ErrTypeValidation  ErrorType = "validation"
	ErrTypeExecution   ErrorType = "execution"
	ErrTypeCancelled   ErrorType = "cancelled"
)

// ErrorInfo is the classified form of a tool failure fed back into the
// conversation. It is data, not an error value.
type ErrorInfo struct {
	Type      ErrorType      `json:"type"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *ErrorInfo) String() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// PermanentError marks an execution failure that must not be retried. Tools
// return it to short-circuit the retry loop.
type PermanentError struct {
	Underlying error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Underlying)
}

func (e *PermanentError) Unwrap() error {
	return e.Underlying
}

// NewPermanentError wraps err so the pipeline finalizes it without retries.
func NewPermanentError(err error) *PermanentError {
	return &PermanentError{Underlying: err}
}

// Classify maps an execution error onto the {type, message, retryable} shape.
func Classify(err error) *ErrorInfo {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownTool):
		return &ErrorInfo{Type: ErrTypeUnknownTool, Message: err.Error(), Retryable: false}
	case errors.Is(err, ErrInvalidArgs):
		return &ErrorInfo{Type: ErrTypeValidation, Message: err.Error(), Retryable: false}
	case errors.Is(err, context.DeadlineExceeded):
		return &ErrorInfo{Type: ErrTypeTimeout, Message: err.Error(), Retryable: true}
	case errors.Is(err, context.Canceled):
		return &ErrorInfo{Type: ErrTypeCancelled, Message: err.Error(), Retryable: false}
	default:
		var perm *PermanentError
		if errors.As(err, &perm) {
			return &ErrorInfo{Type: ErrTypeExecution, Message: perm.Underlying.Error(), Retryable: false}
		}
		return &ErrorInfo{Type: ErrTypeExecution, Message: err.Error(), Retryable: true}
	}
}
