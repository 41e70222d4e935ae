// Package llmerrors provides structured error classification for LLM API
// interactions, driving the retry policy per error category.
package llmerrors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorType categorizes LLM failures for retry decisions.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents rate limiting (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient failures (5xx, EOF, reset, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents a 200 with no usable content.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth represents authentication failures (401/403).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed or rejected requests.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default for unclassified failures.
	ErrorTypeUnknown
)

// String returns the label for the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Retryable reports whether errors of this type should be retried.
func (et ErrorType) Retryable() bool {
	switch et {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse:
		return true
	default:
		return false
	}
}

// Error is a classified LLM failure.
type Error struct {
	Type       ErrorType
	StatusCode int
	Message    string
	// RetryAfter carries a provider-supplied backoff hint, zero if absent.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm %s error (HTTP %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm %s error: %s", e.Type, e.Message)
}

// New creates a classified error.
func New(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// NewStatus creates a classified error carrying an HTTP status.
func NewStatus(t ErrorType, status int, msg string) *Error {
	return &Error{Type: t, StatusCode: status, Message: msg}
}

// Classify maps an arbitrary client error to a typed Error. Existing typed
// errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Type: ErrorTypeTransient, Message: err.Error()}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case hasCode(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return &Error{Type: ErrorTypeRateLimit, Message: err.Error()}
	case hasCode(msg, "401") || hasCode(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key"):
		return &Error{Type: ErrorTypeAuth, Message: err.Error()}
	case hasCode(msg, "500") || hasCode(msg, "502") ||
		hasCode(msg, "503") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "eof") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout"):
		return &Error{Type: ErrorTypeTransient, Message: err.Error()}
	case hasCode(msg, "400") || strings.Contains(msg, "context length") ||
		strings.Contains(msg, "too long") || strings.Contains(msg, "invalid request"):
		return &Error{Type: ErrorTypeBadPrompt, Message: err.Error()}
	default:
		return &Error{Type: ErrorTypeUnknown, Message: err.Error()}
	}
}

// hasCode reports whether msg contains code as a standalone number. Plain
// substring matching misfires on digits inside larger numbers, e.g. "500"
// inside a token count.
func hasCode(msg, code string) bool {
	for i := 0; ; i++ {
		j := strings.Index(msg[i:], code)
		if j < 0 {
			return false
		}
		i += j
		end := i + len(code)
		if (i == 0 || !isDigit(msg[i-1])) && (end == len(msg) || !isDigit(msg[end])) {
			return true
		}
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// StatusToType maps an HTTP status code to an error type.
func StatusToType(status int) ErrorType {
	switch {
	case status == 429:
		return ErrorTypeRateLimit
	case status == 401 || status == 403:
		return ErrorTypeAuth
	case status >= 500:
		return ErrorTypeTransient
	case status >= 400:
		return ErrorTypeBadPrompt
	default:
		return ErrorTypeUnknown
	}
}
