// Package logx provides structured leveled logging with per-component identifiers.
package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Level represents a log severity level.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	debugEnabled bool
	debugMu      sync.RWMutex

	output   io.Writer = os.Stderr
	outputMu sync.RWMutex
)

// SetDebug enables or disables debug-level output globally.
func SetDebug(enabled bool) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugEnabled = enabled
}

// DebugEnabled reports whether debug logging is currently on.
func DebugEnabled() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugEnabled
}

// SetOutput redirects all logger output. Passing nil restores stderr.
// Intended for tests.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
}

// Logger writes leveled log lines tagged with a component ID.
type Logger struct {
	id     string
	logger *log.Logger
}

// NewLogger creates a logger for the given component ID (e.g. "controller:react-1").
func NewLogger(id string) *Logger {
	outputMu.RLock()
	w := output
	outputMu.RUnlock()
	return &Logger{
		id:     id,
		logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// WithID returns a logger that shares output but carries a different component ID.
func (l *Logger) WithID(id string) *Logger {
	return &Logger{id: id, logger: l.logger}
}

// ID returns the component identifier this logger is tagged with.
func (l *Logger) ID() string {
	return l.id
}

func (l *Logger) logf(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] %s: %s", l.id, level, msg)
}

// Debug logs a debug message. Suppressed unless SetDebug(true) was called.
func (l *Logger) Debug(format string, args ...any) {
	if !DebugEnabled() {
		return
	}
	l.logf(LevelDebug, format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.logf(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.logf(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.logf(LevelError, format, args...)
}
