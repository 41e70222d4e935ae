// Package eventlog appends every event and directive crossing a controller
// to daily rotated JSONL files, one record per line, for replay and audit.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"reasonrt/pkg/machine"
)

// Record is one logged occurrence. Detail carries a compact summary rather
// than full payloads; conversations can be reconstructed from checkpoints.
type Record struct {
	Time      time.Time      `json:"time"`
	RequestID string         `json:"request_id"`
	Kind      string         `json:"kind"` // "event" or "directive"
	Type      string         `json:"type"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Writer appends records to daily rotated JSONL files.
type Writer struct {
	mu          sync.Mutex
	logDir      string
	currentFile *os.File
	currentDate string
}

// NewWriter creates a writer rooted at logDir, creating it if needed.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	w := &Writer{logDir: logDir}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("initialize log file: %w", err)
	}
	return w, nil
}

// Event logs one inbound machine event. Satisfies the controller's journal.
func (w *Writer) Event(requestID string, ev machine.Event) {
	typ, detail := describeEvent(ev)
	w.append(Record{Time: time.Now().UTC(), RequestID: requestID, Kind: "event", Type: typ, Detail: detail})
}

// Directive logs one outbound directive. Satisfies the controller's journal.
func (w *Writer) Directive(requestID string, d machine.Directive) {
	w.append(Record{
		Time:      time.Now().UTC(),
		RequestID: requestID,
		Kind:      "directive",
		Type:      d.Type(),
		Detail:    describeDirective(d),
	})
}

// append writes one record; logging must never fail the caller, so errors
// are swallowed after a best-effort write.
func (w *Writer) append(rec Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateIfNeeded(); err != nil {
		return
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if _, err := w.currentFile.Write(line); err != nil {
		return
	}
	_, _ = w.currentFile.WriteString("\n")
	_ = w.currentFile.Sync()
}

func (w *Writer) rotateIfNeeded() error {
	date := time.Now().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == date {
		return nil
	}
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
	}
	path := filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	w.currentFile = file
	w.currentDate = date
	return nil
}

// Close flushes and closes the current log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	w.currentDate = ""
	return err
}

func describeEvent(ev machine.Event) (string, map[string]any) {
	switch e := ev.(type) {
	case machine.StartEvent:
		return "start", map[string]any{"query_len": len(e.Query), "context_len": len(e.Context)}
	case machine.LLMResultEvent:
		detail := map[string]any{"call_id": e.CallID, "tool_calls": len(e.Response.ToolCalls)}
		if e.Err != nil {
			detail["error"] = e.Err.Error()
		}
		return "llm_result", detail
	case machine.LLMPartialEvent:
		return "llm_partial", map[string]any{"call_id": e.CallID, "delta_len": len(e.Delta)}
	case machine.ToolResultEvent:
		detail := map[string]any{"call_id": e.CallID, "tool": e.Name}
		if e.Err != nil {
			detail["error_type"] = string(e.Err.Type)
		}
		return "tool_result", detail
	case machine.WorkerEvent:
		detail := map[string]any{"tag": e.Tag, "kind": string(e.Kind)}
		if e.Error != "" {
			detail["error"] = e.Error
		}
		return "worker_event", detail
	case machine.CancelEvent:
		return "cancel", map[string]any{"reason": e.Reason}
	default:
		return fmt.Sprintf("%T", ev), nil
	}
}

func describeDirective(d machine.Directive) map[string]any {
	switch dd := d.(type) {
	case machine.LLMCallDirective:
		return map[string]any{"id": dd.ID, "model": dd.Model, "messages": len(dd.Messages), "tools_disabled": dd.DisableTools}
	case machine.ToolCallDirective:
		return map[string]any{"id": dd.ID, "tool": dd.ToolName}
	case machine.SpawnWorkerDirective:
		return map[string]any{"tag": dd.Tag, "chunks": len(dd.ChunkIDs), "depth": dd.Depth}
	case machine.CancelWorkerDirective:
		return map[string]any{"tag": dd.Tag, "reason": dd.Reason}
	case machine.EmitSignalDirective:
		return map[string]any{"signal": dd.Signal}
	case machine.EmitRequestErrorDirective:
		return map[string]any{"request_id": dd.RequestID, "reason": dd.Reason}
	default:
		return nil
	}
}
