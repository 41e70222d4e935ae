package budget

import (
	"sort"
	"sync"
	"time"
)

// Note is one finding recorded in a workspace, keyed by the chunk or worker
// that produced it.
type Note struct {
	Key       string    `json:"key"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Error     bool      `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Workspace is an append-only scratch space shared by a request and its
// children. Concurrent appends are serialized internally.
type Workspace struct {
	mu    sync.RWMutex
	notes []Note
}

// NewWorkspace creates an empty workspace.
func NewWorkspace() *Workspace {
	return &Workspace{}
}

// Append records a note. Concurrent-safe.
func (w *Workspace) Append(note Note) {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notes = append(w.notes, note)
}

// Notes returns a copy of all notes in append order.
func (w *Workspace) Notes() []Note {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Note, len(w.notes))
	copy(out, w.notes)
	return out
}

// NotesByKey returns all notes for one key, in append order.
func (w *Workspace) NotesByKey(key string) []Note {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []Note
	for i := range w.notes {
		if w.notes[i].Key == key {
			out = append(out, w.notes[i])
		}
	}
	return out
}

// Keys returns the distinct note keys in sorted order.
func (w *Workspace) Keys() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	seen := make(map[string]bool)
	for i := range w.notes {
		seen[w.notes[i].Key] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of notes.
func (w *Workspace) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.notes)
}
