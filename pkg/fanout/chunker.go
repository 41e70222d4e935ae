// Package fanout provides the pure pieces of recursive worker delegation:
// partitioning an addressable context into stable chunks and merging child
// findings into a synthesis prompt.
package fanout

import (
	"fmt"
	"strings"
)

// Chunk is one bounded segment of an addressable context. IDs are stable
// across runs for the same input: chunk-<index> over line ranges.
type Chunk struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	StartLine int    `json:"start_line"` // 1-based, inclusive
	EndLine   int    `json:"end_line"`   // 1-based, inclusive
}

// Split partitions text into chunks of at most maxLines lines each.
func Split(text string, maxLines int) []Chunk {
	if maxLines <= 0 {
		maxLines = 1
	}
	lines := strings.Split(text, "\n")
	// A trailing newline yields one empty trailing element; drop it so chunk
	// counts match the visible line count.
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var chunks []Chunk
	for start := 0; start < len(lines); start += maxLines {
		end := start + maxLines
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, Chunk{
			ID:        fmt.Sprintf("chunk-%d", len(chunks)+1),
			Text:      strings.Join(lines[start:end], "\n"),
			StartLine: start + 1,
			EndLine:   end,
		})
	}
	return chunks
}

// Assign distributes chunks across at most maxWorkers workers, preserving
// chunk order. Returns one chunk-ID group per worker.
func Assign(chunks []Chunk, maxWorkers int) [][]string {
	if len(chunks) == 0 || maxWorkers <= 0 {
		return nil
	}
	workers := maxWorkers
	if len(chunks) < workers {
		workers = len(chunks)
	}
	groups := make([][]string, workers)
	for i, c := range chunks {
		w := i % workers
		groups[w] = append(groups[w], c.ID)
	}
	return groups
}
