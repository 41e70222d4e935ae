package fanout

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return strings.Join(lines, "\n")
}

func TestSplitExact(t *testing.T) {
	chunks := Split(numberedLines(100), 40)
	require.Len(t, chunks, 3)

	assert.Equal(t, "chunk-1", chunks[0].ID)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 40, chunks[0].EndLine)
	assert.Equal(t, 41, chunks[1].StartLine)
	assert.Equal(t, 81, chunks[2].StartLine)
	assert.Equal(t, 100, chunks[2].EndLine)
	assert.True(t, strings.HasPrefix(chunks[2].Text, "line 81"))
}

func TestSplitTrailingNewline(t *testing.T) {
	chunks := Split("a\nb\nc\n", 2)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c", chunks[1].Text)
}

func TestSplitStableIDs(t *testing.T) {
	a := Split(numberedLines(50), 10)
	b := Split(numberedLines(50), 10)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
	}
}

func TestAssignRoundRobin(t *testing.T) {
	chunks := Split(numberedLines(100), 10) // 10 chunks
	groups := Assign(chunks, 3)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"chunk-1", "chunk-4", "chunk-7", "chunk-10"}, groups[0])
	assert.Equal(t, []string{"chunk-2", "chunk-5", "chunk-8"}, groups[1])
}

func TestAssignFewerChunksThanWorkers(t *testing.T) {
	chunks := Split(numberedLines(3), 1)
	groups := Assign(chunks, 8)
	require.Len(t, groups, 3, "never create idle workers")
}

func TestBuildSynthesisPromptCountsErrors(t *testing.T) {
	prompt := BuildSynthesisPrompt("summarize the log", []Finding{
		{ChunkID: "chunk-1", Content: "found two timeouts"},
		{ChunkID: "chunk-2", Content: "clean"},
		{ChunkID: "chunk-3", Failed: true},
	})
	assert.Contains(t, prompt, "2 of 3 chunks completed")
	assert.Contains(t, prompt, "1 chunk(s) failed")
	assert.Contains(t, prompt, "chunk-1: found two timeouts")
	assert.Contains(t, prompt, "chunk-3: FAILED")
}

func TestBuildSynthesisPromptNoErrorNoteWhenClean(t *testing.T) {
	prompt := BuildSynthesisPrompt("q", []Finding{
		{ChunkID: "chunk-1", Content: "a"},
		{ChunkID: "chunk-2", Content: "b"},
	})
	assert.NotContains(t, prompt, "failed")
	assert.Contains(t, prompt, "2 of 2 chunks completed")
}

func TestCondenseBoundsLongFindings(t *testing.T) {
	long := strings.Repeat("word ", 500)
	prompt := BuildSynthesisPrompt("q", []Finding{{ChunkID: "chunk-1", Content: long}})
	assert.Less(t, len(prompt), 1000)
}

func TestCondenseTruncatesOnRuneBoundary(t *testing.T) {
	// One ASCII byte shifts the 3-byte runes so the length cap falls
	// mid-rune.
	long := "a" + strings.Repeat("語", 300)
	out := condense(long)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, "…"))
}
