package fanout

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Finding is one worker's condensed result carried into synthesis.
type Finding struct {
	ChunkID string
	Content string
	Failed  bool
}

// BuildSynthesisPrompt renders the fan-in prompt: counts of completed and
// failed chunks plus each successful finding. The caller sends this as the
// single tools-disabled follow-up after all children have reported.
func BuildSynthesisPrompt(query string, findings []Finding) string {
	completed := 0
	failed := 0
	for i := range findings {
		if findings[i].Failed {
			failed++
		} else {
			completed++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "All workers have finished analyzing the context for this task:\n%s\n\n", query)
	fmt.Fprintf(&sb, "%d of %d chunks completed successfully.", completed, completed+failed)
	if failed > 0 {
		fmt.Fprintf(&sb, " %d chunk(s) failed; their content could not be analyzed.", failed)
	}
	sb.WriteString("\n\nFindings per chunk:\n")
	for i := range findings {
		f := &findings[i]
		if f.Failed {
			fmt.Fprintf(&sb, "- %s: FAILED\n", f.ChunkID)
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", f.ChunkID, condense(f.Content))
	}
	sb.WriteString("\nSynthesize a single final answer from the findings above.")
	return sb.String()
}

// condense flattens a finding to one line, truncated to keep the synthesis
// prompt bounded regardless of worker verbosity.
const maxFindingLen = 600

func condense(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxFindingLen {
		cut := maxFindingLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "…"
	}
	return s
}
