package machine

import (
	"fmt"
	"sort"
	"strings"
)

// Strategy specializes the shared transition skeleton for one reasoning
// style. Implementations are stateless; everything request-specific lives in
// State.
type Strategy interface {
	// Name returns the registry key ("react", "cot", ...).
	Name() string

	// SystemPrompt returns the system message for a fresh conversation.
	SystemPrompt() string

	// UserPrompt renders the initial user message for a query.
	UserPrompt(query string) string

	// ExtractFinal decides whether content carries a final answer, and
	// returns it. A false return triggers a bounded parse retry.
	ExtractFinal(content string) (string, bool)

	// RetryPrompt is sent when ExtractFinal fails, asking the model to
	// restate its answer in the expected form.
	RetryPrompt() string

	// ToolsEnabled reports whether this strategy advertises tools.
	ToolsEnabled() bool

	// Decomposes reports whether this strategy delegates oversized contexts
	// to child workers.
	Decomposes() bool
}

const answerMarker = "FINAL ANSWER:"

// extractAfterMarker returns the trimmed text after the last occurrence of
// the answer marker, case-insensitively.
func extractAfterMarker(content string) (string, bool) {
	upper := strings.ToUpper(content)
	idx := strings.LastIndex(upper, answerMarker)
	if idx < 0 {
		return "", false
	}
	answer := strings.TrimSpace(content[idx+len(answerMarker):])
	if answer == "" {
		return "", false
	}
	return answer, true
}

// Registered strategies, keyed by name.
var strategies = map[string]Strategy{}

// RegisterStrategy adds a strategy to the registry. Panics on duplicates so
// wiring mistakes surface at startup.
func RegisterStrategy(s Strategy) {
	if _, exists := strategies[s.Name()]; exists {
		panic(fmt.Sprintf("strategy %q already registered", s.Name()))
	}
	strategies[s.Name()] = s
}

// LookupStrategy returns a strategy by name.
func LookupStrategy(name string) (Strategy, error) {
	s, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (have: %s)", name, strings.Join(StrategyNames(), ", "))
	}
	return s, nil
}

// StrategyNames returns the registered strategy names, sorted.
func StrategyNames() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
