// Package tokens provides tiktoken-based token counting for budget accounting
// and context-size threshold checks.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter provides token counting for a specific model family.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter creates a counter for the given model name. All currently
// supported providers are approximated with the GPT-4 encoding; Claude and
// Gemini tokenize similarly enough for budgeting purposes.
func NewCounter(model string) (*Counter, error) {
	tikModel := tokenizer.GPT4
	if strings.HasPrefix(model, "gpt-4o") {
		tikModel = tokenizer.GPT4o
	}

	codec, err := tokenizer.ForModel(tikModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &Counter{codec: codec}, nil
}

// Count returns the number of tokens in text, falling back to a 4-chars-per-token
// estimate if the codec is unavailable.
func (c *Counter) Count(text string) int {
	if c == nil || c.codec == nil {
		return estimate(text)
	}
	n, err := c.codec.Count(text)
	if err != nil {
		return estimate(text)
	}
	return n
}

func estimate(text string) int {
	return len(text) / 4
}

var (
	defaultCounter     *Counter
	defaultCounterOnce sync.Once
)

// Count counts tokens with a shared GPT-4 codec. Convenience for callers that
// do not care about per-model accuracy.
func Count(text string) int {
	defaultCounterOnce.Do(func() {
		c, err := NewCounter("gpt-4")
		if err == nil {
			defaultCounter = c
		}
	})
	return defaultCounter.Count(text)
}
