// Package providers constructs llm.Client implementations from model
// configuration.
package providers

import (
	"fmt"

	"reasonrt/pkg/config"
	"reasonrt/pkg/llm"
	"reasonrt/pkg/llm/anthropic"
	"reasonrt/pkg/llm/google"
	"reasonrt/pkg/llm/ollamaclient"
	"reasonrt/pkg/llm/openai"
)

// NewClient builds the raw client for a configured model. Retry and
// instrumentation wrappers are applied by the caller.
func NewClient(model *config.Model) (llm.Client, error) {
	if model.Provider == config.ProviderOllama {
		return ollamaclient.New(model.Host, model.Name), nil
	}

	key, err := config.GetSecret(model.APIKeyEnv)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", model.Name, err)
	}

	switch model.Provider {
	case config.ProviderAnthropic:
		return anthropic.New(key, model.Name), nil
	case config.ProviderOpenAI:
		return openai.New(key, model.Name), nil
	case config.ProviderGoogle:
		return google.New(key, model.Name), nil
	default:
		return nil, fmt.Errorf("model %s: unknown provider %q", model.Name, model.Provider)
	}
}
