// Package config provides YAML configuration loading and validation for the
// reasoning runtime: model definitions, tool execution contracts, and the
// limits that bound iteration, recursion, and fan-out.
package config

import (
	"fmt"
	"time"
)

// Provider identifies which backend SDK serves a model.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
	ProviderOllama    Provider = "ollama"
)

// Known model name defaults per provider.
const (
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultGoogleModel    = "gemini-2.0-flash"
	DefaultOllamaModel    = "llama3.1"
)

// Model describes one configured LLM backend.
type Model struct {
	Name             string   `yaml:"name"`
	Provider         Provider `yaml:"provider"`
	APIKeyEnv        string   `yaml:"api_key_env"`
	Host             string   `yaml:"host,omitempty"` // Ollama only
	MaxTokens        int      `yaml:"max_tokens"`
	MaxContextTokens int      `yaml:"max_context_tokens"`
	Temperature      float32  `yaml:"temperature"`
	// USD per 1K tokens, used by the metrics recorder.
	PromptCostPer1K     float64 `yaml:"prompt_cost_per_1k"`
	CompletionCostPer1K float64 `yaml:"completion_cost_per_1k"`
}

// Limits bounds a single runtime instance and its worker tree.
type Limits struct {
	MaxIterations   int `yaml:"max_iterations"`
	MaxParseRetries int `yaml:"max_parse_retries"`
	// Recursion / fan-out.
	MaxDepth            int `yaml:"max_depth"`
	MaxChildren         int `yaml:"max_children"`
	ChunkLines          int `yaml:"chunk_lines"`
	FanoutTokens        int `yaml:"fanout_tokens"` // context size that triggers delegation
	TokenBudget         int `yaml:"token_budget"`
	ChildMaxTokensShare int `yaml:"child_max_tokens_share"` // percent of parent budget per child
}

// ToolPolicy is the default execution contract applied to tool calls that do
// not carry their own.
type ToolPolicy struct {
	TimeoutMS      int `yaml:"timeout_ms"`
	MaxRetries     int `yaml:"max_retries"`
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
}

// Timeout returns the policy timeout as a duration.
func (p ToolPolicy) Timeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// Backoff returns the fixed retry backoff as a duration.
func (p ToolPolicy) Backoff() time.Duration {
	return time.Duration(p.RetryBackoffMS) * time.Millisecond
}

// Observability wires optional sinks.
type Observability struct {
	EventLogDir   string `yaml:"event_log_dir"`
	MetricsListen string `yaml:"metrics_listen"` // e.g. ":9090", empty disables
	PrometheusURL string `yaml:"prometheus_url"` // for the query service
	DatabasePath  string `yaml:"database_path"`  // sqlite file, empty disables persistence
	Debug         bool   `yaml:"debug"`
}

// Config is the root configuration document.
type Config struct {
	DefaultModel  string        `yaml:"default_model"`
	Models        []Model       `yaml:"models"`
	Limits        Limits        `yaml:"limits"`
	Tools         ToolPolicy    `yaml:"tools"`
	Observability Observability `yaml:"observability"`
}

// DefaultLimits are applied where the document leaves limits zero.
var DefaultLimits = Limits{
	MaxIterations:       10,
	MaxParseRetries:     2,
	MaxDepth:            2,
	MaxChildren:         8,
	ChunkLines:          40,
	FanoutTokens:        2000,
	TokenBudget:         200000,
	ChildMaxTokensShare: 25,
}

// DefaultToolPolicy is applied where the document leaves the tool policy zero.
var DefaultToolPolicy = ToolPolicy{
	TimeoutMS:      30000,
	MaxRetries:     2,
	RetryBackoffMS: 500,
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("config: at least one model must be configured")
	}
	names := make(map[string]bool, len(c.Models))
	for i := range c.Models {
		m := &c.Models[i]
		if m.Name == "" {
			return fmt.Errorf("config: model %d has no name", i)
		}
		if names[m.Name] {
			return fmt.Errorf("config: duplicate model name %q", m.Name)
		}
		names[m.Name] = true
		switch m.Provider {
		case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
		default:
			return fmt.Errorf("config: model %q has unknown provider %q", m.Name, m.Provider)
		}
		if m.MaxTokens <= 0 {
			return fmt.Errorf("config: model %q must set max_tokens", m.Name)
		}
	}
	if c.DefaultModel != "" && !names[c.DefaultModel] {
		return fmt.Errorf("config: default_model %q is not a configured model", c.DefaultModel)
	}
	if c.Limits.MaxDepth < 0 {
		return fmt.Errorf("config: limits.max_depth must be >= 0")
	}
	if c.Limits.MaxChildren < 0 {
		return fmt.Errorf("config: limits.max_children must be >= 0")
	}
	return nil
}

// FindModel returns the model config by name, or the default model for "".
func (c *Config) FindModel(name string) (*Model, error) {
	if name == "" {
		name = c.DefaultModel
	}
	if name == "" && len(c.Models) > 0 {
		return &c.Models[0], nil
	}
	for i := range c.Models {
		if c.Models[i].Name == name {
			return &c.Models[i], nil
		}
	}
	return nil, fmt.Errorf("config: model %q not configured", name)
}

func (c *Config) applyDefaults() {
	if c.Limits.MaxIterations == 0 {
		c.Limits.MaxIterations = DefaultLimits.MaxIterations
	}
	if c.Limits.MaxParseRetries == 0 {
		c.Limits.MaxParseRetries = DefaultLimits.MaxParseRetries
	}
	if c.Limits.MaxChildren == 0 {
		c.Limits.MaxChildren = DefaultLimits.MaxChildren
	}
	if c.Limits.ChunkLines == 0 {
		c.Limits.ChunkLines = DefaultLimits.ChunkLines
	}
	if c.Limits.FanoutTokens == 0 {
		c.Limits.FanoutTokens = DefaultLimits.FanoutTokens
	}
	if c.Limits.TokenBudget == 0 {
		c.Limits.TokenBudget = DefaultLimits.TokenBudget
	}
	if c.Limits.ChildMaxTokensShare == 0 {
		c.Limits.ChildMaxTokensShare = DefaultLimits.ChildMaxTokensShare
	}
	if c.Tools.TimeoutMS == 0 {
		c.Tools.TimeoutMS = DefaultToolPolicy.TimeoutMS
	}
	if c.Tools.MaxRetries == 0 {
		c.Tools.MaxRetries = DefaultToolPolicy.MaxRetries
	}
	if c.Tools.RetryBackoffMS == 0 {
		c.Tools.RetryBackoffMS = DefaultToolPolicy.RetryBackoffMS
	}
}
