package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults, and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a ready-to-use configuration with one model per provider
// whose API key environment variable is set, falling back to Ollama.
func Default() *Config {
	cfg := &Config{
		Limits: DefaultLimits,
		Tools:  DefaultToolPolicy,
	}
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		cfg.Models = append(cfg.Models, Model{
			Name:             DefaultAnthropicModel,
			Provider:         ProviderAnthropic,
			APIKeyEnv:        "ANTHROPIC_API_KEY",
			MaxTokens:        8192,
			MaxContextTokens: 200000,
		})
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		cfg.Models = append(cfg.Models, Model{
			Name:             DefaultOpenAIModel,
			Provider:         ProviderOpenAI,
			APIKeyEnv:        "OPENAI_API_KEY",
			MaxTokens:        8192,
			MaxContextTokens: 128000,
		})
	}
	if os.Getenv("GEMINI_API_KEY") != "" {
		cfg.Models = append(cfg.Models, Model{
			Name:             DefaultGoogleModel,
			Provider:         ProviderGoogle,
			APIKeyEnv:        "GEMINI_API_KEY",
			MaxTokens:        8192,
			MaxContextTokens: 1000000,
		})
	}
	if len(cfg.Models) == 0 {
		cfg.Models = append(cfg.Models, Model{
			Name:             DefaultOllamaModel,
			Provider:         ProviderOllama,
			MaxTokens:        4096,
			MaxContextTokens: 32768,
		})
	}
	cfg.DefaultModel = cfg.Models[0].Name
	return cfg
}
