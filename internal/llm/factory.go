package llm

import (
	"fmt"
	"strings"
)

// NewGenerator creates a generation backend based on configuration.
// An empty provider returns nil, nil: generation is disabled.
func NewGenerator(config Config) (Generator, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, anthropic, ollama)", config.Provider)
	}
}

// NewEmbedder creates an embedding backend. An empty provider disables embeddings.
func NewEmbedder(config Config) (Embedder, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, ollama)", config.Provider)
	}
}

// NewGenerators builds every configured backend, skipping disabled ones
func NewGenerators(configs []Config) ([]Generator, error) {
	var out []Generator
	for _, cfg := range configs {
		g, err := NewGenerator(cfg)
		if err != nil {
			return nil, fmt.Errorf("ensemble backend %s/%s: %w", cfg.Provider, cfg.Model, err)
		}
		if g != nil {
			out = append(out, g)
		}
	}
	return out, nil
}
