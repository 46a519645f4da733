package llm

import (
	"context"
	"os"
	"time"

	"github.com/ppiankov/concordia/internal/model"
)

// Role tags a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat history
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions tunes a single generation call
type GenerateOptions struct {
	// Model overrides the provider's configured model
	Model string

	// Temperature for sampling; 0 asks for the most deterministic output
	Temperature float32

	// Seed makes sampling reproducible on backends that support it
	Seed *int

	// JSONMode asks the backend to return a single JSON object
	JSONMode bool

	// MaxTokens limits the response length (0 uses the provider default)
	MaxTokens int

	// System is an optional system prompt
	System string
}

// Generator turns prompts into completions
type Generator interface {
	// Name returns the backend name used for rate limiting, metrics and errors
	Name() string

	// Generate completes a single prompt
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// Chat completes a role-tagged message history
	Chat(ctx context.Context, messages []Message, opts GenerateOptions) (string, error)
}

// Embedder turns texts into fixed-dimension vectors
type Embedder interface {
	Name() string

	// Embed returns one vector per input text, in input order
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the vector size of the configured model (0 if unknown)
	Dimension() int
}

// Config holds backend configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// Dimension of embedding vectors (embedders only)
	Dimension int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "", // Disabled by default
		Timeout:   60,
		MaxTokens: 1024,
	}
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

func (c Config) maxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 1024
}

// GeneratorConfigFromModel builds the generation backend config, filling
// API keys from the environment when the config file leaves them empty
func GeneratorConfigFromModel(m model.LLMConfig) Config {
	cfg := Config{
		Provider:   m.Provider,
		Model:      m.Model,
		APIKey:     m.APIKey,
		BaseURL:    m.BaseURL,
		Timeout:    m.Timeout,
		MaxTokens:  m.MaxTokens,
		HTTPProxy:  m.HTTPProxy,
		HTTPSProxy: m.HTTPSProxy,
		NoProxy:    m.NoProxy,
	}
	return withEnv(cfg)
}

// EnsembleConfigsFromModel builds one config per ensemble backend
func EnsembleConfigsFromModel(m model.LLMConfig) []Config {
	configs := make([]Config, 0, len(m.Ensemble))
	for _, b := range m.Ensemble {
		configs = append(configs, withEnv(Config{
			Provider:   b.Provider,
			Model:      b.Model,
			APIKey:     b.APIKey,
			BaseURL:    b.BaseURL,
			Timeout:    m.Timeout,
			MaxTokens:  m.MaxTokens,
			HTTPProxy:  m.HTTPProxy,
			HTTPSProxy: m.HTTPSProxy,
			NoProxy:    m.NoProxy,
		}))
	}
	return configs
}

// EmbedderConfigFromModel builds the embedding backend config
func EmbedderConfigFromModel(m model.EmbeddingConfig, llmCfg model.LLMConfig) Config {
	return withEnv(Config{
		Provider:   m.Provider,
		Model:      m.Model,
		APIKey:     m.APIKey,
		BaseURL:    m.BaseURL,
		Timeout:    llmCfg.Timeout,
		Dimension:  m.Dimension,
		HTTPProxy:  llmCfg.HTTPProxy,
		HTTPSProxy: llmCfg.HTTPSProxy,
		NoProxy:    llmCfg.NoProxy,
	})
}

func withEnv(cfg Config) Config {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	case "anthropic", "claude":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	case "ollama":
		if cfg.BaseURL == "" {
			cfg.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		}
	}
	return cfg
}

// promptMessages converts a single prompt plus options into a chat history
func promptMessages(prompt string, opts GenerateOptions) []Message {
	var messages []Message
	if opts.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: opts.System})
	}
	return append(messages, Message{Role: RoleUser, Content: prompt})
}
