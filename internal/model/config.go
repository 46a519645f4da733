package model

import "time"

// Config is the complete runtime configuration
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding" mapstructure:"embedding"`
	Vector       VectorConfig       `yaml:"vector" mapstructure:"vector"`
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitConfig    `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Reconcile    ReconcileConfig    `yaml:"reconcile" mapstructure:"reconcile"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Authority    AuthorityConfig    `yaml:"authority" mapstructure:"authority"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
}

// StoreConfig locates the relational store
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LLMConfig configures the generation backend
type LLMConfig struct {
	Provider   string `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, "" (disabled)
	Model      string `yaml:"model" mapstructure:"model"`
	APIKey     string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL    string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout    int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens  int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`

	// Ensemble lists extra independently configured backends used for ensemble voting
	Ensemble []EnsembleBackend `yaml:"ensemble,omitempty" mapstructure:"ensemble"`
}

// EnsembleBackend is one additional generation backend
type EnsembleBackend struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	Model    string `yaml:"model" mapstructure:"model"`
	APIKey   string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL  string `yaml:"base_url,omitempty" mapstructure:"base_url"`
}

// EmbeddingConfig configures the embedding backend
type EmbeddingConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // openai, ollama, "" (disabled)
	Model     string `yaml:"model" mapstructure:"model"`
	Dimension int    `yaml:"dimension" mapstructure:"dimension"`
	APIKey    string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// VectorConfig selects the vector index backend
type VectorConfig struct {
	Backend     string `yaml:"backend" mapstructure:"backend"` // sql or weaviate
	WeaviateURL string `yaml:"weaviate_url,omitempty" mapstructure:"weaviate_url"`
	ClassName   string `yaml:"class_name" mapstructure:"class_name"`
}

// HTTPConfig configures URL ingestion
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	InsecureTLS  bool          `yaml:"insecure_tls" mapstructure:"insecure_tls"`
	RespectRobot bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
}

// CacheConfig configures the embedding cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// ConcurrencyConfig bounds worker pools
type ConcurrencyConfig struct {
	VerifyWorkers  int `yaml:"verify_workers" mapstructure:"verify_workers"`
	IngestWorkers  int `yaml:"ingest_workers" mapstructure:"ingest_workers"`
	ExtractWorkers int `yaml:"extract_workers" mapstructure:"extract_workers"`
}

// RateLimitConfig bounds calls per generation backend
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	// Overrides sets requests per second for one host or generation backend name
	Overrides map[string]float64 `yaml:"overrides,omitempty" mapstructure:"overrides"`
}

// ReconcileConfig holds conflict and overlap thresholds
type ReconcileConfig struct {
	SimilarityThreshold    float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	ConflictMinSimilarity  float64 `yaml:"conflict_min_similarity" mapstructure:"conflict_min_similarity"`
	SimilarDocumentMin     float64 `yaml:"similar_document_min" mapstructure:"similar_document_min"`
	SourceMinSimilarity    float64 `yaml:"source_min_similarity" mapstructure:"source_min_similarity"`
	MaxSectionsWarn        int     `yaml:"max_sections_warn" mapstructure:"max_sections_warn"`
	ExtractionMaxRetries   int     `yaml:"extraction_max_retries" mapstructure:"extraction_max_retries"`
	AmbiguousStrengthScale float64 `yaml:"ambiguous_strength_scale" mapstructure:"ambiguous_strength_scale"`
}

// VerificationConfig holds verification weights and limits
type VerificationConfig struct {
	ReferenceWeight       float64       `yaml:"reference_weight" mapstructure:"reference_weight"`
	SelfConsistencyWeight float64       `yaml:"self_consistency_weight" mapstructure:"self_consistency_weight"`
	EnsembleWeight        float64       `yaml:"ensemble_weight" mapstructure:"ensemble_weight"`
	DebateWeight          float64       `yaml:"debate_weight" mapstructure:"debate_weight"`
	Samples               int           `yaml:"samples" mapstructure:"samples"`
	DebateBelow           float64       `yaml:"debate_below" mapstructure:"debate_below"`
	ClaimTimeout          time.Duration `yaml:"claim_timeout" mapstructure:"claim_timeout"`
	ReferenceRoot         string        `yaml:"reference_root,omitempty" mapstructure:"reference_root"`
}

// AuthorityConfig maps sources onto document types and authority levels
type AuthorityConfig struct {
	PathPatterns []PathPattern `yaml:"path_patterns" mapstructure:"path_patterns"`
	// TypeLevels is the authority given to a document type when no explicit level is known
	TypeLevels map[string]int `yaml:"type_levels" mapstructure:"type_levels"`
	// HostLevels pins the authority of URL sources by host
	HostLevels map[string]int `yaml:"host_levels,omitempty" mapstructure:"host_levels"`
}

// PathPattern assigns a type (and optionally an authority) to matching source paths
type PathPattern struct {
	Pattern   string `yaml:"pattern" mapstructure:"pattern"`
	Type      string `yaml:"type" mapstructure:"type"`
	Authority int    `yaml:"authority,omitempty" mapstructure:"authority"`
}

// LoggingConfig configures slog output
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	File       string `yaml:"file,omitempty" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// MetricsConfig configures the prometheus textfile export
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path,omitempty" mapstructure:"textfile_path"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: ".concordia/concordia.db",
		},
		LLM: LLMConfig{
			Provider:   "", // disabled by default
			Timeout:    60,
			MaxTokens:  1024,
			MaxRetries: 3,
		},
		Embedding: EmbeddingConfig{
			Provider:  "",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			BatchSize: 64,
		},
		Vector: VectorConfig{
			Backend:   "sql",
			ClassName: "ConcordiaSection",
		},
		HTTP: HTTPConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "Concordia/0.1 (+https://github.com/ppiankov/concordia)",
			MaxBodyBytes: 5_000_000,
			RespectRobot: true,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".concordia/cache",
			MemoryTTL: time.Hour,
			DiskTTL:   30 * 24 * time.Hour,
		},
		Concurrency: ConcurrencyConfig{
			VerifyWorkers:  3,
			IngestWorkers:  4,
			ExtractWorkers: 4,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Reconcile: ReconcileConfig{
			SimilarityThreshold:    0.80,
			ConflictMinSimilarity:  0.5,
			SimilarDocumentMin:     0.8,
			SourceMinSimilarity:    0.3,
			MaxSectionsWarn:        2000,
			ExtractionMaxRetries:   2,
			AmbiguousStrengthScale: 0.5,
		},
		Verification: VerificationConfig{
			ReferenceWeight:       0.4,
			SelfConsistencyWeight: 0.2,
			EnsembleWeight:        0.2,
			DebateWeight:          0.2,
			Samples:               5,
			DebateBelow:           0.8,
			ClaimTimeout:          60 * time.Second,
		},
		Authority: AuthorityConfig{
			PathPatterns: []PathPattern{
				{Pattern: `(?i)(^|/)(archive|archived|old)/`, Type: "archive"},
				{Pattern: `(?i)(^|/)(adr|adrs|decisions?)/`, Type: "decision"},
				{Pattern: `(?i)(^|/)specs?/|\bspec\.md$`, Type: "spec"},
				{Pattern: `(?i)handoff`, Type: "handoff"},
				{Pattern: `(?i)(^|/)prompts?/`, Type: "prompt"},
				{Pattern: `(?i)(^|/)reports?/`, Type: "report"},
				{Pattern: `(?i)(^|/)(reference|api)/`, Type: "reference"},
			},
			TypeLevels: map[string]int{
				"spec":      8,
				"decision":  8,
				"reference": 7,
				"guide":     5,
				"report":    5,
				"handoff":   4,
				"prompt":    3,
				"archive":   2,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}
