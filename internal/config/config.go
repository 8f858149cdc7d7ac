// Package config loads convmem's runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"
)

// ChunkingConfig controls the Chunking Orchestrator and its strategies.
type ChunkingConfig struct {
	Strategy         string        `yaml:"strategy"` // sliding-window | boundary | semantic
	MaxTokensPerChunk int          `yaml:"max_tokens_per_chunk"`
	OverlapTokens    int           `yaml:"overlap_tokens"`
	Parallel         bool          `yaml:"parallel"`
	Concurrency      int           `yaml:"concurrency"`
	FailFast         bool          `yaml:"fail_fast"`
	Semantic         SemanticConfig `yaml:"semantic"`
}

// SemanticConfig holds the tunable thresholds for the semantic chunking strategy.
type SemanticConfig struct {
	LowThreshold  float64 `yaml:"low_threshold"`  // below this, messages never merge
	HighThreshold float64 `yaml:"high_threshold"` // above this, a boundary is never inserted
}

// ExtractionConfig controls the Extraction Strategy.
type ExtractionConfig struct {
	Provider    string        `yaml:"provider"` // anthropic | openai
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MemoryTypes []string      `yaml:"memory_types"`
}

// ContextConfig controls the Context Engine's retrieval behaviour.
type ContextConfig struct {
	DefaultTemplate     string `yaml:"default_template"`
	DefaultTokenBudget  int    `yaml:"default_token_budget"`
	MaxRelationDepth    int    `yaml:"max_relation_depth"`
	SimilarityWeight    float64 `yaml:"similarity_weight"`
	RecencyWeight       float64 `yaml:"recency_weight"`
	ConfidenceWeight    float64 `yaml:"confidence_weight"`
}

// ValidatorConfig controls the Validator's field-level checks.
type ValidatorConfig struct {
	MinConfidence    float64 `yaml:"min_confidence"`
	MinContentLength int     `yaml:"min_content_length"`
}

// TokenizerConfig controls the Token Counter.
type TokenizerConfig struct {
	Method   string        `yaml:"method"` // exact_bpe | provider_a | provider_b | char_divide
	CacheTTL time.Duration `yaml:"cache_ttl"`
	CacheMaxSize int       `yaml:"cache_max_size"`
	RedisAddr string       `yaml:"redis_addr,omitempty"`
}

// StorageConfig describes the consumed Storage client's backend selection.
type StorageConfig struct {
	Backend    string `yaml:"backend"` // memory | qdrant
	QdrantDSN  string `yaml:"qdrant_dsn,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	Dimensions int    `yaml:"dimensions,omitempty"`
}

// EmbeddingConfig describes the consumed Embedding provider.
type EmbeddingConfig struct {
	Host       string `yaml:"host"`
	APIKey     string `yaml:"api_key,omitempty"`
	Dimensions int    `yaml:"dimensions"`
}

// LLMConfig holds API credentials for the LLM providers used by extraction.
type LLMConfig struct {
	AnthropicKey string `yaml:"anthropic_key,omitempty"`
	OpenAIKey    string `yaml:"openai_key,omitempty"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	ServiceName string `yaml:"service_name"`
}

// LoggingConfig controls the ambient logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the root configuration for the pipeline.
type Config struct {
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Context    ContextConfig    `yaml:"context"`
	Validator  ValidatorConfig  `yaml:"validator"`
	Tokenizer  TokenizerConfig  `yaml:"tokenizer"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	LLM        LLMConfig        `yaml:"llm"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Load reads the configuration from a YAML file, applying an optional .env
// overlay and filling in defaults the way the rest of the pipeline expects.
func Load(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		pterm.Warning.Printf("could not load .env: %v\n", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		pterm.Error.Printf("error reading config file: %v\n", err)
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		pterm.Error.Printf("error unmarshaling config: %v\n", err)
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	pterm.Success.Println("configuration loaded successfully")
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Chunking.Strategy == "" {
		cfg.Chunking.Strategy = "sliding-window"
		pterm.Info.Println("no chunking strategy specified, using sliding-window")
	}
	if cfg.Chunking.MaxTokensPerChunk <= 0 {
		cfg.Chunking.MaxTokensPerChunk = 2000
		pterm.Info.Println("no max_tokens_per_chunk specified, using default (2000)")
	}
	if cfg.Chunking.OverlapTokens < 0 {
		cfg.Chunking.OverlapTokens = 200
	}
	if cfg.Chunking.Concurrency <= 0 {
		cfg.Chunking.Concurrency = 3
		pterm.Info.Println("no chunking concurrency specified, using default (3)")
	}
	if cfg.Chunking.Semantic.LowThreshold <= 0 {
		cfg.Chunking.Semantic.LowThreshold = 0.3
	}
	if cfg.Chunking.Semantic.HighThreshold <= 0 {
		cfg.Chunking.Semantic.HighThreshold = 0.5
	}

	if cfg.Extraction.Provider == "" {
		cfg.Extraction.Provider = "anthropic"
	}
	if cfg.Extraction.Timeout <= 0 {
		cfg.Extraction.Timeout = 60 * time.Second
	}

	if cfg.Context.DefaultTemplate == "" {
		cfg.Context.DefaultTemplate = "chat"
	}
	if cfg.Context.DefaultTokenBudget <= 0 {
		cfg.Context.DefaultTokenBudget = 4000
	}
	if cfg.Context.MaxRelationDepth <= 0 {
		cfg.Context.MaxRelationDepth = 2
	}
	if cfg.Context.SimilarityWeight == 0 && cfg.Context.RecencyWeight == 0 && cfg.Context.ConfidenceWeight == 0 {
		cfg.Context.SimilarityWeight = 0.5
		cfg.Context.RecencyWeight = 0.3
		cfg.Context.ConfidenceWeight = 0.2
	}

	if cfg.Validator.MinConfidence <= 0 {
		cfg.Validator.MinConfidence = 0.0
	}
	if cfg.Validator.MinContentLength <= 0 {
		cfg.Validator.MinContentLength = 3
	}

	if cfg.Tokenizer.Method == "" {
		cfg.Tokenizer.Method = "exact_bpe"
	}
	if cfg.Tokenizer.CacheTTL <= 0 {
		cfg.Tokenizer.CacheTTL = 10 * time.Minute
	}
	if cfg.Tokenizer.CacheMaxSize <= 0 {
		cfg.Tokenizer.CacheMaxSize = 10000
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "convmem"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
