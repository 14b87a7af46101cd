// Package config holds the configuration surface for the memory engine.
// Configuration loads from a YAML file with sane defaults for every field,
// and secrets (API keys) are resolved from environment variables rather
// than stored in the file itself.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a memory engine instance.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	VectorDim int             `yaml:"vector_dim"`
	HNSW      HNSWConfig      `yaml:"hnsw"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LScore    LScoreConfig    `yaml:"lscore"`
	Query     QueryConfig     `yaml:"query"`
	Causal    CausalConfig    `yaml:"causal"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HNSWConfig tunes the in-memory ANN graph.
type HNSWConfig struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`
	MaxElements    int `yaml:"max_elements"`
}

// EmbeddingConfig selects and tunes the embedding provider and the
// deferred batching queue in front of it.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	TaskType       string `yaml:"task_type"`
	BatchSize      int    `yaml:"batch_size"`
	FlushIntervalS int    `yaml:"flush_interval_s"`
	TimeoutMS      int    `yaml:"timeout_ms"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryDelayMS   int    `yaml:"retry_delay_ms"`
}

// LScoreConfig tunes provenance confidence decay and enforcement.
type LScoreConfig struct {
	DepthDecay float64 `yaml:"depth_decay"`
	Threshold  float64 `yaml:"threshold"`
	Enforce    bool    `yaml:"enforce"`
}

// QueryConfig tunes the composite scoring and default fan-out of query().
type QueryConfig struct {
	Alpha           float64 `yaml:"alpha"`
	Beta            float64 `yaml:"beta"`
	MinScoreDefault float64 `yaml:"min_score_default"`
	TraceDepth      int     `yaml:"trace_depth"`
	OverfetchFactor int     `yaml:"overfetch_factor"`
}

// CausalConfig tunes the causal hypergraph's default edge lifetime and
// expiry sweep cadence.
type CausalConfig struct {
	DefaultTTLMS    int64 `yaml:"default_ttl_ms"`
	SweepIntervalMS int64 `yaml:"sweep_interval_ms"`
}

// LoggingConfig gates obslog output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Level   string `yaml:"level"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:   "./memoria-data",
		VectorDim: 768,
		HNSW: HNSWConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       64,
			MaxElements:    1_000_000,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			Model:          "embeddinggemma",
			OllamaEndpoint: "http://localhost:11434",
			TaskType:       "SEMANTIC_SIMILARITY",
			BatchSize:      32,
			FlushIntervalS: 30,
			TimeoutMS:      10_000,
			MaxRetries:     3,
			RetryDelayMS:   500,
		},
		LScore: LScoreConfig{
			DepthDecay: 0.9,
			Threshold:  0.0,
			Enforce:    false,
		},
		Query: QueryConfig{
			Alpha:           0.7,
			Beta:            0.3,
			MinScoreDefault: 0.0,
			TraceDepth:      10,
			OverfetchFactor: 4,
		},
		Causal: CausalConfig{
			DefaultTTLMS:    0,
			SweepIntervalMS: 60_000,
		},
		Logging: LoggingConfig{
			Enabled: false,
			Dir:     "./memoria-data/logs",
			Level:   "info",
		},
	}
}

// Load reads path and merges it over DefaultConfig. A missing file is not
// an error; the defaults are returned with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override a handful of
// fields without editing the checked-in YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEMORIA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MEMORIA_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("MEMORIA_LSCORE_ENFORCE"); v == "true" {
		cfg.LScore.Enforce = true
	}
}

// APIKey resolves the embedding provider's API key from the environment
// variable named by APIKeyEnv. Ollama doesn't need one, so an empty
// APIKeyEnv is not an error.
func (c *EmbeddingConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// Validate checks invariants that the rest of the engine assumes hold.
func (c *Config) Validate() error {
	if c.VectorDim <= 0 {
		return fmt.Errorf("vector_dim must be positive, got %d", c.VectorDim)
	}
	if c.HNSW.M <= 0 {
		return fmt.Errorf("hnsw.m must be positive, got %d", c.HNSW.M)
	}
	if c.Query.Alpha+c.Query.Beta <= 0 {
		return fmt.Errorf("query.alpha + query.beta must be positive")
	}
	if c.LScore.DepthDecay <= 0 || c.LScore.DepthDecay > 1 {
		return fmt.Errorf("lscore.depth_decay must be in (0, 1], got %f", c.LScore.DepthDecay)
	}
	return nil
}
