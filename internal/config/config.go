package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// IngestConfig configures the loopback ingestion HTTP server.
type IngestConfig struct {
	BindAddress string `yaml:"bind_address" json:"bind_address"` // loopback-only, e.g. "127.0.0.1:8765"
	AuthToken   string `yaml:"auth_token" json:"auth_token"`      // bearer token, required
}

// Config holds all warden configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// DataDir is the root directory for the SQLite store and log files.
	DataDir string `yaml:"data_dir"`

	// Default LLM provider used when a domain has no override.
	Provider ProviderConfig `yaml:"provider"`

	// Gemini-specific tuning, applied when Provider.Provider == "genai".
	Gemini GeminiProviderConfig `yaml:"gemini"`

	// ProviderTimeouts centralizes the timeout chain for every provider call.
	ProviderTimeouts ProviderTimeouts `yaml:"provider_timeouts"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval controls how KB context is assembled, including the
	// string-based fallback strategy used without embeddings.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Runtime resource limits (automation concurrency, retention, ingest rate limits)
	Limits RuntimeLimits `yaml:"limits"`

	// Ingestion server configuration
	Ingest IngestConfig `yaml:"ingest"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "warden",
		Version: "0.1.0",

		DataDir: "data",

		Provider: ProviderConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-5",
			Timeout:  "120s",
		},

		Gemini: DefaultGeminiProviderConfig(),

		ProviderTimeouts: DefaultProviderTimeouts(),

		Embedding: DefaultEmbeddingConfig(),

		Retrieval: DefaultRetrievalConfig(),

		Limits: DefaultRuntimeLimits(),

		Ingest: IngestConfig{
			BindAddress: "127.0.0.1:8765",
		},

		Logging: DefaultLoggingConfig(),
	}
}

// Load loads configuration from a YAML file. A missing file is not an error:
// it returns the defaults with environment overrides applied, matching the
// teacher's "run with zero config" bootstrap.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides, in priority
// order, matching the teacher's API-key-from-env convention.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Provider.APIKey = key
		c.Provider.Provider = "anthropic"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Provider.APIKey = key
		c.Provider.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Provider.APIKey = key
		c.Provider.Provider = "genai"
	}

	if key := os.Getenv("GENAI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
		if c.Embedding.Provider == "" || c.Embedding.Provider == "ollama" {
			c.Embedding.Provider = "genai"
		}
	}
	if endpoint := os.Getenv("OLLAMA_ENDPOINT"); endpoint != "" {
		c.Embedding.OllamaEndpoint = endpoint
	}
	if model := os.Getenv("OLLAMA_EMBEDDING_MODEL"); model != "" {
		c.Embedding.OllamaModel = model
	}

	if dir := os.Getenv("WARDEN_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if token := os.Getenv("WARDEN_INGEST_TOKEN"); token != "" {
		c.Ingest.AuthToken = token
	}
	if addr := os.Getenv("WARDEN_INGEST_ADDR"); addr != "" {
		c.Ingest.BindAddress = addr
	}
}

// GetProviderTimeout returns the per-call provider timeout as a duration,
// falling back to Provider.Timeout if set, else ProviderTimeouts.PerCallTimeout.
func (c *Config) GetProviderTimeout() time.Duration {
	if c.Provider.Timeout != "" {
		if d, err := time.ParseDuration(c.Provider.Timeout); err == nil {
			return d
		}
	}
	return c.ProviderTimeouts.PerCallTimeout
}

// StorePath returns the SQLite database path under DataDir.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "warden.db")
}

// LogDir returns the log directory under DataDir.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"anthropic", "openai", "genai"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("config: provider API key not configured (set ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.Provider.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("config: invalid provider %q (valid: %v)", c.Provider.Provider, ValidProviders)
	}

	if c.Ingest.AuthToken == "" {
		return fmt.Errorf("config: ingest auth token not configured (set WARDEN_INGEST_TOKEN)")
	}

	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := c.Retrieval.Validate(); err != nil {
		return err
	}

	return nil
}
