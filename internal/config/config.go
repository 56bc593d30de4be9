// Package config loads the server configuration: Perplexity client
// settings, rate-limit thresholds, pricing overrides, and log settings.
// Configuration is read once at process start and treated as immutable.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/asksonar/perplexity-mcp/pkg/pricing"
	"github.com/asksonar/perplexity-mcp/pkg/ratelimit"
)

// EnvAPIKey is the environment variable holding the Perplexity API key.
// It always wins over the config file.
const EnvAPIKey = "PERPLEXITY_API_KEY"

// Config is the complete server configuration.
type Config struct {
	Perplexity PerplexityConfig `yaml:"perplexity"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`

	// Pricing overrides or extends the built-in price table per model.
	Pricing map[string]pricing.ModelPricing `yaml:"pricing,omitempty"`

	// SensitiveFields overrides the default redaction field names.
	SensitiveFields []string `yaml:"sensitive_fields,omitempty"`
}

// PerplexityConfig configures the outbound API client.
type PerplexityConfig struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// RateLimitConfig configures the fixed-window limiter.
type RateLimitConfig struct {
	Capacity           int `yaml:"capacity"`
	WindowSeconds      int `yaml:"window_seconds"`
	WaitTimeoutSeconds int `yaml:"wait_timeout_seconds"`
}

// LoggingConfig configures the log sink.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Perplexity: PerplexityConfig{
			BaseURL:        "https://api.perplexity.ai",
			TimeoutSeconds: 120,
			MaxRetries:     3,
		},
		RateLimit: RateLimitConfig{
			Capacity:      10,
			WindowSeconds: 60,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the configuration. An empty path yields Default. The
// PERPLEXITY_API_KEY environment variable overrides any file value.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if key := os.Getenv(EnvAPIKey); key != "" {
		cfg.Perplexity.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	if c.Perplexity.APIKey == "" {
		return fmt.Errorf("perplexity API key is required: set %s or perplexity.api_key", EnvAPIKey)
	}
	if c.Perplexity.BaseURL == "" {
		return fmt.Errorf("perplexity.base_url must not be empty")
	}
	if c.RateLimit.Capacity < 0 || c.RateLimit.WindowSeconds < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	return nil
}

// RateLimiterConfig converts the YAML shape to the limiter's config.
func (c Config) RateLimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		Capacity:    c.RateLimit.Capacity,
		Window:      time.Duration(c.RateLimit.WindowSeconds) * time.Second,
		WaitTimeout: time.Duration(c.RateLimit.WaitTimeoutSeconds) * time.Second,
	}
}

// PricingTable returns the built-in table with any configured per-model
// overrides applied on top.
func (c Config) PricingTable() pricing.Table {
	table := pricing.DefaultTable()
	for model, entry := range c.Pricing {
		table[model] = entry
	}
	return table
}

// Timeout returns the outbound call timeout.
func (c PerplexityConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
