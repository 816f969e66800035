// Package config holds all craftbot configuration, loaded from a YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all craftbot configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Data      DataConfig      `yaml:"data"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig configures the Infinite Craft client.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	// Transport selects how pair requests are issued: "http" for the plain
	// client, "browser" for a headless Chrome session.
	Transport string `yaml:"transport"`
	Timeout   string `yaml:"timeout"`

	// Client-side rate limit: at most RateBurst requests per RatePeriod.
	RateBurst  int    `yaml:"rate_burst"`
	RatePeriod string `yaml:"rate_period"`
}

// DataConfig configures persistence.
type DataConfig struct {
	Backend string `yaml:"backend"` // csv, json, sqlite
	Dir     string `yaml:"dir"`
}

// CrawlerConfig configures the crawl strategies.
type CrawlerConfig struct {
	Workers int `yaml:"workers"`

	// Low-depth sampling: higher means stronger preference for shallow elements.
	DepthPrioritization float64 `yaml:"depth_prioritization"`
	// Penalty exponent for combinations whose paths barely overlap.
	// 0 disables the synergy filter.
	SynergyPenalization float64 `yaml:"synergy_penalization"`

	// Targeted sampling: higher means stronger preference for elements
	// similar to the target.
	SimilarityPrioritization float64 `yaml:"similarity_prioritization"`
}

// EmbeddingConfig configures the embedding engine used by targeted crawling.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // ollama, genai

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures the categorized debug logs.
type LoggingConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:    "https://neal.fun/api/infinite-craft",
			Transport:  "http",
			Timeout:    "10s",
			RateBurst:  14,
			RatePeriod: "3s", // stays below the site's 5 req/s ceiling
		},
		Data: DataConfig{
			Backend: "csv",
			Dir:     "data",
		},
		Crawler: CrawlerConfig{
			Workers:                  15,
			DepthPrioritization:      25,
			SynergyPenalization:      0.5,
			SimilarityPrioritization: 500,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9190",
		},
		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file is not an error;
// defaults (plus env overrides) are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets the environment win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CRAFTBOT_DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
	if v := os.Getenv("CRAFTBOT_BACKEND"); v != "" {
		c.Data.Backend = v
	}
	if v := os.Getenv("CRAFTBOT_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("CRAFTBOT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Crawler.Workers = n
		}
	}
	if v := os.Getenv("CRAFTBOT_METRICS_ADDR"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.Addr = v
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
}

// RequestTimeout parses the API timeout, falling back to 10s.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.API.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// RatePeriod parses the rate limiter period, falling back to 3s.
func (c *Config) RatePeriod() time.Duration {
	d, err := time.ParseDuration(c.API.RatePeriod)
	if err != nil || d <= 0 {
		return 3 * time.Second
	}
	return d
}

// Validate rejects configurations the rest of the system cannot work with.
func (c *Config) Validate() error {
	switch c.Data.Backend {
	case "csv", "json", "sqlite":
	default:
		return fmt.Errorf("unknown data backend %q (use csv, json or sqlite)", c.Data.Backend)
	}
	switch c.API.Transport {
	case "http", "browser":
	default:
		return fmt.Errorf("unknown api transport %q (use http or browser)", c.API.Transport)
	}
	if c.Crawler.Workers < 1 {
		return fmt.Errorf("crawler workers must be >= 1, got %d", c.Crawler.Workers)
	}
	if c.API.RateBurst < 1 {
		return fmt.Errorf("api rate burst must be >= 1, got %d", c.API.RateBurst)
	}
	if c.Crawler.SynergyPenalization < 0 {
		return fmt.Errorf("synergy penalization must be >= 0, got %g", c.Crawler.SynergyPenalization)
	}
	return nil
}
