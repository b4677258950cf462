// Package config defines the HCL configuration for the ragline binaries.
package config

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"ragline/pkg/ingest"
)

// Config is the root configuration, loaded from an HCL file.
type Config struct {
	// LogLevel controls hclog verbosity (trace, debug, info, warn, error).
	LogLevel string `hcl:"log_level,optional"`

	// Mode selects the topic granularity: paragraph, full_doc, or both.
	Mode string `hcl:"mode,optional"`

	LLM       *LLMConfig       `hcl:"llm,block"`
	Embedding *EmbeddingConfig `hcl:"embedding,block"`
	Merge     *MergeConfig     `hcl:"merge,block"`
	Database  *DatabaseConfig  `hcl:"database,block"`
	Crawler   *CrawlerConfig   `hcl:"crawler,block"`
	Pipeline  *PipelineConfig  `hcl:"pipeline,block"`
}

// LLMConfig configures the chat-completion client.
type LLMConfig struct {
	Model   string `hcl:"model"`
	BaseURL string `hcl:"base_url,optional"`
	APIKey  string `hcl:"api_key,optional"`

	// RateDelaySeconds is the minimum spacing between LLM calls.
	RateDelaySeconds float64 `hcl:"rate_delay_seconds,optional"`
}

// EmbeddingConfig configures the embedding client.
type EmbeddingConfig struct {
	Model   string `hcl:"model"`
	BaseURL string `hcl:"base_url,optional"`
	APIKey  string `hcl:"api_key,optional"`

	RateDelaySeconds float64 `hcl:"rate_delay_seconds,optional"`
	BatchSize        int     `hcl:"batch_size,optional"`
	CacheSize        int     `hcl:"cache_size,optional"`
}

// MergeConfig holds the similarity decision thresholds.
type MergeConfig struct {
	ThresholdHigh float64 `hcl:"threshold_high,optional"`
	ThresholdLow  float64 `hcl:"threshold_low,optional"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	Host     string `hcl:"host"`
	Port     int    `hcl:"port,optional"`
	User     string `hcl:"user"`
	Password string `hcl:"password,optional"`
	DBName   string `hcl:"dbname"`
	SSLMode  string `hcl:"sslmode,optional"`

	PoolMin int `hcl:"pool_min,optional"`
	PoolMax int `hcl:"pool_max,optional"`
}

// CrawlerConfig configures the reference crawler.
type CrawlerConfig struct {
	OutputDir    string  `hcl:"output_dir,optional"`
	DelaySeconds float64 `hcl:"delay_seconds,optional"`
	MaxPages     int     `hcl:"max_pages,optional"`
	UserAgent    string  `hcl:"user_agent,optional"`
}

// PipelineConfig holds orchestration knobs.
type PipelineConfig struct {
	LLMConcurrency int `hcl:"llm_concurrency,optional"`
}

// NewConfig parses an HCL configuration file and applies defaults.
func NewConfig(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Mode == "" {
		c.Mode = string(ingest.ModeParagraph)
	}
	if c.LLM != nil && c.LLM.RateDelaySeconds == 0 {
		c.LLM.RateDelaySeconds = 4.5
	}
	if c.Embedding != nil {
		if c.Embedding.RateDelaySeconds == 0 {
			c.Embedding.RateDelaySeconds = 0.1
		}
		if c.Embedding.BatchSize == 0 {
			c.Embedding.BatchSize = 100
		}
		if c.Embedding.CacheSize == 0 {
			c.Embedding.CacheSize = 1000
		}
	}
	if c.Merge == nil {
		c.Merge = &MergeConfig{}
	}
	if c.Merge.ThresholdHigh == 0 {
		c.Merge.ThresholdHigh = ingest.DefaultThresholdHigh
	}
	if c.Merge.ThresholdLow == 0 {
		c.Merge.ThresholdLow = ingest.DefaultThresholdLow
	}
	if c.Database != nil {
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
		if c.Database.PoolMin == 0 {
			c.Database.PoolMin = 1
		}
		if c.Database.PoolMax == 0 {
			c.Database.PoolMax = 10
		}
	}
	if c.Crawler == nil {
		c.Crawler = &CrawlerConfig{}
	}
	if c.Crawler.OutputDir == "" {
		c.Crawler.OutputDir = "./crawl-output"
	}
	if c.Crawler.DelaySeconds == 0 {
		c.Crawler.DelaySeconds = 0.5
	}
	if c.Crawler.MaxPages == 0 {
		c.Crawler.MaxPages = 25
	}
	if c.Pipeline == nil {
		c.Pipeline = &PipelineConfig{}
	}
	if c.Pipeline.LLMConcurrency == 0 {
		c.Pipeline.LLMConcurrency = ingest.DefaultLLMConcurrency
	}
}

// Validate checks cross-field constraints the HCL schema cannot express.
func (c *Config) Validate() error {
	if !ingest.ValidMode(ingest.Mode(c.Mode)) {
		return fmt.Errorf("mode must be one of paragraph, full_doc, both; got %q", c.Mode)
	}
	if c.Merge.ThresholdLow >= c.Merge.ThresholdHigh {
		return fmt.Errorf("merge threshold_low (%.2f) must be below threshold_high (%.2f)",
			c.Merge.ThresholdLow, c.Merge.ThresholdHigh)
	}

	return validation.ValidateStruct(c,
		validation.Field(&c.LLM, validation.Required),
		validation.Field(&c.Embedding, validation.Required),
		validation.Field(&c.Merge),
	)
}

// Validate checks required LLM fields.
func (c LLMConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.RateDelaySeconds, validation.Min(0.0)),
	)
}

// Validate checks required embedding fields.
func (c EmbeddingConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.BatchSize, validation.Min(1), validation.Max(100)),
	)
}

// Validate checks merge threshold ranges.
func (c MergeConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ThresholdHigh, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.ThresholdLow, validation.Min(0.0), validation.Max(1.0)),
	)
}
