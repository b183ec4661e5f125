// Package config provides configuration management for the normalization pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"jobpipe/internal/models"
)

// Configuration validation errors.
var (
	ErrMissingInputPath         = errors.New("pipeline.input is required")
	ErrMissingOutputPath        = errors.New("pipeline.output is required")
	ErrMissingCheckpointPath    = errors.New("pipeline.checkpoint is required")
	ErrInvalidFlushEvery        = errors.New("pipeline.flush_every must be at least 1")
	ErrInvalidMinDate           = errors.New("filter.min_date must be formatted YYYY-MM-DD")
	ErrInvalidThreshold         = errors.New("dedup.threshold must be between 0 and 100")
	ErrInvalidBlockPrefix       = errors.New("dedup.block_prefix must be at least 1")
	ErrInvalidMaxChars          = errors.New("classification.max_chars must be at least 1")
	ErrInvalidBatchSize         = errors.New("classification.batch_size must be at least 1")
	ErrInvalidWorkers           = errors.New("classification.workers must be at least 1")
	ErrInvalidRate              = errors.New("classification.requests_per_second must be non-negative")
	ErrNoTaxonomies             = errors.New("classification.taxonomies must name at least one taxonomy")
	ErrMissingModel             = errors.New("classification.model is required")
	ErrInvalidCacheBackend      = errors.New("cache.backend must be 'json' or 'sqlite'")
	ErrMissingCachePath         = errors.New("cache.path is required")
	ErrInvalidTranslationChars  = errors.New("translation.max_chars must be at least 1")
	ErrInvalidTranslationWorker = errors.New("translation.workers must be at least 1")
	ErrInvalidTranslationRate   = errors.New("translation.requests_per_second must be non-negative")
	ErrMissingTranslationModel  = errors.New("translation.model is required")
	ErrInvalidMaxAttempts       = errors.New("retry.max_attempts must be at least 1")
	ErrInvalidInitialDelay      = errors.New("retry.initial_delay_ms must be non-negative")
	ErrInvalidBackoffMultiplier = errors.New("retry.backoff_multiplier must be >= 1.0")
	ErrInvalidTimeout           = errors.New("retry.timeout_sec must be at least 1")
	ErrInvalidLogLevel          = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat         = errors.New("logging.format must be 'text' or 'json'")
)

// Cache backends.
const (
	CacheBackendJSON   = "json"
	CacheBackendSQLite = "sqlite"
)

// Config represents the complete pipeline configuration.
type Config struct {
	Pipeline       PipelineConfig       `yaml:"pipeline"`
	Reference      ReferenceConfig      `yaml:"reference"`
	Filter         FilterConfig         `yaml:"filter"`
	Dedup          DedupConfig          `yaml:"dedup"`
	Classification ClassificationConfig `yaml:"classification"`
	Cache          CacheConfig          `yaml:"cache"`
	Translation    TranslationConfig    `yaml:"translation"`
	Retry          RetryPolicy          `yaml:"retry"`
	Logging        LoggingConfig        `yaml:"logging"`
	Report         ReportConfig         `yaml:"report"`
}

// PipelineConfig locates the input, output and checkpoint files.
type PipelineConfig struct {
	Input      string `yaml:"input"`
	Output     string `yaml:"output"`
	Checkpoint string `yaml:"checkpoint"`
	FlushEvery int    `yaml:"flush_every"`
}

// ReferenceConfig points at a reference table; empty uses the embedded one.
type ReferenceConfig struct {
	Path string `yaml:"path"`
}

// FilterConfig is the posting-date policy applied by the driver.
type FilterConfig struct {
	MinDate     string `yaml:"min_date"`
	DropUndated bool   `yaml:"drop_undated"`
}

// DedupConfig tunes the duplicate detector.
type DedupConfig struct {
	Threshold   float64 `yaml:"threshold"`
	BlockPrefix int     `yaml:"block_prefix"`
}

// ClassificationConfig controls the external classification stage.
type ClassificationConfig struct {
	Model             string   `yaml:"model"`
	BaseURL           string   `yaml:"base_url"`
	APIKeyEnv         string   `yaml:"api_key_env"`
	Taxonomies        []string `yaml:"taxonomies"`
	MaxChars          int      `yaml:"max_chars"`
	BatchSize         int      `yaml:"batch_size"`
	Workers           int      `yaml:"workers"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Enabled           bool     `yaml:"enabled"`
}

// CacheConfig selects where classification results are persisted.
type CacheConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// TranslationConfig controls the optional job-title translation stage. It
// talks to the same endpoint as classification and keeps its own cache.
type TranslationConfig struct {
	Enabled           bool        `yaml:"enabled"`
	Model             string      `yaml:"model"`
	MaxChars          int         `yaml:"max_chars"`
	Workers           int         `yaml:"workers"`
	RequestsPerSecond float64     `yaml:"requests_per_second"`
	Cache             CacheConfig `yaml:"cache"`
}

// RetryPolicy defines retry behavior.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	TimeoutSec        int     `yaml:"timeout_sec"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	ShowProgress bool   `yaml:"show_progress"`
}

// ReportConfig defines where run records are written. Empty disables them.
type ReportConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the configuration used for keys absent from the YAML file.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Input:      "data/jobs.csv",
			Output:     "output/jobs_enriched.csv",
			Checkpoint: "output/checkpoint.ids",
			FlushEvery: 50,
		},
		Filter: FilterConfig{
			MinDate: "2025-01-01",
		},
		Dedup: DedupConfig{
			Threshold:   95,
			BlockPrefix: 10,
		},
		Classification: ClassificationConfig{
			Enabled:           true,
			Model:             "gpt-4.1-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			Taxonomies:        []string{"field"},
			MaxChars:          8000,
			BatchSize:         1,
			Workers:           1,
			RequestsPerSecond: 1,
		},
		Cache: CacheConfig{
			Backend: CacheBackendJSON,
			Path:    "output/classification_cache.json",
		},
		Translation: TranslationConfig{
			Model:             "gpt-4.1-mini",
			MaxChars:          500,
			Workers:           1,
			RequestsPerSecond: 1,
			Cache: CacheConfig{
				Backend: CacheBackendJSON,
				Path:    "output/translation_cache.json",
			},
		},
		Retry: RetryPolicy{
			MaxAttempts:       3,
			InitialDelayMs:    1000,
			MaxDelayMs:        30000,
			BackoffMultiplier: 2.0,
			TimeoutSec:        60,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "text",
			ShowProgress: true,
		},
	}
}

// LoadConfig loads configuration from YAML file on top of Default.
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves configuration to YAML file.
func (c *Config) SaveConfig(filepath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Pipeline.Input == "" {
		return ErrMissingInputPath
	}

	if c.Pipeline.Output == "" {
		return ErrMissingOutputPath
	}

	if c.Pipeline.Checkpoint == "" {
		return ErrMissingCheckpointPath
	}

	if c.Pipeline.FlushEvery < 1 {
		return ErrInvalidFlushEvery
	}

	if c.Filter.MinDate != "" {
		if _, err := models.ParseDate(c.Filter.MinDate); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMinDate, err)
		}
	}

	if c.Dedup.Threshold < 0 || c.Dedup.Threshold > 100 {
		return ErrInvalidThreshold
	}

	if c.Dedup.BlockPrefix < 1 {
		return ErrInvalidBlockPrefix
	}

	if err := c.validateClassification(); err != nil {
		return err
	}

	if err := c.validateTranslation(); err != nil {
		return err
	}

	if err := c.validateRetry(); err != nil {
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return ErrInvalidLogFormat
	}

	return nil
}

func (c *Config) validateClassification() error {
	cl := c.Classification

	if cl.MaxChars < 1 {
		return ErrInvalidMaxChars
	}

	if cl.BatchSize < 1 {
		return ErrInvalidBatchSize
	}

	if cl.Workers < 1 {
		return ErrInvalidWorkers
	}

	if cl.RequestsPerSecond < 0 {
		return ErrInvalidRate
	}

	if len(cl.Taxonomies) == 0 {
		return ErrNoTaxonomies
	}

	if cl.Enabled && cl.Model == "" {
		return ErrMissingModel
	}

	if c.Cache.Backend != CacheBackendJSON && c.Cache.Backend != CacheBackendSQLite {
		return ErrInvalidCacheBackend
	}

	if c.Cache.Path == "" {
		return ErrMissingCachePath
	}

	return nil
}

func (c *Config) validateTranslation() error {
	tr := c.Translation

	if tr.MaxChars < 1 {
		return ErrInvalidTranslationChars
	}

	if tr.Workers < 1 {
		return ErrInvalidTranslationWorker
	}

	if tr.RequestsPerSecond < 0 {
		return ErrInvalidTranslationRate
	}

	if tr.Enabled && tr.Model == "" {
		return ErrMissingTranslationModel
	}

	if tr.Cache.Backend != CacheBackendJSON && tr.Cache.Backend != CacheBackendSQLite {
		return fmt.Errorf("translation.%w", ErrInvalidCacheBackend)
	}

	if tr.Cache.Path == "" {
		return fmt.Errorf("translation.%w", ErrMissingCachePath)
	}

	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if c.Retry.InitialDelayMs < 0 {
		return ErrInvalidInitialDelay
	}

	if c.Retry.BackoffMultiplier < 1.0 {
		return ErrInvalidBackoffMultiplier
	}

	if c.Retry.TimeoutSec < 1 {
		return ErrInvalidTimeout
	}

	return nil
}

// MinDate returns the parsed posting-date cutoff, or nil when no cutoff is set.
func (c *Config) MinDate() *models.Date {
	if c.Filter.MinDate == "" {
		return nil
	}

	d, err := models.ParseDate(c.Filter.MinDate)
	if err != nil {
		return nil
	}

	return &d
}

// APIKey reads the classifier API key from the configured environment variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.Classification.APIKeyEnv)
}

// GetTimeout returns the per-request timeout.
func (rp *RetryPolicy) GetTimeout() time.Duration {
	return time.Duration(rp.TimeoutSec) * time.Second
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Input: %s, Output: %s, Cache: %s, MaxAttempts: %d}",
		c.Pipeline.Input,
		c.Pipeline.Output,
		c.Cache.Backend,
		c.Retry.MaxAttempts,
	)
}
