package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Audiobookshelf struct {
		URL             string        `yaml:"url"`
		Token           string        `yaml:"token"`
		InProgressLimit int           `yaml:"in_progress_limit"`
		Timeout         time.Duration `yaml:"timeout"`
	} `yaml:"audiobookshelf"`

	Hardcover struct {
		Token      string        `yaml:"token"`
		BaseURL    string        `yaml:"base_url"`
		Timeout    time.Duration `yaml:"timeout"`
		MaxRetries int           `yaml:"max_retries"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"hardcover"`

	// RateLimit applies to Hardcover requests
	RateLimit struct {
		Rate          time.Duration `yaml:"rate"`
		Burst         int           `yaml:"burst"`
		MaxConcurrent int           `yaml:"max_concurrent"`
	} `yaml:"rate_limit"`

	Sync struct {
		// Schedule is a number of minutes, a Go duration or a cron expression
		Schedule         string        `yaml:"schedule"`
		Concurrency      int           `yaml:"concurrency"`
		TitleThreshold   float64       `yaml:"title_threshold"`
		FinishedLookback time.Duration `yaml:"finished_lookback"`
		DryRun           bool          `yaml:"dry_run"`
		BookFilter       string        `yaml:"book_filter"`
		BookLimit        int           `yaml:"book_limit"`
		SyncOnStart      bool          `yaml:"sync_on_start"`
	} `yaml:"sync"`

	Server struct {
		// Port is empty when the HTTP server is disabled
		Port            string        `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// Default returns a configuration populated with default values.
func Default() *Config {
	cfg := &Config{}

	cfg.Audiobookshelf.InProgressLimit = 50
	cfg.Audiobookshelf.Timeout = 30 * time.Second

	cfg.Hardcover.BaseURL = "https://api.hardcover.app/v1/graphql"
	cfg.Hardcover.Timeout = 30 * time.Second
	cfg.Hardcover.MaxRetries = 3
	cfg.Hardcover.RetryDelay = 500 * time.Millisecond

	cfg.RateLimit.Rate = time.Second
	cfg.RateLimit.Burst = 5
	cfg.RateLimit.MaxConcurrent = 3

	cfg.Sync.Schedule = "60"
	cfg.Sync.Concurrency = 4
	cfg.Sync.TitleThreshold = 0.85
	cfg.Sync.FinishedLookback = 48 * time.Hour
	cfg.Sync.SyncOnStart = true

	cfg.Server.Port = "8080"
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28

	return cfg
}

// Load builds the configuration from defaults, the optional YAML file and
// environment variables, in increasing order of priority. It does not
// validate; callers run Validate once CLI overrides are applied.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFile(cfg, configFile); err != nil {
			return nil, err
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	cfg.Audiobookshelf.URL = strings.TrimSuffix(strings.TrimSpace(cfg.Audiobookshelf.URL), "/")
	return cfg, nil
}

// loadFile decodes path on top of cfg; keys absent from the file keep their
// current values.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func loadFromEnv(cfg *Config) error {
	if v := firstEnv("AUDIOBOOKSHELF_URL", "ABS_URL"); v != "" {
		cfg.Audiobookshelf.URL = v
	}
	if v := firstEnv("AUDIOBOOKSHELF_TOKEN", "ABS_API_KEY"); v != "" {
		cfg.Audiobookshelf.Token = v
	}
	if v := firstEnv("HARDCOVER_TOKEN", "HARDCOVER_API_KEY"); v != "" {
		cfg.Hardcover.Token = v
	}
	if v := getEnv("SYNC_INTERVAL", ""); v != "" {
		cfg.Sync.Schedule = v
	}
	if v := getEnv("TEST_BOOK_FILTER", ""); v != "" {
		cfg.Sync.BookFilter = v
	}
	if port, set := os.LookupEnv("PORT"); set {
		cfg.Server.Port = port
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		cfg.Logging.Level = v
	}
	if v := getEnv("LOG_FORMAT", ""); v != "" {
		cfg.Logging.Format = v
	}
	if v := getEnv("LOG_FILE", ""); v != "" {
		cfg.Logging.File = v
	}

	var err error
	if cfg.Audiobookshelf.InProgressLimit, err = getIntFromEnv("ABS_IN_PROGRESS_LIMIT", cfg.Audiobookshelf.InProgressLimit); err != nil {
		return err
	}
	if cfg.RateLimit.Rate, err = getDurationFromEnv("HARDCOVER_RATE_LIMIT", cfg.RateLimit.Rate); err != nil {
		return err
	}
	if cfg.Sync.Concurrency, err = getIntFromEnv("SYNC_CONCURRENCY", cfg.Sync.Concurrency); err != nil {
		return err
	}
	if cfg.Sync.TitleThreshold, err = getFloat64FromEnv("MATCH_TITLE_THRESHOLD", cfg.Sync.TitleThreshold); err != nil {
		return err
	}
	if cfg.Sync.FinishedLookback, err = getDurationFromEnv("SYNC_FINISHED_LOOKBACK", cfg.Sync.FinishedLookback); err != nil {
		return err
	}
	if cfg.Sync.DryRun, err = getBoolFromEnv("DRY_RUN", cfg.Sync.DryRun); err != nil {
		return err
	}
	if cfg.Sync.BookLimit, err = getIntFromEnv("TEST_BOOK_LIMIT", cfg.Sync.BookLimit); err != nil {
		return err
	}
	return nil
}

// Validate checks that all required configuration is present and that
// numeric settings are in range.
func (c *Config) Validate() error {
	var missing []string
	if c.Audiobookshelf.URL == "" {
		missing = append(missing, "AUDIOBOOKSHELF_URL")
	}
	if c.Audiobookshelf.Token == "" {
		missing = append(missing, "AUDIOBOOKSHELF_TOKEN")
	}
	if c.Hardcover.Token == "" {
		missing = append(missing, "HARDCOVER_TOKEN")
	}
	if len(missing) > 0 {
		return &ConfigError{
			Field: strings.Join(missing, ", "),
			Msg:   "required configuration values are missing",
		}
	}

	if u, err := url.Parse(c.Audiobookshelf.URL); err != nil || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		return &ConfigError{Field: "audiobookshelf.url", Msg: "must be an absolute http(s) URL"}
	}
	if u, err := url.Parse(c.Hardcover.BaseURL); err != nil || u.Host == "" {
		return &ConfigError{Field: "hardcover.base_url", Msg: "must be an absolute URL"}
	}
	if c.Sync.TitleThreshold <= 0 || c.Sync.TitleThreshold > 1 {
		return &ConfigError{Field: "sync.title_threshold", Msg: "must be in (0, 1]"}
	}
	if c.Sync.Concurrency < 1 {
		return &ConfigError{Field: "sync.concurrency", Msg: "must be at least 1"}
	}
	if c.Audiobookshelf.InProgressLimit < 1 {
		return &ConfigError{Field: "audiobookshelf.in_progress_limit", Msg: "must be at least 1"}
	}
	if c.Sync.BookLimit < 0 {
		return &ConfigError{Field: "sync.book_limit", Msg: "must not be negative"}
	}
	if c.Sync.FinishedLookback < 0 {
		return &ConfigError{Field: "sync.finished_lookback", Msg: "must not be negative"}
	}
	if c.Hardcover.MaxRetries < 0 {
		return &ConfigError{Field: "hardcover.max_retries", Msg: "must not be negative"}
	}
	if strings.TrimSpace(c.Sync.Schedule) == "" {
		return &ConfigError{Field: "sync.schedule", Msg: "must not be empty"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Msg
}

// Helper functions for environment variable parsing
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := getEnv(k, ""); v != "" {
			return v
		}
	}
	return ""
}

func getBoolFromEnv(key string, fallback bool) (bool, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, &ConfigError{Field: key, Msg: fmt.Sprintf("invalid bool %q", value)}
	}
	return b, nil
}

func getIntFromEnv(key string, fallback int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback, &ConfigError{Field: key, Msg: fmt.Sprintf("invalid integer %q", value)}
	}
	return i, nil
}

func getFloat64FromEnv(key string, fallback float64) (float64, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback, &ConfigError{Field: key, Msg: fmt.Sprintf("invalid number %q", value)}
	}
	return f, nil
}

func getDurationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback, &ConfigError{Field: key, Msg: fmt.Sprintf("invalid duration %q", value)}
	}
	return d, nil
}
