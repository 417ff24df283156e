package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"AUDIOBOOKSHELF_URL", "ABS_URL", "AUDIOBOOKSHELF_TOKEN", "ABS_API_KEY",
		"HARDCOVER_TOKEN", "HARDCOVER_API_KEY", "ABS_IN_PROGRESS_LIMIT",
		"HARDCOVER_RATE_LIMIT", "SYNC_INTERVAL", "SYNC_CONCURRENCY",
		"MATCH_TITLE_THRESHOLD", "SYNC_FINISHED_LOOKBACK", "DRY_RUN",
		"TEST_BOOK_FILTER", "TEST_BOOK_LIMIT", "PORT", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Audiobookshelf.InProgressLimit)
	assert.Equal(t, "https://api.hardcover.app/v1/graphql", cfg.Hardcover.BaseURL)
	assert.Equal(t, time.Second, cfg.RateLimit.Rate)
	assert.Equal(t, "60", cfg.Sync.Schedule)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.Equal(t, 0.85, cfg.Sync.TitleThreshold)
	assert.Equal(t, 48*time.Hour, cfg.Sync.FinishedLookback)
	assert.True(t, cfg.Sync.SyncOnStart)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
audiobookshelf:
  url: "https://abs.example.com/"
  token: "file-abs-token"
  timeout: 10s
hardcover:
  token: "file-hc-token"
  max_retries: 5
rate_limit:
  rate: 250ms
sync:
  schedule: "*/15 * * * *"
  title_threshold: 0.9
  dry_run: true
  sync_on_start: false
logging:
  level: debug
  file: /tmp/audiohardshelf.log
`)
	t.Setenv("HARDCOVER_API_KEY", "env-hc-token")
	t.Setenv("SYNC_CONCURRENCY", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://abs.example.com", cfg.Audiobookshelf.URL, "trailing slash is trimmed")
	assert.Equal(t, "file-abs-token", cfg.Audiobookshelf.Token)
	assert.Equal(t, 10*time.Second, cfg.Audiobookshelf.Timeout)
	assert.Equal(t, "env-hc-token", cfg.Hardcover.Token, "env overrides the file")
	assert.Equal(t, 5, cfg.Hardcover.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimit.Rate)
	assert.Equal(t, 5, cfg.RateLimit.Burst, "absent keys keep defaults")
	assert.Equal(t, "*/15 * * * *", cfg.Sync.Schedule)
	assert.Equal(t, 8, cfg.Sync.Concurrency)
	assert.Equal(t, 0.9, cfg.Sync.TitleThreshold)
	assert.True(t, cfg.Sync.DryRun)
	assert.False(t, cfg.Sync.SyncOnStart)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/audiohardshelf.log", cfg.Logging.File)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvAliases(t *testing.T) {
	clearEnv(t)
	t.Setenv("ABS_URL", "http://localhost:13378")
	t.Setenv("ABS_API_KEY", "abs")
	t.Setenv("HARDCOVER_TOKEN", "hc")
	t.Setenv("HARDCOVER_API_KEY", "ignored")
	t.Setenv("HARDCOVER_RATE_LIMIT", "2s")
	t.Setenv("PORT", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:13378", cfg.Audiobookshelf.URL)
	assert.Equal(t, "abs", cfg.Audiobookshelf.Token)
	assert.Equal(t, "hc", cfg.Hardcover.Token, "primary name wins over the alias")
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Rate)
	assert.Equal(t, "", cfg.Server.Port, "empty PORT disables the server")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "bad bool", env: map[string]string{"DRY_RUN": "maybe"}},
		{name: "bad int", env: map[string]string{"SYNC_CONCURRENCY": "four"}},
		{name: "bad duration", env: map[string]string{"HARDCOVER_RATE_LIMIT": "fast"}},
		{name: "bad float", env: map[string]string{"MATCH_TITLE_THRESHOLD": "high"}},
		{name: "bad yaml", file: "sync: [unclosed"},
		{name: "missing file", file: "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			switch tt.file {
			case "":
			case "-":
				path = filepath.Join(t.TempDir(), "nope.yaml")
			default:
				path = writeConfig(t, tt.file)
			}

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Audiobookshelf.URL = "https://abs.example.com"
		cfg.Audiobookshelf.Token = "abs"
		cfg.Hardcover.Token = "hc"
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name: "all credentials missing",
			mutate: func(c *Config) {
				c.Audiobookshelf.URL = ""
				c.Audiobookshelf.Token = ""
				c.Hardcover.Token = ""
			},
			wantField: "AUDIOBOOKSHELF_URL, AUDIOBOOKSHELF_TOKEN, HARDCOVER_TOKEN",
		},
		{name: "relative url", mutate: func(c *Config) { c.Audiobookshelf.URL = "abs.local" }, wantField: "audiobookshelf.url"},
		{name: "ftp url", mutate: func(c *Config) { c.Audiobookshelf.URL = "ftp://abs.local" }, wantField: "audiobookshelf.url"},
		{name: "threshold zero", mutate: func(c *Config) { c.Sync.TitleThreshold = 0 }, wantField: "sync.title_threshold"},
		{name: "threshold above one", mutate: func(c *Config) { c.Sync.TitleThreshold = 1.2 }, wantField: "sync.title_threshold"},
		{name: "threshold one", mutate: func(c *Config) { c.Sync.TitleThreshold = 1 }},
		{name: "concurrency zero", mutate: func(c *Config) { c.Sync.Concurrency = 0 }, wantField: "sync.concurrency"},
		{name: "negative limit", mutate: func(c *Config) { c.Sync.BookLimit = -1 }, wantField: "sync.book_limit"},
		{name: "empty schedule", mutate: func(c *Config) { c.Sync.Schedule = " " }, wantField: "sync.schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}
