package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/drallgood/audiohardshelf/internal/api/audiobookshelf"
	"github.com/drallgood/audiohardshelf/internal/api/hardcover"
	"github.com/drallgood/audiohardshelf/internal/config"
	"github.com/drallgood/audiohardshelf/internal/events"
	"github.com/drallgood/audiohardshelf/internal/logger"
	"github.com/drallgood/audiohardshelf/internal/scheduler"
	"github.com/drallgood/audiohardshelf/internal/server"
	"github.com/drallgood/audiohardshelf/internal/sync"
	"github.com/drallgood/audiohardshelf/internal/util"
)

// loadConfig loads the configuration, applies command line overrides and
// validates the result.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Logging.Format = c.String("log-format")
	}
	if c.Bool("dry-run") {
		cfg.Sync.DryRun = true
	}
	if c.IsSet("audiobookshelf-url") {
		cfg.Audiobookshelf.URL = strings.TrimSuffix(c.String("audiobookshelf-url"), "/")
	}
	if c.IsSet("audiobookshelf-token") {
		cfg.Audiobookshelf.Token = c.String("audiobookshelf-token")
	}
	if c.IsSet("hardcover-token") {
		cfg.Hardcover.Token = c.String("hardcover-token")
	}
	if c.IsSet("book-filter") {
		cfg.Sync.BookFilter = c.String("book-filter")
	}
	if c.IsSet("book-limit") {
		cfg.Sync.BookLimit = c.Int("book-limit")
	}
	if c.IsSet("schedule") {
		cfg.Sync.Schedule = c.String("schedule")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.String("port")
	}
	if c.Bool("no-initial-sync") {
		cfg.Sync.SyncOnStart = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := scheduler.ParseSchedule(cfg.Sync.Schedule); err != nil {
		return nil, &config.ConfigError{Field: "sync.schedule", Msg: err.Error()}
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config) *logger.Logger {
	logger.Setup(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     logger.ParseLogFormat(cfg.Logging.Format),
		Output:     os.Stdout,
		TimeFormat: time.RFC3339,
		File: logger.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		},
	})
	return logger.Get()
}

func newClients(cfg *config.Config, log *logger.Logger) (*audiobookshelf.Client, *hardcover.Client) {
	abs := audiobookshelf.NewClient(cfg.Audiobookshelf.URL, cfg.Audiobookshelf.Token,
		audiobookshelf.WithTimeout(cfg.Audiobookshelf.Timeout),
		audiobookshelf.WithLogger(log),
	)
	hc := hardcover.NewClientWithConfig(&hardcover.ClientConfig{
		BaseURL:       cfg.Hardcover.BaseURL,
		Timeout:       cfg.Hardcover.Timeout,
		MaxRetries:    cfg.Hardcover.MaxRetries,
		RetryDelay:    cfg.Hardcover.RetryDelay,
		RateLimit:     cfg.RateLimit.Rate,
		Burst:         cfg.RateLimit.Burst,
		MaxConcurrent: cfg.RateLimit.MaxConcurrent,
	}, cfg.Hardcover.Token, log)
	return abs, hc
}

func newOrchestrator(cfg *config.Config, log *logger.Logger) *sync.Orchestrator {
	abs, hc := newClients(cfg, log)
	return sync.NewOrchestrator(abs, hc, events.NewLogSink(log), sync.Options{
		Concurrency:      cfg.Sync.Concurrency,
		TitleThreshold:   cfg.Sync.TitleThreshold,
		InProgressLimit:  cfg.Audiobookshelf.InProgressLimit,
		FinishedLookback: cfg.Sync.FinishedLookback,
		DryRun:           cfg.Sync.DryRun,
		BookFilter:       cfg.Sync.BookFilter,
		BookLimit:        cfg.Sync.BookLimit,
	})
}

// runService runs scheduled passes and the HTTP server until a signal arrives.
func runService(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := setupLogger(cfg)

	log.Info("Starting audiohardshelf", map[string]interface{}{
		"version":    version,
		"log_level":  cfg.Logging.Level,
		"log_format": cfg.Logging.Format,
	})
	log.Info("Application configuration", map[string]interface{}{
		"audiobookshelf_url": cfg.Audiobookshelf.URL,
		"schedule":           cfg.Sync.Schedule,
		"concurrency":        cfg.Sync.Concurrency,
		"finished_lookback":  cfg.Sync.FinishedLookback.String(),
		"dry_run":            cfg.Sync.DryRun,
		"book_filter":        cfg.Sync.BookFilter,
		"book_limit":         cfg.Sync.BookLimit,
		"port":               cfg.Server.Port,
	})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := newOrchestrator(cfg, log)
	sched, err := scheduler.New(cfg.Sync.Schedule, func(ctx context.Context) {
		orch.RunPass(ctx)
	}, log)
	if err != nil {
		return &config.ConfigError{Field: "sync.schedule", Msg: err.Error()}
	}

	errCh := make(chan error, 1)
	var srv *server.Server
	if cfg.Server.Port != "" {
		srv = server.New(":"+cfg.Server.Port, orch, log)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	} else {
		log.Info("HTTP server disabled", nil)
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	if cfg.Sync.SyncOnStart {
		go sched.RunNow()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received", nil)
	case runErr = <-errCh:
		log.Error("Fatal error occurred", map[string]interface{}{
			"error": runErr.Error(),
		})
	}

	log.Info("Initiating graceful shutdown...", map[string]interface{}{
		"timeout": cfg.Server.ShutdownTimeout.String(),
	})
	stop()
	sched.Stop()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Error during server shutdown", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	log.Info("Shutdown completed", nil)
	return runErr
}

// runOnce runs one pass and prints the summary. Book failures are part of
// the summary and do not change the exit status.
func runOnce(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary := newOrchestrator(cfg, log).RunPass(ctx)

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

// runCheck verifies the configuration and that both services accept the
// configured tokens.
func runCheck(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := setupLogger(cfg)

	ctx, cancel := context.WithTimeout(c.Context, cfg.Audiobookshelf.Timeout+cfg.Hardcover.Timeout)
	defer cancel()

	abs, hc := newClients(cfg, log)

	ok, err := abs.Ping(ctx)
	if err != nil || !ok {
		fields := map[string]interface{}{"url": abs.BaseURL(), "error": util.ErrorMessage(err)}
		var apiErr *audiobookshelf.APIError
		if errors.As(err, &apiErr) {
			fields["suggestions"] = apiErr.Remediation()
		}
		log.Error("Audiobookshelf is not reachable", fields)
		return errors.New("audiobookshelf check failed")
	}
	libraries, err := abs.ListLibraries(ctx)
	if err != nil {
		return fmt.Errorf("audiobookshelf check failed: %w", err)
	}
	log.Info("Audiobookshelf connection OK", map[string]interface{}{
		"url":       abs.BaseURL(),
		"libraries": len(libraries),
	})

	user, err := hc.Me(ctx)
	if err != nil {
		return fmt.Errorf("hardcover check failed: %w", err)
	}
	log.Info("Hardcover connection OK", map[string]interface{}{
		"user_id":  user.ID,
		"username": user.Username,
	})

	fmt.Fprintf(c.App.Writer, "OK: audiobookshelf %s (%d libraries), hardcover user %s\n",
		abs.BaseURL(), len(libraries), user.Username)
	return nil
}
