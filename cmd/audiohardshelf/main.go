// audiohardshelf mirrors Audiobookshelf listening progress into Hardcover.
// It runs as a long-lived service with scheduled passes, or once from the
// command line.
//
// Environment Variables:
//
//	AUDIOBOOKSHELF_URL      URL of the Audiobookshelf server (also ABS_URL)
//	AUDIOBOOKSHELF_TOKEN    API token for Audiobookshelf (also ABS_API_KEY)
//	HARDCOVER_TOKEN         API token for Hardcover (also HARDCOVER_API_KEY)
//	SYNC_INTERVAL           (optional) minutes, Go duration or cron expression (default: 60)
//	SYNC_CONCURRENCY        (optional) books processed in parallel (default: 4)
//	SYNC_FINISHED_LOOKBACK  (optional) include books finished this recently (default: 48h)
//	MATCH_TITLE_THRESHOLD   (optional) minimum fuzzy title similarity (default: 0.85)
//	HARDCOVER_RATE_LIMIT    (optional) minimum time between Hardcover requests (default: 1s)
//	DRY_RUN                 (optional) compute decisions without writing to Hardcover
//	LOG_LEVEL, LOG_FORMAT, LOG_FILE
//	PORT                    (optional) HTTP port, empty disables the server (default: 8080)
//
// Endpoints:
//
//	GET  /healthz   Health check
//	POST /sync      Run a pass and return its summary
//	GET  /status    Summary of the last pass
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/drallgood/audiohardshelf/internal/config"
	"github.com/drallgood/audiohardshelf/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := newApp()

	if err := app.Run(os.Args); err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(2)
		}
		logger.Get().Error("Error running application", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "audiohardshelf",
		Usage:   "Sync Audiobookshelf listening progress to Hardcover",
		Version: fmt.Sprintf("%s (%s) %s", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"CONFIG_PATH"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (json, console)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Compute decisions without writing to Hardcover",
			},
			&cli.StringFlag{
				Name:  "audiobookshelf-url",
				Usage: "Audiobookshelf server `URL`",
			},
			&cli.StringFlag{
				Name:  "audiobookshelf-token",
				Usage: "Audiobookshelf API token",
			},
			&cli.StringFlag{
				Name:  "hardcover-token",
				Usage: "Hardcover API token",
			},
			&cli.StringFlag{
				Name:  "book-filter",
				Usage: "Only sync books whose title or author contains `TEXT`",
			},
			&cli.IntFlag{
				Name:  "book-limit",
				Usage: "Sync at most `N` books per pass (0 for no limit)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the service: scheduled passes and the HTTP server",
				Flags:  runFlags(),
				Action: runService,
			},
			{
				Name:   "once",
				Usage:  "Run a single pass and print its summary",
				Action: runOnce,
			},
			{
				Name:   "check",
				Usage:  "Validate configuration and test both connections",
				Action: runCheck,
			},
			matchCommand(),
		},
		Action: runService,
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "schedule",
			Usage: "Minutes, Go duration or cron expression between passes",
		},
		&cli.StringFlag{
			Name:  "port",
			Usage: "HTTP port, empty disables the server",
		},
		&cli.BoolFlag{
			Name:  "no-initial-sync",
			Usage: "Wait for the first scheduled pass instead of syncing on start",
		},
	}
}
