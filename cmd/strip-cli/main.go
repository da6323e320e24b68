package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	_ "time/tzdata"

	"github.com/robertmeta/strip-cli/config"
	"github.com/robertmeta/strip-cli/fetch"
	"github.com/robertmeta/strip-cli/logger"
	"github.com/robertmeta/strip-cli/metrics"
	"github.com/robertmeta/strip-cli/store"
	"github.com/robertmeta/strip-cli/strip"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitDataError    = 3
)

func main() {
	app := &cli.App{
		Name:    "strip-cli",
		Usage:   "Download the daily cartoon strip",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file (default: $" + config.ConfigPathEnv + " or ./config.yaml)",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Database file path (overrides storage.db_path)",
				EnvVars: []string{"STRIP_CLI_DB"},
			},
			&cli.StringFlag{
				Name:    "settings",
				Aliases: []string{"s"},
				Usage:   "Settings file path (overrides settings_file)",
				EnvVars: []string{"STRIP_CLI_SETTINGS"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (trace, debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "fetch",
				Usage: "Fetch the current strip now",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Ignore the cached ETag and download unconditionally",
					},
				},
				Action: fetchStrip,
			},
			{
				Name:  "show",
				Usage: "Show the current strip",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the image to this file",
					},
					&cli.Int64Flag{
						Name:  "id",
						Usage: "Show an archived strip by ID instead of the latest",
					},
				},
				Action: showStrip,
			},
			{
				Name:  "history",
				Usage: "List fetch attempts",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"l"},
						Value:   50,
						Usage:   "Maximum number of attempts to return",
					},
					&cli.IntFlag{
						Name:    "offset",
						Aliases: []string{"o"},
						Value:   0,
						Usage:   "Offset for pagination",
					},
					&cli.StringFlag{
						Name:  "since",
						Usage: "Show attempts since duration (e.g., 7d, 2w, 3m, 1y)",
					},
					&cli.StringFlag{
						Name:  "outcome",
						Usage: "Filter by outcome (new_strip, not_modified, failed, skipped)",
					},
					&cli.StringFlag{
						Name:  "cycle",
						Usage: "Filter by attempt cycle ID",
					},
				},
				Action: listHistory,
			},
			{
				Name:  "strips",
				Usage: "List archived strips",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"l"},
						Value:   30,
						Usage:   "Maximum number of strips to return",
					},
				},
				Action: listStrips,
			},
			{
				Name:  "settings",
				Usage: "Show or change unattended download settings",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show the current settings",
						Action: showSettings,
					},
					{
						Name:  "set",
						Usage: "Change settings",
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "enabled",
								Usage: "Fetch the strip automatically every day",
							},
							&cli.StringFlag{
								Name:  "time",
								Usage: "Local download time (HH:MM)",
							},
							&cli.IntFlag{
								Name:  "attempts",
								Usage: "Maximum fetch attempts per day (1-10)",
							},
							&cli.IntFlag{
								Name:  "interval",
								Usage: "Minutes between attempts (1-60)",
							},
							&cli.BoolFlag{
								Name:  "acknowledge-disclaimer",
								Usage: "Acknowledge that strips are downloaded from a third-party site",
							},
						},
						Action: setSettings,
					},
				},
			},
			{
				Name:   "next",
				Usage:  "Show when the next unattended download is due",
				Action: nextDownload,
			},
			{
				Name:  "prune",
				Usage: "Delete old archived strips",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:     "keep",
						Aliases:  []string{"k"},
						Usage:    "Number of newest strips to keep",
						Required: true,
					},
				},
				Action: pruneStrips,
			},
			{
				Name:  "run",
				Usage: "Run the daily download scheduler until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "output-dir",
						Usage: "Write every new strip into this directory",
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve Prometheus metrics on this address (overrides metrics.listen_addr)",
					},
				},
				Action: runDaemon,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitGeneralError)
	}
}

// env is what every command needs: configuration and a logger.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func loadEnv(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"), zerolog.Nop())
	if err != nil {
		return nil, cli.Exit(err.Error(), ExitUsageError)
	}
	if db := c.String("db"); db != "" {
		cfg.Storage.DBPath = db
	}
	if settings := c.String("settings"); settings != "" {
		cfg.SettingsFile = settings
	}

	b := logger.NewBuilder().WithConfig(cfg.Log)
	if lvl := c.String("log-level"); lvl != "" {
		level, err := logger.ParseLevel(lvl)
		if err != nil {
			return nil, cli.Exit(fmt.Sprintf("Invalid log level: %v", err), ExitUsageError)
		}
		b = b.WithLevel(level)
	}
	log, err := b.Build()
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("Failed to set up logging: %v", err), ExitGeneralError)
	}

	return &env{cfg: cfg, logger: log}, nil
}

func (e *env) getStore() (*store.Store, error) {
	dbPath := e.cfg.Storage.DBPath

	// Create directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return s, nil
}

func (e *env) newFetcher() (*fetch.Fetcher, error) {
	site := e.cfg.Site

	var locator fetch.ImageLocator
	switch site.Locator {
	case config.LocatorFeed:
		locator = fetch.NewFeedLocator()
	default:
		pattern := site.ImagePattern
		if pattern == "" {
			pattern = fetch.DefaultImageURLPattern
		}
		l, err := fetch.NewRegexpLocator(pattern)
		if err != nil {
			return nil, err
		}
		locator = l
	}

	return fetch.NewFetcher(fetch.Options{
		HomepageURL:       site.HomepageURL,
		Locator:           locator,
		ConnectTimeout:    site.ConnectTimeout(),
		ReadTimeout:       site.ReadTimeout(),
		RequestsPerSecond: site.RequestsPerSecond,
		UserAgent:         site.UserAgent,
		Logger:            e.logger,
	})
}

func (e *env) newService(s *store.Store, disclaimerAcknowledged bool, collector *metrics.Collector) (*strip.Service, error) {
	fetcher, err := e.newFetcher()
	if err != nil {
		return nil, err
	}
	return strip.NewService(strip.Options{
		Fetcher:                fetcher,
		Archive:                s,
		Metrics:                collector,
		Logger:                 e.logger,
		DisclaimerAcknowledged: disclaimerAcknowledged,
	})
}

func outputJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
