package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robertmeta/strip-cli/config"
	"github.com/robertmeta/strip-cli/metrics"
	"github.com/robertmeta/strip-cli/schedule"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func runDaemon(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	log := e.logger.With().Str("module", "Daemon").Logger()

	settings, err := config.LoadSettings(e.cfg.SettingsFile)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	if !settings.DisclaimerAcknowledged {
		log.Warn().Msg(disclaimerHint)
	}

	s, err := e.getStore()
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	collector := metrics.NewCollector()
	svc, err := e.newService(s, settings.DisclaimerAcknowledged, collector)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer svc.Wait()

	if dir := c.String("output-dir"); dir != "" {
		presenter, err := newFilePresenter(dir, e.logger)
		if err != nil {
			return cli.Exit(err.Error(), ExitDataError)
		}
		svc.AddListener(presenter)
		defer svc.RemoveListener(presenter)
	}

	watcher, err := config.NewSettingsWatcher(e.cfg.SettingsFile, 0, e.logger)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}

	scheduler := schedule.New(svc,
		schedule.WithLogger(e.logger),
		schedule.WithMetrics(collector),
	)
	if err := scheduler.Start(settings.Effective()); err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer scheduler.Stop()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Run(ctx)
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case updated, ok := <-watcher.Updates():
				if !ok {
					return nil
				}
				svc.SetDisclaimerAcknowledged(updated.DisclaimerAcknowledged)
				if err := scheduler.Start(updated.Effective()); err != nil {
					log.Error().Err(err).Msg("Settings file rejected")
					continue
				}
				log.Info().Str("state", scheduler.State().String()).Msg("Schedule updated from settings file")
			}
		}
	})

	addr := e.cfg.Metrics.ListenAddr
	if c.IsSet("metrics-addr") {
		addr = c.String("metrics-addr")
	}
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		g.Go(func() error {
			log.Info().Str("addr", addr).Msg("Serving metrics")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if next, ok := scheduler.NextDownload(); ok {
		log.Info().Time("next_download", next).Msg("Scheduler running")
	} else {
		log.Info().Msg("Unattended download is off; waiting for settings changes")
	}

	if err := g.Wait(); err != nil {
		return cli.Exit(err.Error(), ExitGeneralError)
	}
	log.Info().Msg("Shutting down")
	return nil
}
