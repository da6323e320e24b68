package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robertmeta/strip-cli/config"
	"github.com/robertmeta/strip-cli/model"
	"github.com/robertmeta/strip-cli/schedule"
	"github.com/robertmeta/strip-cli/store"
	"github.com/robertmeta/strip-cli/strip"
	"github.com/urfave/cli/v2"
)

const disclaimerHint = "Strips are downloaded from a third-party site; acknowledge this first with: strip-cli settings set --acknowledge-disclaimer"

// stripInfo is the JSON view of a strip.
type stripInfo struct {
	ID          int64     `json:"id,omitempty"`
	CacheToken  string    `json:"cache_token"`
	SourceURI   string    `json:"source_uri"`
	ImageType   string    `json:"image_type"`
	MediaType   string    `json:"media_type"`
	Size        int       `json:"size"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

func newStripInfo(s *model.Strip) *stripInfo {
	if s == nil || s.Size() == 0 {
		return nil
	}
	t := s.ImageType()
	return &stripInfo{
		ID:          s.ID(),
		CacheToken:  s.CacheToken(),
		SourceURI:   s.SourceURI(),
		ImageType:   t.String(),
		MediaType:   t.MediaType(),
		Size:        s.Size(),
		RetrievedAt: s.RetrievedAt(),
	}
}

func fetchStrip(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	settings, err := config.LoadSettings(e.cfg.SettingsFile)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}

	s, err := e.getStore()
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	svc, err := e.newService(s, settings.DisclaimerAcknowledged, nil)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}

	token := svc.CachedToken()
	if c.Bool("force") {
		token = ""
	}

	out, err := svc.Fetch(context.Background(), token)
	if errors.Is(err, strip.ErrDisclaimerNotAcknowledged) {
		return cli.Exit(disclaimerHint, ExitUsageError)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to fetch strip: %v", err), ExitDataError)
	}

	return outputJSON(map[string]interface{}{
		"outcome":       out.Kind,
		"previous_etag": token,
		"strip":         newStripInfo(svc.CachedStrip()),
	})
}

func showStrip(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	s, err := e.getStore()
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	var current *model.Strip
	if id := c.Int64("id"); id > 0 {
		current, err = s.GetStrip(id)
	} else {
		current, err = s.LatestStrip()
	}
	if errors.Is(err, store.ErrNotFound) {
		return cli.Exit("No strip has been downloaded yet", ExitDataError)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to get strip: %v", err), ExitDataError)
	}

	result := map[string]interface{}{
		"strip": newStripInfo(current),
	}

	if output := c.String("output"); output != "" {
		if err := os.WriteFile(output, current.Bytes(), 0644); err != nil {
			return cli.Exit(fmt.Sprintf("Failed to write image: %v", err), ExitDataError)
		}
		result["written_to"] = output
	}

	return outputJSON(result)
}

func listHistory(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	s, err := e.getStore()
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	opts, err := store.BuildQueryOptions(
		time.Now(),
		c.Int("limit"),
		c.Int("offset"),
		c.String("since"),
		c.String("outcome"),
		c.String("cycle"),
	)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Invalid query options: %v", err), ExitUsageError)
	}

	attempts, err := s.GetAttempts(opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to get fetch history: %v", err), ExitDataError)
	}

	return outputJSON(map[string]interface{}{
		"count":    len(attempts),
		"limit":    opts.Limit,
		"offset":   opts.Offset,
		"attempts": attempts,
	})
}

func listStrips(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	s, err := e.getStore()
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	strips, err := s.ListStrips(c.Int("limit"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to get strips: %v", err), ExitDataError)
	}

	return outputJSON(map[string]interface{}{
		"count":  len(strips),
		"strips": strips,
	})
}

// settingsView adds derived fields to the persisted settings.
type settingsView struct {
	model.Settings
	TimeOfDay string `json:"local_download_time"`
	Effective bool   `json:"unattended_download_active"`
	File      string `json:"file"`
}

func newSettingsView(s model.Settings, path string) settingsView {
	return settingsView{
		Settings:  s,
		TimeOfDay: s.Fetch.TimeOfDay(),
		Effective: s.Effective().Enabled,
		File:      path,
	}
}

func showSettings(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	settings, err := config.LoadSettings(e.cfg.SettingsFile)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}

	return outputJSON(newSettingsView(settings, e.cfg.SettingsFile))
}

func setSettings(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	settings, err := config.LoadSettings(e.cfg.SettingsFile)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}

	if err := applySettingsFlags(c, &settings); err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}

	if err := config.SaveSettings(e.cfg.SettingsFile, settings); err != nil {
		return cli.Exit(err.Error(), ExitUsageError)
	}

	e.logger.Debug().Str("path", e.cfg.SettingsFile).Msg("Settings saved")
	return outputJSON(map[string]interface{}{
		"success":  true,
		"settings": newSettingsView(settings, e.cfg.SettingsFile),
	})
}

// applySettingsFlags copies the flags that were given on the command line.
func applySettingsFlags(c *cli.Context, settings *model.Settings) error {
	if c.IsSet("enabled") {
		settings.Fetch.Enabled = c.Bool("enabled")
	}
	if c.IsSet("time") {
		minutes, err := model.ParseTimeOfDay(c.String("time"))
		if err != nil {
			return err
		}
		settings.Fetch.LocalTimeOfDayMinutes = minutes
	}
	if c.IsSet("attempts") {
		settings.Fetch.MaxAttempts = c.Int("attempts")
	}
	if c.IsSet("interval") {
		settings.Fetch.RetryIntervalMinutes = c.Int("interval")
	}
	if c.IsSet("acknowledge-disclaimer") {
		settings.DisclaimerAcknowledged = c.Bool("acknowledge-disclaimer")
	}
	return settings.Validate()
}

func nextDownload(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	settings, err := config.LoadSettings(e.cfg.SettingsFile)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}

	now := time.Now()
	minutes := settings.Fetch.LocalTimeOfDayMinutes
	next := schedule.NextDownload(now, minutes)
	delay := schedule.DelayBeforeNextDownload(now, minutes)

	return outputJSON(map[string]interface{}{
		"enabled":       settings.Effective().Enabled,
		"next_download": next,
		"delay":         delay.Round(time.Second).String(),
		"delay_seconds": int64(delay / time.Second),
		"max_attempts":  settings.Fetch.MaxAttempts,
		"interval":      settings.Fetch.RetryInterval().String(),
	})
}

func pruneStrips(c *cli.Context) error {
	keep := c.Int("keep")
	if keep < 0 {
		return cli.Exit("--keep must not be negative", ExitUsageError)
	}

	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	s, err := e.getStore()
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	removed, err := s.PruneStrips(keep)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to prune strips: %v", err), ExitDataError)
	}

	return outputJSON(map[string]interface{}{
		"success": true,
		"removed": removed,
		"kept":    keep,
	})
}
