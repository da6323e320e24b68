package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robertmeta/strip-cli/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNewDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, ValidateConfig(cfg))
	assert.Equal(t, DefaultHomepageURL, cfg.Site.HomepageURL)
	assert.Equal(t, 20*time.Second, cfg.Site.ConnectTimeout())
	assert.Equal(t, 5*time.Second, cfg.Site.ReadTimeout())
	assert.Equal(t, DefaultSettingsFile, filepath.Base(cfg.SettingsFile))
}

func TestGetConfigPath_Priority(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv(ConfigPathEnv, "")
	assert.Equal(t, "", GetConfigPath(""), "no file anywhere")

	writeFile(t, filepath.Join(dir, DefaultConfigFile), "site: {}\n")
	assert.Equal(t, filepath.Join(dir, DefaultConfigFile), GetConfigPath(""))

	t.Setenv(ConfigPathEnv, "/env/config.yaml")
	assert.Equal(t, "/env/config.yaml", GetConfigPath(""))

	assert.Equal(t, "/flag/config.yaml", GetConfigPath("/flag/config.yaml"))
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
site:
  homepage_url: https://comics.example.com/
  locator: feed
  read_timeout_secs: 9
storage:
  db_path: /tmp/strips.db
log:
  log_level: debug
  log_format: json
metrics:
  listen_addr: 127.0.0.1:9100
`)

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, "https://comics.example.com/", cfg.Site.HomepageURL)
	assert.Equal(t, LocatorFeed, cfg.Site.Locator)
	assert.Equal(t, 9*time.Second, cfg.Site.ReadTimeout())
	assert.Equal(t, DefaultConnectTimeoutSecs, cfg.Site.ConnectTimeoutSecs, "unset fields keep defaults")
	assert.Equal(t, "/tmp/strips.db", cfg.Storage.DBPath)
	assert.Equal(t, "debug", cfg.Log.LogLevel)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.ListenAddr)
	assert.Equal(t, DefaultMaxLogSizeMB, cfg.Log.MaxLogSizeMB)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"invalid yaml", "site: [", "failed to parse YAML"},
		{"bad log level", "log:\n  log_level: loud\n", "loglevel"},
		{"bad locator", "site:\n  locator: xpath\n", "locator"},
		{"bad pattern", "site:\n  image_pattern: \"(unclosed\"\n", "regexp"},
		{"bad url", "site:\n  homepage_url: not a url\n", "url"},
		{"zero timeout", "site:\n  connect_timeout_secs: 0\n", "min"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			writeFile(t, path, tt.content)

			_, err := Load(path, zerolog.Nop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"), zerolog.Nop())
	assert.Error(t, err, "an explicitly requested file must exist")
}

func TestSettings_LoadMissingReturnsDefaults(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)

	assert.False(t, settings.DisclaimerAcknowledged)
	assert.False(t, settings.Fetch.Enabled)
	assert.Equal(t, model.DefaultMaxFetchAttempts, settings.Fetch.MaxAttempts)
	assert.Equal(t, model.DefaultFetchIntervalMinutes, settings.Fetch.RetryIntervalMinutes)
}

func TestSettings_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")

	fetch, err := model.NewFetchSettings(true, 480, 3, 15)
	require.NoError(t, err)
	want := model.Settings{DisclaimerAcknowledged: true, Fetch: fetch}

	require.NoError(t, SaveSettings(path, want))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "disclaimer_acknowledged: true")
	assert.Contains(t, string(data), "local_download_time_minutes: 480")
	assert.Contains(t, string(data), "max_fetch_attempts: 3")

	got, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSettings_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, "max_fetch_attempts: 11\n")

	_, err := LoadSettings(path)
	assert.Error(t, err)

	bad := model.DefaultSettings()
	bad.Fetch.RetryIntervalMinutes = 0
	assert.Error(t, SaveSettings(path, bad))
}

func TestSettingsWatcher_DeliversReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, SaveSettings(path, model.DefaultSettings()))

	w, err := NewSettingsWatcher(path, 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Invalid content is skipped.
	writeFile(t, path, "max_fetch_attempts: 99\n")
	time.Sleep(100 * time.Millisecond)

	fetch, err := model.NewFetchSettings(true, 60, 2, 5)
	require.NoError(t, err)
	want := model.Settings{DisclaimerAcknowledged: true, Fetch: fetch}
	require.NoError(t, SaveSettings(path, want))

	select {
	case got := <-w.Updates():
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for settings reload")
	}

	cancel()
	require.NoError(t, <-done)
	for range w.Updates() {
	}

}
