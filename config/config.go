// Package config loads the application configuration and the persisted
// download settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigPathEnv overrides the configuration file location.
	ConfigPathEnv = "STRIP_CLI_CONFIG"

	DefaultConfigFile   = "config.yaml"
	DefaultSettingsFile = "settings.yaml"
	DefaultDBFile       = "strip-cli.db"

	DefaultHomepageURL        = "https://dilbert.com/"
	DefaultLocator            = LocatorRegexp
	DefaultConnectTimeoutSecs = 20
	DefaultReadTimeoutSecs    = 5
	DefaultRequestsPerSecond  = 0.5

	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
	DefaultMaxLogSizeMB  = 100
	DefaultMaxLogBackups = 3

	LocatorRegexp = "regexp"
	LocatorFeed   = "feed"
)

// Config is the application configuration.
type Config struct {
	Site         SiteConfig    `json:"site" yaml:"site"`
	Storage      StorageConfig `json:"storage" yaml:"storage"`
	Log          LogConfig     `json:"log" yaml:"log"`
	Metrics      MetricsConfig `json:"metrics" yaml:"metrics"`
	SettingsFile string        `json:"settings_file" yaml:"settings_file" validate:"required"`
}

// SiteConfig describes where and how the strip is downloaded.
type SiteConfig struct {
	HomepageURL        string  `json:"homepage_url" yaml:"homepage_url" validate:"required,url"`
	Locator            string  `json:"locator" yaml:"locator" validate:"omitempty,locator"`
	ImagePattern       string  `json:"image_pattern,omitempty" yaml:"image_pattern,omitempty" validate:"omitempty,regexp"`
	ConnectTimeoutSecs int     `json:"connect_timeout_secs" yaml:"connect_timeout_secs" validate:"min=1"`
	ReadTimeoutSecs    int     `json:"read_timeout_secs" yaml:"read_timeout_secs" validate:"min=1"`
	RequestsPerSecond  float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"min=0"`
	UserAgent          string  `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// ConnectTimeout returns the TCP connect timeout.
func (s SiteConfig) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSecs) * time.Second
}

// ReadTimeout returns the socket read timeout.
func (s SiteConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSecs) * time.Second
}

// StorageConfig locates the strip archive.
type StorageConfig struct {
	DBPath string `json:"db_path" yaml:"db_path" validate:"required"`
}

// LogConfig defines configuration for logging.
type LogConfig struct {
	LogFile       string `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	LogFormat     string `json:"log_format,omitempty" yaml:"log_format,omitempty" validate:"omitempty,logformat"`
	LogLevel      string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,loglevel"`
	MaxLogBackups int    `json:"max_log_backups,omitempty" yaml:"max_log_backups,omitempty" validate:"min=0"`
	MaxLogSizeMB  int    `json:"max_log_size_mb,omitempty" yaml:"max_log_size_mb,omitempty" validate:"min=0"`
}

// MetricsConfig enables the Prometheus endpoint of the daemon.
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty" validate:"omitempty,hostname_port"`
}

// NewDefaultConfig returns the built-in configuration. Files live under
// ~/.config/strip-cli.
func NewDefaultConfig() *Config {
	dir := DefaultDataDir()
	return &Config{
		Site: SiteConfig{
			HomepageURL:        DefaultHomepageURL,
			Locator:            DefaultLocator,
			ConnectTimeoutSecs: DefaultConnectTimeoutSecs,
			ReadTimeoutSecs:    DefaultReadTimeoutSecs,
			RequestsPerSecond:  DefaultRequestsPerSecond,
		},
		Storage:      StorageConfig{DBPath: filepath.Join(dir, DefaultDBFile)},
		Log:          NewDefaultLogConfig(),
		SettingsFile: filepath.Join(dir, DefaultSettingsFile),
	}
}

// NewDefaultLogConfig creates default log configuration.
func NewDefaultLogConfig() LogConfig {
	return LogConfig{
		LogFormat:     DefaultLogFormat,
		LogLevel:      DefaultLogLevel,
		MaxLogBackups: DefaultMaxLogBackups,
		MaxLogSizeMB:  DefaultMaxLogSizeMB,
	}
}

// DefaultDataDir is where the database and settings file live by default.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "strip-cli")
}

// GetConfigPath determines the configuration file path.
// Priority:
// 1. the --config flag
// 2. the STRIP_CLI_CONFIG environment variable
// 3. config.yaml in the current working directory
// An explicitly requested path is returned even if it does not exist so that
// Load can report it. An empty result means built-in defaults.
func GetConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv(ConfigPathEnv); envPath != "" {
		return envPath
	}
	if cwd, err := os.Getwd(); err == nil {
		path := filepath.Join(cwd, DefaultConfigFile)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// Load reads the configuration file found by GetConfigPath on top of the
// defaults and validates the result.
func Load(flagPath string, logger zerolog.Logger) (*Config, error) {
	cfg := NewDefaultConfig()

	path := GetConfigPath(flagPath)
	if path == "" {
		logger.Debug().Msg("No config file found, using defaults")
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	logger.Debug().Str("path", path).Msg("Configuration loaded")
	return cfg, nil
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
