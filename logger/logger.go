// Package logger builds the zerolog logger used by every component.
package logger

import (
	"errors"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"

	"github.com/robertmeta/strip-cli/config"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFormat represents available log formats.
type LogFormat int

const (
	FormatConsole LogFormat = iota
	FormatJSON
	FormatText
)

// String returns string representation of LogFormat.
func (lf LogFormat) String() string {
	switch lf {
	case FormatJSON:
		return "json"
	case FormatText:
		return "text"
	default:
		return "console"
	}
}

// ParseFormat parses a format name, falling back to console.
func ParseFormat(s string) LogFormat {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	case "text":
		return FormatText
	default:
		return FormatConsole
	}
}

// ParseLevel parses a level name. An empty name means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(s))
}

// Builder provides a fluent interface for building loggers.
type Builder struct {
	level      zerolog.Level
	format     LogFormat
	console    io.Writer
	filePath   string
	maxSizeMB  int
	maxBackups int
}

// NewBuilder creates a builder for an info level console logger on stderr.
func NewBuilder() *Builder {
	return &Builder{
		level:      zerolog.InfoLevel,
		format:     FormatConsole,
		console:    os.Stderr,
		maxSizeMB:  config.DefaultMaxLogSizeMB,
		maxBackups: config.DefaultMaxLogBackups,
	}
}

// WithConfig applies the log section of the application configuration. An
// unparsable level falls back to info.
func (b *Builder) WithConfig(cfg config.LogConfig) *Builder {
	if level, err := ParseLevel(cfg.LogLevel); err == nil {
		b.level = level
	}
	b.format = ParseFormat(cfg.LogFormat)
	b.filePath = cfg.LogFile
	if cfg.MaxLogSizeMB > 0 {
		b.maxSizeMB = cfg.MaxLogSizeMB
	}
	if cfg.MaxLogBackups > 0 {
		b.maxBackups = cfg.MaxLogBackups
	}
	return b
}

// WithLevel overrides the level, e.g. from a command line flag.
func (b *Builder) WithLevel(level zerolog.Level) *Builder {
	b.level = level
	return b
}

// WithConsoleWriter replaces stderr as the console destination. A nil writer
// disables console output.
func (b *Builder) WithConsoleWriter(w io.Writer) *Builder {
	b.console = w
	return b
}

// Build creates the logger.
func (b *Builder) Build() (zerolog.Logger, error) {
	var writers []io.Writer
	if b.console != nil {
		writers = append(writers, b.formatWriter(b.console, false))
	}
	if b.filePath != "" {
		if err := os.MkdirAll(filepath.Dir(b.filePath), 0755); err != nil {
			return zerolog.Logger{}, err
		}
		rotating := &lumberjack.Logger{
			Filename:   b.filePath,
			MaxSize:    b.maxSizeMB,
			MaxBackups: b.maxBackups,
			LocalTime:  true,
		}
		writers = append(writers, b.formatWriter(rotating, true))
	}
	if len(writers) == 0 {
		return zerolog.Logger{}, errors.New("no output writers configured")
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(b.level).
		With().
		Timestamp().
		Logger()

	stdlog.SetOutput(logger)
	stdlog.SetFlags(0)
	return logger, nil
}

func (b *Builder) formatWriter(w io.Writer, noColor bool) io.Writer {
	switch b.format {
	case FormatJSON:
		return w
	case FormatText:
		return zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "2006-01-02 15:04:05"}
	default:
		return zerolog.ConsoleWriter{Out: w, NoColor: noColor, TimeFormat: "15:04:05"}
	}
}

// New creates a logger from the application configuration.
func New(cfg config.LogConfig) (zerolog.Logger, error) {
	return NewBuilder().WithConfig(cfg).Build()
}
