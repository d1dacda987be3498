package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for the log file.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatColor Format = "color"
)

// Config describes the service logger. With File empty records go to stderr;
// otherwise they go to a lumberjack-rotated file.
type Config struct {
	Level      Level  `toml:"level" mapstructure:"level"`
	Format     Format `toml:"format" mapstructure:"format"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: FormatText}
}

// SlogLevel maps the configured level onto slog. Unknown values are an error;
// empty means info.
func (c Config) SlogLevel() (slog.Level, error) {
	switch Level(strings.ToLower(string(c.Level))) {
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelWarn, "warning":
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", c.Level)
}

// Writer returns the destination for log records. The returned closer is nil
// when logging to stderr.
func (c Config) Writer() (io.Writer, io.Closer) {
	if c.File == "" {
		return os.Stderr, nil
	}
	w := &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
	return w, w
}

// New builds a logger writing to w.
func (c Config) New(w io.Writer) (*slog.Logger, error) {
	lvl, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch Format(strings.ToLower(string(c.Format))) {
	case "", FormatText:
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case FormatColor:
		return slog.New(NewColorTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", c.Format)
}

// Setup builds the logger from c, installs it as the slog default and returns
// the closer of the underlying file, if any.
func Setup(c Config) (*slog.Logger, io.Closer, error) {
	w, closer := c.Writer()
	l, err := c.New(w)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, err
	}
	slog.SetDefault(l)
	return l, closer, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
