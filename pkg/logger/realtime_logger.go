// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config for logger
type Config struct {
	Level   string
	Service string
	Pretty  bool // human readable console output (development)
	Output  io.Writer
}

var once sync.Once

// ParseLevel parses a string level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds a logger without touching the global one.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if cfg.Service == "" {
		cfg.Service = "realtime"
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Logger()
}

// Init installs the global logger once.
func Init(cfg Config) {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		log.Logger = New(cfg)
	})
}

// Default returns the global logger.
func Default() zerolog.Logger {
	return log.Logger
}

// Component returns a child logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Package-level functions using the global logger
func Debug(msg string, args ...any) { log.Debug().Msgf(msg, args...) }
func Info(msg string, args ...any)  { log.Info().Msgf(msg, args...) }
func Warn(msg string, args ...any)  { log.Warn().Msgf(msg, args...) }
func Error(msg string, args ...any) { log.Error().Msgf(msg, args...) }
func Fatal(msg string, args ...any) { log.Fatal().Msgf(msg, args...) }

func WithError(err error) *zerolog.Logger {
	l := log.With().Err(err).Logger()
	return &l
}
