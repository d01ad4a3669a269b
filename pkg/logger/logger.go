// Package logger builds the zerolog root logger for the risk engine.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error; empty means info
	Pretty bool   // human-readable console output instead of JSON
}

// New creates the root logger. Unknown level names are rejected so a typo
// in LOG_LEVEL fails at startup instead of silently logging at info. The
// level is carried on the returned logger, not installed globally, so
// derived component loggers inherit it without touching package state.
func New(cfg Config) (zerolog.Logger, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Level))
	if name == "" {
		name = "info"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), nil
}

// Default returns an info-level console logger for use before configuration
// has been loaded.
func Default() zerolog.Logger {
	l, _ := New(Config{Level: "info", Pretty: true})
	return l
}

// SetGlobalLogger sets the package-level logger
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
