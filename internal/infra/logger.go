package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is re-exported so provider packages can accept one without importing
// zerolog themselves.
type Logger = zerolog.Logger

// NewLogger writes JSON to stdout, or colored console output in development.
// level, when given and parseable, wins over the environment default.
func NewLogger(appEnv string, level ...string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if appEnv == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return newLogger(out, appEnv, level...)
}

func newLogger(out io.Writer, appEnv string, level ...string) zerolog.Logger {
	return zerolog.New(out).
		Level(resolveLevel(appEnv, level...)).
		With().
		Timestamp().
		Str("service", "imagebot").
		Str("env", appEnv).
		Logger()
}

func resolveLevel(appEnv string, level ...string) zerolog.Level {
	if len(level) > 0 {
		name := strings.ToLower(strings.TrimSpace(level[0]))
		if parsed, err := zerolog.ParseLevel(name); err == nil && name != "" {
			return parsed
		}
	}
	if appEnv == "development" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
