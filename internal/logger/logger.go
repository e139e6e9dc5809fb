package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

const (
	LOG_INFO  = "info"
	LOG_DEBUG = "debug"
	LOG_WARN  = "warn"
	LOG_ERROR = "error"
)

func init() {
	Setup(LOG_INFO, "console")
}

// Setup configures the process-wide logger. Format is "console" for
// human-readable output or "json" for machine-readable structured logs.
func Setup(level, format string) {
	var output io.Writer
	switch format {
	case "json":
		output = os.Stderr
	default:
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}

	logger = zerolog.New(output).With().Timestamp().Logger()
	SetLevel(level)
}

// SetSilentMode discards all log output. Used by CLI commands and tests that
// own the terminal.
func SetSilentMode(silent bool) {
	if silent {
		logger = zerolog.New(io.Discard)
	} else {
		Setup(LOG_INFO, "console")
	}
}

// New returns the current logger instance.
func New() zerolog.Logger {
	return logger
}

// SetLevel sets the global log level.
func SetLevel(level string) {
	switch level {
	case LOG_DEBUG:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case LOG_INFO:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case LOG_WARN:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case LOG_ERROR:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
