package app

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns the service logger.
// prod writes JSON at info level, everything else a console stream at debug level.
func NewLogger(env, service, version string) zerolog.Logger {
	return newLogger(os.Stdout, env, service, version)
}

func newLogger(w io.Writer, env, service, version string) zerolog.Logger {
	level := zerolog.DebugLevel
	if env == "prod" {
		level = zerolog.InfoLevel
	} else {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}
