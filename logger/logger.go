// Package logger configures the process-wide zerolog logger
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls logger initialisation
type Options struct {
	Production bool
	Level      string
}

// Init replaces the global logger. Outside production it writes human readable
// console output at debug level; in production it writes JSON at opts.Level.
func Init(opts Options) {
	if opts.Production {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(ParseLevel(opts.Level))

		return
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Caller().Logger().
		Level(zerolog.DebugLevel)
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}

	return lvl
}

// With returns a child of the global logger tagged with a component name
func With(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
