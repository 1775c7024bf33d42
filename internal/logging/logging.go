// Package logging configures the global zerolog logger used across the client.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global logger. DEV environments get a human readable console
// writer, everything else gets JSON lines. Unknown levels fall back to info.
func Setup(env, level string) {
	setup(os.Stderr, env, level)
}

func setup(w io.Writer, env, level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(ParseLevel(level))

	if strings.EqualFold(env, "DEV") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel converts a textual level into a zerolog level.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}
