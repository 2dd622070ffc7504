// Package logging wires the zerolog logger every long-running component in
// this repository takes as an injected handle, per the design note against
// ambient globals: callers construct one logger and pass it down, they
// never reach for a package-level default.
package logging

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Options controls how New renders output.
type Options struct {
	Level      string // "debug", "info", "warn", "error"
	Pretty     bool   // force console writer even when stdout isn't a TTY
	Component  string
}

// New builds a zerolog.Logger. When stderr is a TTY (or Pretty is set) it
// uses zerolog's ConsoleWriter; otherwise it emits structured JSON, the
// split production services in this pack (tomtom215-cartographus) make at
// startup.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var w = os.Stderr
	var logger zerolog.Logger
	if opts.Pretty || isatty.IsTerminal(w.Fd()) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"})
	} else {
		logger = zerolog.New(w)
	}

	logger = logger.Level(level).With().Timestamp().Logger()
	if opts.Component != "" {
		logger = logger.With().Str("component", opts.Component).Logger()
	}
	return logger
}
