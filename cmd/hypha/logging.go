package main

import (
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// newConsoleLogger builds the CLI's top-level logger: a colorized
// console writer when stderr is a terminal, plain otherwise.
func newConsoleLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	out := os.Stderr

	var w zerolog.ConsoleWriter
	if isatty.IsTerminal(out.Fd()) {
		w = zerolog.ConsoleWriter{Out: colorable.NewColorable(out), TimeFormat: time.Kitchen}
	} else {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: true}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
