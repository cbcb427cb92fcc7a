// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/ppiankov/rolcurve/internal/model"
)

// Setup points the global logger at stderr. Format "auto" picks the console
// writer when stderr is a terminal and JSON otherwise.
func Setup(cfg model.LoggingConfig) error {
	return SetupWriter(cfg, os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
}

// SetupWriter configures the global logger on w
func SetupWriter(cfg model.LoggingConfig, w io.Writer, tty bool) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	log.Logger = New(cfg.Format, w, tty)
	return nil
}

// New builds a logger for format on w
func New(format string, w io.Writer, tty bool) zerolog.Logger {
	switch strings.ToLower(format) {
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	case "json":
	default:
		if tty {
			w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel maps a config level to zerolog; empty means info
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(s))
}
