// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets zerolog's global logger according to mode ("console" or "json").
func Init(mode string) {
	zerolog.TimeFieldFormat = time.RFC3339
	var w = os.Stdout
	if mode == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name, the pattern
// used throughout this service instead of ad-hoc fmt.Printf debugging.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
