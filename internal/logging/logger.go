// Package logging configures the global zerolog logger and the cold-start
// summary event.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	levelEnv  = "IDENTIFY_LOG_LEVEL"
	formatEnv = "IDENTIFY_LOG_FORMAT"
)

// Init configures the global logger from the environment.
//
// IDENTIFY_LOG_LEVEL: debug, info, warn, error (default info).
// IDENTIFY_LOG_FORMAT: console or json. The default is json inside Lambda
// and console elsewhere.
func Init() {
	InitWithWriter(os.Stderr)
}

// InitWithWriter is Init writing to w.
func InitWithWriter(w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv(levelEnv)))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	format := strings.ToLower(os.Getenv(formatEnv))
	if format == "" {
		format = "console"
		if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
			format = "json"
		}
	}
	if format == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
