package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the process-wide root logger. Components derive scoped loggers
// from it with With().Str("service", ...).
func New() zerolog.Logger {
	// Cloud Logging parses the level from a "severity" field.
	zerolog.LevelFieldName = "severity"
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	// ConsoleWriter keeps local development output readable.
	if os.Getenv("ENV") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel)
		return logger
	}
	return logger.Level(zerolog.InfoLevel)
}
