package infra

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logger type handed to every package.
type Logger = zerolog.Logger

// NewLogger builds the service logger. LOG_LEVEL wins when it parses;
// otherwise development logs at debug and everything else at info.
// Development output goes through the console writer.
func NewLogger(cfg *Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.AppEnv == "development" {
		level = zerolog.DebugLevel
	}
	if raw := strings.TrimSpace(cfg.LogLevel); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "dashboard").
		Str("backend", cfg.GenerationBackend).
		Logger()

	if cfg.AppEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}
