package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Development gets a human console writer on
// stderr; every other environment gets JSON lines.
func New(env string) zerolog.Logger {
	return NewWithWriter(env, os.Stderr)
}

func NewWithWriter(env string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("CREDCHAIN_LOG_LEVEL"))); err == nil && lvl != zerolog.NoLevel {
		level = lvl
	}
	var out io.Writer = w
	if strings.EqualFold(env, "development") || strings.EqualFold(env, "dev") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		if level == zerolog.InfoLevel {
			level = zerolog.DebugLevel
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "credchain").Logger()
}
