package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the verbosity and output encoding of a logger.
type Config struct {
	Level  string
	Format string
}

// New builds a timestamped zerolog logger writing to stderr.
func New(cfg Config) (zerolog.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg Config, out io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var writer io.Writer
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "console":
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
		writer = out
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger(), nil
}
