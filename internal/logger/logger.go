package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/moneybrain/syncd/internal/config"
)

// NewLogger creates a JSON slog.Logger at the configured level, tagged with
// the application name so log streams from several local services can be
// told apart.
func NewLogger(cfg *config.Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Logging.Level)

	opts := &slog.HandlerOptions{
		Level: level,
		// Source locations only at debug; they are noise in production
		AddSource: level == slog.LevelDebug,
	}

	log := slog.New(slog.NewJSONHandler(w, opts))
	if cfg.Application.Name != "" {
		log = log.With("app", cfg.Application.Name)
	}

	log.Info("logger initialized", "level", level)
	return log
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
