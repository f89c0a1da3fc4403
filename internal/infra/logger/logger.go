package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"inkdesk/internal/infra/config"
)

// New builds the engine logger. Stdout is refused as a target: the
// agent process speaks the host protocol on stdout, and a single log
// line there corrupts the JSONL stream. Defer the returned closer to
// flush file targets.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	writer, closer, err := target(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	opts := &slog.HandlerOptions{Level: levelFrom(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler), closer, nil
}

func levelFrom(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func target(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stderr", "":
		return os.Stderr, noop, nil
	case "stdout":
		return nil, nil, fmt.Errorf("stdout is reserved for the host protocol; log to stderr or a file")
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
