package common

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel converts a config level name into a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// SetupLogger configures the global logger. Format is "console" or "json".
func SetupLogger(level, format string) error {
	return SetupLoggerTo(os.Stderr, level, format)
}

// SetupLoggerTo is SetupLogger writing to w.
func SetupLoggerTo(w io.Writer, level, format string) error {
	slogLevel, err := ParseLevel(level)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: slogLevel}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "console":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format: %s", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// ComponentLogger returns the default logger tagged with a component name.
func ComponentLogger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// ErrorAttrs flattens a classified error into log attributes.
func ErrorAttrs(err *ClassifiedError) []any {
	if err == nil {
		return nil
	}
	attrs := []any{
		"code", err.Code,
		"severity", err.Severity,
		"retryable", err.Retryable,
		"error", err.Message,
	}
	if err.TerminalID != "" {
		attrs = append(attrs, "terminal_id", err.TerminalID)
	}
	if err.TransactionID != "" {
		attrs = append(attrs, "transaction_id", err.TransactionID)
	}
	if err.Err != nil {
		attrs = append(attrs, "cause", err.Err.Error())
	}
	return attrs
}
