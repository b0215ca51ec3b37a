package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a minimal structured logger with secret redaction.
func New() *slog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel returns a redacting logger at the named level; unknown names fall back to info.
func NewWithLevel(level string) *slog.Logger {
	return NewWriter(os.Stdout, level)
}

// NewWriter is NewWithLevel writing to w.
func NewWriter(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

// ParseLevel maps debug/info/warn/warning/error to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func redact(groups []string, a slog.Attr) slog.Attr {
	if isSecretKey(a.Key) {
		a.Value = slog.StringValue("[redacted]")
	}
	return a
}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	return strings.Contains(k, "token") || strings.Contains(k, "secret") || strings.Contains(k, "key") || strings.Contains(k, "pass")
}
