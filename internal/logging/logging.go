// Package logging builds the structured loggers handed to every component.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Format is a log output format.
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// ParseFormat maps "text" to FormatText and anything else to FormatJSON.
func ParseFormat(name string) Format {
	if strings.EqualFold(strings.TrimSpace(name), "text") {
		return FormatText
	}
	return FormatJSON
}

// New returns a logger writing to w.
func New(w io.Writer, level slog.Level, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}
	var handler slog.Handler
	if format == FormatText {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// FromContext returns base with the context's request ID attached.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if requestID := RequestID(ctx); requestID != "" {
		return base.With("request_id", requestID)
	}
	return base
}
