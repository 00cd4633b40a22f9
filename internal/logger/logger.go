// Package logger provides structured logging functionality for sheetpipe.
// It uses Go's slog package for logging with configurable levels and formats.
package logger

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// NewLogger creates a new slog Logger with the specified level and format.
// Format "json" produces JSON output, anything else falls back to text.
func NewLogger(levelStr, format string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Middleware returns a chi middleware that tags each request with a request id
// and logs method, path, status, and duration.
func Middleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			requestID := uuid.NewString()

			logEntry := log.With(
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			logEntry.DebugContext(r.Context(), "Processing request")

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logEntry.InfoContext(r.Context(), "Finished request",
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(startTime))
		})
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}

// TruncateForLog shortens free-text content for log fields.
func TruncateForLog(s string) string {
	return truncateString(s, 50)
}
