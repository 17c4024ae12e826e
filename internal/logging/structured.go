package logging

import (
	"log/slog"
	"os"
)

// InitStructured reconfigures the operational logger.
// format: "text" (default) or "json" (Loki/ELK compatible)
// level: "debug", "info", "warn", "error"
func InitStructured(format, level string) {
	SetLevelFromString(level)

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	opLogger.Store(slog.New(handler))
}

// OpWithRequest returns the operational logger annotated with the
// request ID assigned by the HTTP middleware.
func OpWithRequest(requestID string) *slog.Logger {
	l := opLogger.Load()
	if requestID == "" {
		return l
	}
	return l.With("request_id", requestID)
}
