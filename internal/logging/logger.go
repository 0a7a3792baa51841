package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithIntent returns a logger with intent context fields attached.
// Use this for all logging within an orchestration cycle.
func WithIntent(intentID, ownerID, kind string) *slog.Logger {
	return slog.With(
		"intent_id", intentID,
		"owner_id", ownerID,
		"kind", kind,
	)
}

// WithStep returns a logger scoped to one adapter step within a cycle.
func WithStep(logger *slog.Logger, adapter string, attempt int) *slog.Logger {
	return logger.With(
		"adapter", adapter,
		"attempt", attempt,
	)
}
