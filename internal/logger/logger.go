// Package logger provides structured logging using log/slog.
// It sets up a JSON handler with service-level context and provides
// per-symbol lane attribution through context.Context.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey string

const laneKey ctxKey = "lane"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// WithLane stores the owning lane's symbol in the context so that log lines
// emitted deep inside venue calls can be attributed to one instrument.
func WithLane(ctx context.Context, symbol string) context.Context {
	return context.WithValue(ctx, laneKey, symbol)
}

// Lane extracts the lane symbol from context. Returns "" if not set.
func Lane(ctx context.Context) string {
	if v, ok := ctx.Value(laneKey).(string); ok {
		return v
	}
	return ""
}

// LaneAttrs returns slog attributes including the lane symbol from context.
// Usage: slog.Info("msg", logger.LaneAttrs(ctx)...)
func LaneAttrs(ctx context.Context) []any {
	sym := Lane(ctx)
	if sym == "" {
		return nil
	}
	return []any{slog.String("lane", sym)}
}
