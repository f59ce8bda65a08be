package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestInit(t *testing.T) {
	l := Init("testsvc", slog.LevelInfo)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestLanePropagation(t *testing.T) {
	ctx := context.Background()
	if Lane(ctx) != "" {
		t.Error("expected empty lane on fresh context")
	}

	ctx = WithLane(ctx, "BTCUSDT")
	if got := Lane(ctx); got != "BTCUSDT" {
		t.Errorf("expected lane=BTCUSDT, got %q", got)
	}

	attrs := LaneAttrs(ctx)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attr, got %d", len(attrs))
	}
}

func TestLaneAttrsEmpty(t *testing.T) {
	if attrs := LaneAttrs(context.Background()); attrs != nil {
		t.Errorf("expected nil attrs, got %v", attrs)
	}
}
