package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestComponentContext(t *testing.T) {
	var buf bytes.Buffer
	InitTo(&buf, slog.LevelInfo, false)
	t.Cleanup(func() { InitTo(&bytes.Buffer{}, slog.LevelInfo, false) })

	ctx := ContextWithRunID(context.Background(), "run-1")
	ctx = ContextWithUserID(ctx, "user-1")
	ComponentContext(ctx, "archival").Info("daily run started")

	out := buf.String()
	for _, want := range []string{"component=archival", "run_id=run-1", "user_id=user-1", `msg="daily run started"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestLevel(t *testing.T) {
	var buf bytes.Buffer
	InitTo(&buf, ParseLevel("warn"), true)
	t.Cleanup(func() { InitTo(&bytes.Buffer{}, slog.LevelInfo, false) })

	Component("query").Info("hidden")
	Component("query").Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
