package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"bobine/internal/services"
)

func TestPrettyHandlerFormatsComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl))

	logger.Info("item queued", String(FieldComponent, "queue"), Int64(FieldItemID, 7))

	line := buf.String()
	if !strings.Contains(line, "INFO queue: item queued") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "item_id=7") {
		t.Fatalf("expected item_id attr in line: %q", line)
	}
}

func TestPrettyHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl))

	logger.Info("parsed", String("title", "Le Petit Prince"))

	if !strings.Contains(buf.String(), `title="Le Petit Prince"`) {
		t.Fatalf("expected quoted title, got %q", buf.String())
	}
}

func TestPrettyHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newPrettyHandler(&buf, lvl))

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be suppressed: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn line should be emitted: %q", out)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl))

	ctx := services.WithItemID(context.Background(), 42)
	ctx = services.WithStage(ctx, "metadata")

	WithContext(ctx, logger).Info("resolving")

	line := buf.String()
	if !strings.Contains(line, "item_id=42") || !strings.Contains(line, "stage=metadata") {
		t.Fatalf("expected context fields, got %q", line)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		" info  ": slog.LevelInfo,
	}
	for input, expect := range cases {
		if got := parseLevel(input); got != expect {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, expect)
		}
	}
}
