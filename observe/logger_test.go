package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"WARN":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", &buf)

	logger.Info(context.Background(), "cache hit",
		F("route", "/stocks"),
		F("attempt", 2),
		F("stale", false),
		F("elapsed", 1500*time.Millisecond),
		F("error", errors.New("boom")),
	)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	e := lines[0]
	if e["level"] != "info" || e["message"] != "cache hit" {
		t.Errorf("level/message = %v/%v", e["level"], e["message"])
	}
	if e["route"] != "/stocks" {
		t.Errorf("route = %v, want /stocks", e["route"])
	}
	if e["attempt"] != float64(2) {
		t.Errorf("attempt = %v, want 2", e["attempt"])
	}
	if e["error"] != "boom" {
		t.Errorf("error = %v, want boom", e["error"])
	}
	if _, ok := e["time"]; !ok {
		t.Error("entry missing time field")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)
	ctx := context.Background()

	logger.Debug(ctx, "debug")
	logger.Info(ctx, "info")
	logger.Warn(ctx, "warn")
	logger.Error(ctx, "error")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 (warn and error)", len(lines))
	}
	if lines[0]["message"] != "warn" || lines[1]["message"] != "error" {
		t.Errorf("messages = %v, %v", lines[0]["message"], lines[1]["message"])
	}
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).With(F("Authorization", "Bearer abc"))

	logger.Info(context.Background(), "dial",
		F("token", "eyJhbGciOi"),
		F("password", "hunter2"),
		F("api_key", "k"),
		F("url", "wss://push.example.com"),
	)

	e := decodeLines(t, &buf)[0]
	for _, k := range []string{"Authorization", "token", "password", "api_key"} {
		if e[k] != redacted {
			t.Errorf("%s = %v, want %s", k, e[k], redacted)
		}
	}
	if e["url"] != "wss://push.example.com" {
		t.Errorf("url = %v, should not be redacted", e["url"])
	}
	if strings.Contains(buf.String(), "hunter2") {
		t.Error("raw secret leaked into output")
	}
}

func TestLogger_WithAddsFieldsWithoutMutatingParent(t *testing.T) {
	var buf bytes.Buffer
	base := NewLoggerWithWriter("info", &buf)
	child := base.With(F("component", "push"))

	child.Info(context.Background(), "child")
	base.Info(context.Background(), "base")

	lines := decodeLines(t, &buf)
	if lines[0]["component"] != "push" {
		t.Errorf("child component = %v, want push", lines[0]["component"])
	}
	if _, ok := lines[1]["component"]; ok {
		t.Error("With must not mutate parent logger")
	}
}

func TestLogger_TraceCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	logger.Info(ctx, "traced")

	e := decodeLines(t, &buf)[0]
	if e["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v, want %s", e["trace_id"], span.SpanContext().TraceID())
	}
}

func TestNewLoggerFromConfig_NoFile(t *testing.T) {
	logger, closer, err := NewLoggerFromConfig(LoggingConfig{Level: "info"})
	if err != nil {
		t.Fatalf("NewLoggerFromConfig error = %v", err)
	}
	if logger == nil {
		t.Fatal("logger is nil")
	}
	if closer != nil {
		t.Error("closer should be nil without a file sink")
	}
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.Info(context.Background(), "x", F("token", "t"))
	if l.With(F("a", 1)) == nil {
		t.Error("With should return non-nil logger")
	}
}

func TestIsRedactedField(t *testing.T) {
	tests := map[string]bool{
		"Authorization": true,
		"X-Api-Key":     true,
		"access_token":  true,
		"REFRESH_TOKEN": true,
		"symbol":        false,
		"tokens":        false,
		"signature":     false,
	}
	for key, want := range tests {
		if got := isRedactedField(key); got != want {
			t.Errorf("isRedactedField(%q) = %v, want %v", key, got, want)
		}
	}
}
