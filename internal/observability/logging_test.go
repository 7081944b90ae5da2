package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

func TestRedactingHandlerMasksSecretKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&redactingHandler{next: slog.NewJSONHandler(&buf, nil)})

	logger.With("session_token", "abc").InfoContext(context.Background(), "login",
		"email", "ana@x.io",
		"password", "pw1",
		slog.Group("reset", "reset_token", "xyz", "user_id", 7),
	)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["password"] != redactedValue || line["session_token"] != redactedValue {
		t.Fatalf("expected secrets redacted, got %v", line)
	}
	if line["email"] != "ana@x.io" {
		t.Fatalf("expected email kept, got %v", line["email"])
	}
	group, ok := line["reset"].(map[string]any)
	if !ok || group["reset_token"] != redactedValue || group["user_id"] != float64(7) {
		t.Fatalf("expected nested secret redacted, got %v", line["reset"])
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":  slog.LevelDebug,
		" WARN ": slog.LevelWarn,
		"error":  slog.LevelError,
		"":       slog.LevelInfo,
		"bogus":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q)=%v want %v", in, got, want)
		}
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("collector down") }

func TestFanoutHandlerKeepsWritingWhenASinkFails(t *testing.T) {
	var buf bytes.Buffer
	stdout := slog.NewJSONHandler(&buf, nil)
	h := &fanoutHandler{sinks: []slog.Handler{failingHandler{stdout}, stdout}}

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "entry appended", 0)
	rec.AddAttrs(slog.Int("user_id", 3))
	err := h.Handle(context.Background(), rec)
	if err == nil || !strings.Contains(err.Error(), "collector down") {
		t.Fatalf("expected sink error surfaced, got %v", err)
	}
	if !strings.Contains(buf.String(), `"msg":"entry appended"`) || !strings.Contains(buf.String(), `"user_id":3`) {
		t.Fatalf("expected healthy sink to receive record, got %q", buf.String())
	}
}

func TestTraceContextHandlerOnlyStampsSpans(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&traceContextHandler{next: slog.NewJSONHandler(&buf, nil)})

	logger.InfoContext(context.Background(), "no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Fatalf("expected no trace ids outside a span, got %q", buf.String())
	}

	buf.Reset()
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4, 5, 6},
	})
	logger.InfoContext(trace.ContextWithSpanContext(context.Background(), sc), "in span")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["trace_id"] != sc.TraceID().String() || line["span_id"] != sc.SpanID().String() {
		t.Fatalf("unexpected trace attrs %v", line)
	}
}
