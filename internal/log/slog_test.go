package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// newTestLogger builds a slogLogger writing to buf so we can inspect output.
func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	opts.JsonFormat = true
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

// lastRecord parses the last JSON log line in buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse JSON log line: %v\nraw: %s", err, buf.String())
	}
	return m
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestLogger_BaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "boardstate", Version: "1.2.3"})

	l.Info(context.Background(), "hello", "generation", 4)

	m := lastRecord(t, &buf)
	if m["msg"] != "hello" {
		t.Fatalf("msg = %v", m["msg"])
	}
	if m["app"] != "boardstate" || m["version"] != "1.2.3" {
		t.Fatalf("base attrs missing: %v", m)
	}
	if m["generation"] != float64(4) {
		t.Fatalf("generation = %v", m["generation"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x", Level: slog.LevelWarn})

	l.Debug(context.Background(), "debug")
	l.Info(context.Background(), "info")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %s", buf.String())
	}
	l.Warn(context.Background(), "warn")
	if !strings.Contains(buf.String(), `"msg":"warn"`) {
		t.Fatalf("warn not written: %s", buf.String())
	}
}

func TestLogger_WithCopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x"})

	child := l.With("component", "reload")
	_ = l.With("component", "watch")

	child.Info(context.Background(), "msg")
	if m := lastRecord(t, &buf); m["component"] != "reload" {
		t.Fatalf("component = %v, want reload", m["component"])
	}
	l.Info(context.Background(), "parent")
	if m := lastRecord(t, &buf); m["component"] != nil {
		t.Fatalf("parent picked up child attrs: %v", m)
	}
}

func TestLogger_ErrorCarriesKind(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x", IncludeErrorLinks: true})

	err := xerrors.Wrap(xerrors.Kind(xerrors.ErrRead, errors.New("no such file"), "open www/css"), "stage css")
	l.Error(context.Background(), err, "reload failed")

	m := lastRecord(t, &buf)
	if m["error_kind"] != "read error" {
		t.Fatalf("error_kind = %v", m["error_kind"])
	}
	if _, ok := m["stack"]; !ok {
		t.Fatal("stack missing at error level")
	}
	if _, ok := m["error_links"]; !ok {
		t.Fatal("error_links missing")
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) < 2 {
		t.Fatalf("error_chain = %v", m["error_chain"])
	}
}

func TestLogger_ErrorWithoutKind(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x"})

	l.Error(context.Background(), fmt.Errorf("plain"), "oops")
	if m := lastRecord(t, &buf); m["error_kind"] != nil {
		t.Fatalf("unexpected error_kind %v", m["error_kind"])
	}
}

func TestTraceHandler_AddsIDs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x"})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	l.Info(ctx, "traced")

	m := lastRecord(t, &buf)
	if m["trace_id"] != sc.TraceID().String() {
		t.Fatalf("trace_id = %v", m["trace_id"])
	}
	if m["span_id"] != sc.SpanID().String() {
		t.Fatalf("span_id = %v", m["span_id"])
	}
}

func TestClassifyTypes_SkipsWrappers(t *testing.T) {
	inner := &customErr{}
	surface, root := classifyTypes(xerrors.Wrap(fmt.Errorf("ctx: %w", inner), "outer"))
	if surface != "*log.customErr" {
		t.Fatalf("surface = %q", surface)
	}
	if root != "*log.customErr" {
		t.Fatalf("root = %q", root)
	}
}

type customErr struct{}

func (*customErr) Error() string { return "custom" }

func TestContext_RoundTrip(t *testing.T) {
	if _, ok := FromContext(context.Background()).(nopLogger); !ok {
		t.Fatal("empty context should yield Nop")
	}
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x"})
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != Logger(l) {
		t.Fatal("FromContext did not return stored logger")
	}
}

func TestNop_Safe(t *testing.T) {
	l := Nop().With("k", "v")
	l.Debug(context.Background(), "m")
	l.Error(context.Background(), nil, "m")
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestNew_StacktraceLevel(t *testing.T) {
	if _, err := New(Options{App: "x", StacktraceLevel: "loud"}); err == nil {
		t.Fatal("expected error for unknown stacktrace level")
	}
	l, err := newSlog(Options{App: "x", StacktraceLevel: "info", Writer: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	sh, ok := l.(*slogLogger).h.(stackHandler)
	if !ok || sh.level != slog.LevelInfo {
		t.Fatalf("stack handler level = %+v", l.(*slogLogger).h)
	}
}
