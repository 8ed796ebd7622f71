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

	"github.com/scttfrdmn/investdesk/desk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// SimpleTestAgent answers with a fixed response.
type SimpleTestAgent struct {
	name     string
	response string
	err      error
}

func (a *SimpleTestAgent) Name() string {
	return a.name
}

func (a *SimpleTestAgent) Respond(ctx context.Context, input desk.Message) (desk.Message, error) {
	if a.err != nil {
		return desk.Message{}, a.err
	}
	return input.Reply(a.name, a.response), nil
}

// setupTestTracing sets up a test tracer provider with in-memory exporter
func setupTestTracing(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider, exporter
}

// setupTestMetrics sets up a test meter provider with a manual reader
func setupTestMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func attrValue(attrs []attribute.KeyValue, key string) string {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestTracingMiddlewareCreatesSpan(t *testing.T) {
	_, exporter := setupTestTracing(t)

	traced := NewTracingMiddleware(&SimpleTestAgent{name: "Fundamental", response: "ok"})
	input := desk.NewMessage("INV-2024-001", "analyze")
	if _, err := traced.Respond(context.Background(), input); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "agent.Fundamental.respond" {
		t.Errorf("Unexpected span name %q", span.Name)
	}
	if span.Status.Code != codes.Ok {
		t.Errorf("Expected status OK, got %v", span.Status.Code)
	}
	if got := attrValue(span.Attributes, "desk.correlation_id"); got != "INV-2024-001" {
		t.Errorf("Expected correlation id attribute, got %q", got)
	}
}

func TestTracingMiddlewareRecordsError(t *testing.T) {
	_, exporter := setupTestTracing(t)

	cause := desk.NewServiceError("Technical", errors.New("503"))
	traced := NewTracingMiddleware(&SimpleTestAgent{name: "Technical", err: cause})
	if _, err := traced.Respond(context.Background(), desk.NewMessage("c", "x")); !errors.Is(err, cause) {
		t.Fatalf("Expected error to pass through, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Fatalf("Expected one error span, got %+v", spans)
	}
	if len(spans[0].Events) == 0 {
		t.Error("Expected the error to be recorded as an event")
	}
}

func TestMetricsMiddlewareCountsCalls(t *testing.T) {
	reader := setupTestMetrics(t)

	ok, err := NewMetricsMiddleware(&SimpleTestAgent{name: "Fundamental", response: "ok"})
	if err != nil {
		t.Fatalf("NewMetricsMiddleware failed: %v", err)
	}
	failing, _ := NewMetricsMiddleware(&SimpleTestAgent{name: "Sentiment", err: errors.New("down")})

	_, _ = ok.Respond(context.Background(), desk.NewMessage("c", "x"))
	_, _ = ok.Respond(context.Background(), desk.NewMessage("c", "x"))
	_, _ = failing.Respond(context.Background(), desk.NewMessage("c", "x"))

	requests := collect(t, reader, "investdesk.agent.requests")
	if requests == nil {
		t.Fatal("Request counter not found")
	}
	sum, isSum := requests.Data.(metricdata.Sum[int64])
	if !isSum {
		t.Fatalf("Expected Sum[int64], got %T", requests.Data)
	}
	var success int64
	for _, dp := range sum.DataPoints {
		if attrValue(dp.Attributes.ToSlice(), "agent.name") == "Fundamental" &&
			attrValue(dp.Attributes.ToSlice(), "status") == "success" {
			success = dp.Value
		}
	}
	if success != 2 {
		t.Errorf("Expected 2 successful Fundamental calls, got %d", success)
	}

	if collect(t, reader, "investdesk.agent.errors") == nil {
		t.Error("Error counter not found")
	}
	if collect(t, reader, "investdesk.agent.latency") == nil {
		t.Error("Latency histogram not found")
	}
}

func TestSessionTelemetry(t *testing.T) {
	_, exporter := setupTestTracing(t)
	reader := setupTestMetrics(t)

	telemetry, err := NewSessionTelemetry()
	if err != nil {
		t.Fatalf("NewSessionTelemetry failed: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	s := desk.NewSession("INV-2024-001", desk.PatternFanOut, func() time.Time { return now })

	ctx := telemetry.SessionStarted(context.Background(), s)
	if CorrelationIDFrom(ctx) != "INV-2024-001" {
		t.Error("Expected correlation id on context")
	}
	s.AddGap("Sentiment")
	now = start.Add(250 * time.Millisecond)
	s.Fail("session deadline exceeded", context.DeadlineExceeded)
	telemetry.SessionFinished(ctx, s)

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "session.fan_out" {
		t.Fatalf("Expected one session span, got %+v", spans)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("Expected error status for failed session, got %v", spans[0].Status.Code)
	}

	sessions := collect(t, reader, "investdesk.sessions")
	if sessions == nil {
		t.Fatal("Session counter not found")
	}
	sum := sessions.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || attrValue(sum.DataPoints[0].Attributes.ToSlice(), "desk.status") != "failed" {
		t.Errorf("Unexpected session data points: %+v", sum.DataPoints)
	}
	if collect(t, reader, "investdesk.fanout.gaps") == nil {
		t.Error("Gap counter not found")
	}
}

func TestTraceContextHandlerAddsIDs(t *testing.T) {
	setupTestTracing(t)

	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "json", true)

	ctx, span := otel.Tracer("test").Start(context.Background(), "test-span")
	ctx = WithCorrelationID(ctx, "HR-001")
	logger.InfoContext(ctx, "handoff routed", "agent", "EquitySpecialist")
	span.End()

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("Missing trace_id: %v", entry)
	}
	if entry["correlation_id"] != "HR-001" {
		t.Errorf("Missing correlation_id: %v", entry)
	}
}

func TestNewLoggerTextFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn, "text", false)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("Unexpected output: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
