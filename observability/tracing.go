// Package observability wires investdesk into OpenTelemetry: agent and
// session spans, agent and session metrics exported to Prometheus, and slog
// handlers that carry trace and session ids.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/scttfrdmn/investdesk/desk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// InstrumentationName names the tracer and meter used by investdesk.
const InstrumentationName = "github.com/scttfrdmn/investdesk"

// TracingConfig configures span export.
type TracingConfig struct {
	ServiceName   string
	OTLPEndpoint  string // host:port of an OTLP gRPC collector, optional
	ConsoleExport bool
}

// InitTracing installs a global tracer provider. The caller shuts it down.
func InitTracing(ctx context.Context, cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "investdesk"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	if cfg.ConsoleExport {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

// Tracer returns the investdesk tracer from the current global provider, so
// tests can install their own provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// ExtractHTTP continues a trace started by the caller of an HTTP request.
func ExtractHTTP(ctx context.Context, header http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(header))
}

// TracingMiddleware wraps an agent so every call runs in its own span.
type TracingMiddleware struct {
	agent desk.Agent
}

var _ desk.Agent = (*TracingMiddleware)(nil)

// NewTracingMiddleware creates a new tracing middleware.
func NewTracingMiddleware(agent desk.Agent) *TracingMiddleware {
	return &TracingMiddleware{agent: agent}
}

// Name returns the agent name.
func (t *TracingMiddleware) Name() string {
	return t.agent.Name()
}

// Respond calls the agent inside an "agent.<name>.respond" span.
func (t *TracingMiddleware) Respond(ctx context.Context, input desk.Message) (desk.Message, error) {
	ctx, span := Tracer().Start(ctx, "agent."+t.agent.Name()+".respond",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	span.SetAttributes(
		attribute.String("agent.name", t.agent.Name()),
		attribute.String("desk.correlation_id", input.CorrelationID),
		attribute.String("message.sender", input.Sender),
		attribute.Int("message.content_length", len(input.Content)),
	)

	reply, err := t.agent.Respond(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return reply, err
	}
	span.SetAttributes(attribute.Int("reply.content_length", len(reply.Content)))
	span.SetStatus(codes.Ok, "")
	return reply, nil
}
