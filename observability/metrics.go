package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/scttfrdmn/investdesk/desk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// InitMetrics installs a global meter provider that exports through the
// Prometheus default registry, which promhttp.Handler serves.
func InitMetrics(ctx context.Context, serviceName string) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)
	return provider, nil
}

// Meter returns the investdesk meter from the current global provider.
func Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}

// MetricsMiddleware counts agent calls and records their latency.
type MetricsMiddleware struct {
	agent            desk.Agent
	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	latencyHistogram metric.Float64Histogram
}

var _ desk.Agent = (*MetricsMiddleware)(nil)

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(agent desk.Agent) (*MetricsMiddleware, error) {
	meter := Meter()

	requestCounter, err := meter.Int64Counter("investdesk.agent.requests",
		metric.WithDescription("Total number of agent calls"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	errorCounter, err := meter.Int64Counter("investdesk.agent.errors",
		metric.WithDescription("Total number of failed agent calls"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}
	latencyHistogram, err := meter.Float64Histogram("investdesk.agent.latency",
		metric.WithDescription("Agent call latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}

	return &MetricsMiddleware{
		agent:            agent,
		requestCounter:   requestCounter,
		errorCounter:     errorCounter,
		latencyHistogram: latencyHistogram,
	}, nil
}

// Name returns the agent name.
func (m *MetricsMiddleware) Name() string {
	return m.agent.Name()
}

// Respond calls the agent and records the outcome.
func (m *MetricsMiddleware) Respond(ctx context.Context, input desk.Message) (desk.Message, error) {
	start := time.Now()
	reply, err := m.agent.Respond(ctx, input)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	attrs := []attribute.KeyValue{attribute.String("agent.name", m.agent.Name())}
	if err != nil {
		attrs = append(attrs,
			attribute.String("status", "error"),
			attribute.String("error.type", fmt.Sprintf("%T", err)),
		)
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		attrs = append(attrs, attribute.String("status", "success"))
	}
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.latencyHistogram.Record(ctx, latencyMs, metric.WithAttributes(attrs...))
	return reply, err
}
