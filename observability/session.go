package observability

import (
	"context"
	"fmt"

	"github.com/scttfrdmn/investdesk/desk"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// SessionTelemetry traces and counts routed sessions. It satisfies the
// orchestrator's session observer hook.
type SessionTelemetry struct {
	sessions metric.Int64Counter
	duration metric.Float64Histogram
	gaps     metric.Int64Counter
}

// NewSessionTelemetry creates session instruments on the global meter.
func NewSessionTelemetry() (*SessionTelemetry, error) {
	meter := Meter()

	sessions, err := meter.Int64Counter("investdesk.sessions",
		metric.WithDescription("Sessions finished, by pattern and status"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("failed to create session counter: %w", err)
	}
	duration, err := meter.Float64Histogram("investdesk.session.duration",
		metric.WithDescription("Session wall time"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create session histogram: %w", err)
	}
	gaps, err := meter.Int64Counter("investdesk.fanout.gaps",
		metric.WithDescription("Fan-out agents that did not respond"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("failed to create gap counter: %w", err)
	}
	return &SessionTelemetry{sessions: sessions, duration: duration, gaps: gaps}, nil
}

// SessionStarted opens a "session.<pattern>" span and tags the context with
// the session correlation id for logging.
func (t *SessionTelemetry) SessionStarted(ctx context.Context, s *desk.Session) context.Context {
	ctx = WithCorrelationID(ctx, s.CorrelationID())
	ctx, _ = Tracer().Start(ctx, "session."+string(s.Pattern()),
		trace.WithAttributes(
			attribute.String("desk.correlation_id", s.CorrelationID()),
			attribute.String("desk.pattern", string(s.Pattern())),
		))
	return ctx
}

// SessionFinished ends the session span and records metrics.
func (t *SessionTelemetry) SessionFinished(ctx context.Context, s *desk.Session) {
	status := s.Status()
	attrs := []attribute.KeyValue{
		attribute.String("desk.pattern", string(s.Pattern())),
		attribute.String("desk.status", string(status)),
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
	span.SetAttributes(attribute.Int("desk.history_length", s.Len()))
	if status == desk.StatusFailed {
		if err := s.Err(); err != nil {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, s.Reason())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	t.sessions.Add(ctx, 1, metric.WithAttributes(attrs...))
	if finished := s.FinishedAt(); !finished.IsZero() {
		ms := float64(finished.Sub(s.StartedAt()).Microseconds()) / 1000.0
		t.duration.Record(ctx, ms, metric.WithAttributes(attrs...))
	}
	if n := len(s.Gaps()); n > 0 {
		t.gaps.Add(ctx, int64(n), metric.WithAttributes(attrs...))
	}
}
