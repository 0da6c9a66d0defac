package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OTel trace.Tracer under the engine's instrumentation
// name. Grounded on the teacher's observability.Tracer wrapper, scaled
// down to accept a caller-supplied trace.TracerProvider instead of owning
// an OTLP exporter — provider wiring (OTLP endpoint, sampler, resource
// attributes) is the host process's concern, not this engine's.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer builds a Tracer against provider. A nil provider falls back
// to otel.GetTracerProvider(), the global no-op provider until a host
// process configures one.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracer{tracer: provider.Tracer("github.com/quorumkit/agentcore")}
}

// StartPhase opens a span named after the phase being entered. A nil
// Tracer starts a span against the global no-op provider, so callers
// never need to nil-check before calling this.
func (t *Tracer) StartPhase(ctx context.Context, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := t.tracerOrNoop()
	return tracer.Start(ctx, "phase."+phase, trace.WithAttributes(attrs...))
}

// StartReview opens a span for one review boundary's round.
func (t *Tracer) StartReview(ctx context.Context, boundary string, round int) (context.Context, trace.Span) {
	tracer := t.tracerOrNoop()
	return tracer.Start(ctx, "review."+boundary, trace.WithAttributes(
		attribute.Int("round", round),
	))
}

// EndWithError ends span, recording err as a span error if non-nil.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *Tracer) tracerOrNoop() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.GetTracerProvider().Tracer("github.com/quorumkit/agentcore")
	}
	return t.tracer
}
