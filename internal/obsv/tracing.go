package obsv

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/trunkline/trunkrouter/internal/delivery"
)

// TracingConfig configures the tracer that wraps delivery handling.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "trunkrouter").
	TracerName string
	// Propagator extracts/injects trace context through router-annotations
	// trace fields instead of HTTP headers.
	Propagator propagation.TextMapPropagator
}

// DefaultTracingConfig returns a TracingConfig with sensible defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		TracerName: "trunkrouter",
		Propagator: propagation.TraceContext{},
	}
}

// Tracer starts spans around delivery handling.
type Tracer struct {
	config TracingConfig
	tracer trace.Tracer
}

// NewTracer builds a Tracer from config, filling in defaults for any zero
// fields.
func NewTracer(config TracingConfig) *Tracer {
	if config.TracerName == "" {
		config.TracerName = "trunkrouter"
	}
	if config.Propagator == nil {
		config.Propagator = propagation.TraceContext{}
	}
	return &Tracer{config: config, tracer: otel.Tracer(config.TracerName)}
}

// StartDelivery starts a server span for one incoming delivery, extracting
// any parent trace context carried in its router-annotations trace list
// (§4.3) via carrier. subject and to name the AMQP properties this
// delivery was composed with (§4.7 item 1).
func (t *Tracer) StartDelivery(ctx context.Context, carrier propagation.TextMapCarrier, subject, to string) (context.Context, trace.Span) {
	parentCtx := ctx
	if carrier != nil {
		parentCtx = t.config.Propagator.Extract(ctx, carrier)
	}

	spanCtx, span := t.tracer.Start(
		parentCtx,
		subject+" "+to,
		trace.WithSpanKind(trace.SpanKindServer),
	)
	span.SetAttributes(
		attribute.String("messaging.operation", subject),
		attribute.String("messaging.destination", to),
	)
	return spanCtx, span
}

// EndDelivery records the delivery's final disposition on span and closes
// it, the settlement-side analog of HTTP status-code recording.
func EndDelivery(span trace.Span, disp delivery.Disposition, err error) {
	span.SetAttributes(attribute.String("messaging.trunkrouter.disposition", disp.String()))
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case disp == delivery.DispositionRejected || disp == delivery.DispositionReleased:
		span.SetStatus(codes.Error, disp.String())
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// traceFieldCarrier adapts the annotations package's trace-field string
// slice to propagation.TextMapCarrier, the router-annotations analog of
// an HTTP header carrier.
type traceFieldCarrier struct {
	fields map[string]string
}

// NewTraceFieldCarrier wraps a flat key/value map (decoded from a message's
// application-properties or router-annotations trace fields) as a carrier.
func NewTraceFieldCarrier(fields map[string]string) propagation.TextMapCarrier {
	return &traceFieldCarrier{fields: fields}
}

func (c *traceFieldCarrier) Get(key string) string { return c.fields[key] }

func (c *traceFieldCarrier) Set(key, value string) {
	if c.fields == nil {
		c.fields = make(map[string]string)
	}
	c.fields[key] = value
}

func (c *traceFieldCarrier) Keys() []string {
	keys := make([]string, 0, len(c.fields))
	for k := range c.fields {
		keys = append(keys, k)
	}
	return keys
}
