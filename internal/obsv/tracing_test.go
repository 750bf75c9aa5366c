package obsv

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/trunkline/trunkrouter/internal/delivery"
)

func TestStartDeliveryExtractsParentContext(t *testing.T) {
	tracer := NewTracer(DefaultTracingConfig())
	carrier := NewTraceFieldCarrier(map[string]string{
		"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	})

	ctx, span := tracer.StartDelivery(context.Background(), carrier, "create", "example.com/orders")
	defer span.End()

	sc := trace.SpanContextFromContext(ctx)
	if !sc.TraceID().IsValid() {
		t.Fatalf("expected extracted trace id to be valid")
	}
	if sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected trace id: %s", sc.TraceID().String())
	}
}

func TestEndDeliverySetsErrorStatusOnRejected(t *testing.T) {
	tracer := NewTracer(DefaultTracingConfig())
	_, span := tracer.StartDelivery(context.Background(), nil, "create", "example.com/orders")
	EndDelivery(span, delivery.DispositionRejected, nil)
}

func TestEndDeliveryRecordsHandlerError(t *testing.T) {
	tracer := NewTracer(DefaultTracingConfig())
	_, span := tracer.StartDelivery(context.Background(), nil, "create", "example.com/orders")
	EndDelivery(span, delivery.DispositionModified, errors.New("boom"))
}

func TestTraceFieldCarrierRoundTrip(t *testing.T) {
	c := NewTraceFieldCarrier(nil)
	c.Set("traceparent", "x")
	if c.Get("traceparent") != "x" {
		t.Fatalf("expected round-tripped value")
	}
	keys := c.Keys()
	if len(keys) != 1 || keys[0] != "traceparent" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}
