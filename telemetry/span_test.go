package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestStartSpan_NoProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.span", attribute.String("room", "r1"))
	defer span.End()

	if ctx == nil {
		t.Fatal("StartSpan() returned nil context")
	}
	if !trace.SpanFromContext(ctx).SpanContext().Equal(span.SpanContext()) {
		t.Error("StartSpan() context does not carry the new span")
	}
}

func TestRecordError_Nil(t *testing.T) {
	// Must not panic on a context without a span.
	RecordError(context.Background(), nil)
	RecordError(context.Background(), errors.New("boom"))
}
