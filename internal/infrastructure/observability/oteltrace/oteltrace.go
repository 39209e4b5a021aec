package oteltrace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zestmarket/marketplace/internal/observability"
)

type tracer struct{ t trace.Tracer }

func New(name string) observability.TraceCtx {
	if name == "" {
		name = "marketplace"
	}
	return &tracer{t: otel.Tracer(name)}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Exporting spans requires an sdktrace.TracerProvider + exporter wired via
// otel.SetTracerProvider; without one, spans stay local and carry context.
