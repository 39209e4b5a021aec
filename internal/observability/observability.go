package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the vendor-neutral observability ports handed to use cases.
type Telemetry interface {
	Tracer() TraceCtx
	Counter(name string) Counter
	Histogram(name string) Histogram
	Logger() Logger
}

// TraceCtx is a thin wrapper to start spans without binding to a concrete tracer.
type TraceCtx interface {
	Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
}

// Minimal metric ports; hide prometheus types behind interfaces.
type Counter interface {
	Add(delta float64, labels ...Label)
}

type Histogram interface {
	Observe(value float64, labels ...Label)
}

type Label struct{ Key, Value string }

func L(k, v string) Label { return Label{Key: k, Value: v} }

type Field struct {
	Key   string
	Value any
}

func F(k string, v any) Field { return Field{Key: k, Value: v} }

// Logger is a thin wrapper to log messages.
type Logger interface {
	With(fields ...Field) Logger
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Metric names shared between wiring and use cases.
const (
	MUsecaseRequests         = "usecase_requests_total"
	MUsecaseDuration         = "usecase_duration_seconds"
	MHTTPRequests            = "http_requests_total"
	MHTTPRequestDuration     = "http_request_duration_seconds"
	MExternalRequests        = "external_requests_total"
	MExternalRequestDuration = "external_request_duration_seconds"
)
