package httppresentation

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/zestmarket/marketplace/internal/observability"
	"github.com/zestmarket/marketplace/internal/observability/logctx"
)

const (
	headerRequestID = "X-Request-ID"
	headerUserID    = "X-User-ID"
	headerUserRole  = "X-User-Role"
)

// observabilityMiddleware combines W3C trace context extraction, a server
// span, X-Request-ID generation + echo, request-scoped logger injection and
// RED HTTP metrics. gin's FullPath is the low-cardinality route label.
func observabilityMiddleware(base observability.Logger, tel observability.Telemetry) gin.HandlerFunc {
	if base == nil {
		base = observability.NopLogger()
	}
	prop := otel.GetTextMapPropagator()
	tracer := otel.Tracer("marketplace.http")

	return func(c *gin.Context) {
		r := c.Request
		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}

		ctx, span := tracer.Start(ctx, r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		rid := r.Header.Get(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(headerRequestID, rid)

		fields := []observability.Field{observability.F("request_id", rid)}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		reqLogger := base.With(fields...)
		ctx = logctx.With(ctx, reqLogger)
		c.Request = r.WithContext(ctx)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		statusLabel := strconv.Itoa(status)
		if tel != nil {
			tel.Counter(observability.MHTTPRequests).Add(1,
				observability.L("method", r.Method),
				observability.L("route", route),
				observability.L("status", statusLabel),
			)
			tel.Histogram(observability.MHTTPRequestDuration).Observe(time.Since(start).Seconds(),
				observability.L("method", r.Method),
				observability.L("route", route),
				observability.L("status", statusLabel),
			)
		}

		reqLogger.Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", route),
			observability.F("path", r.URL.Path),
			observability.F("status", status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	}
}

// recoveryMiddleware turns a handler panic into a 500 instead of killing the
// connection, and logs it through the request-scoped logger.
func recoveryMiddleware(base observability.Logger) gin.HandlerFunc {
	if base == nil {
		base = observability.NopLogger()
	}
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logctx.FromOr(c.Request.Context(), base).Error("http_panic",
					observability.F("route", c.FullPath()),
					observability.F("panic", r),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			}
		}()
		c.Next()
	}
}
