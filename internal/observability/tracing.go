package observability

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/northcloud/jobforge/internal/config"
)

// tracerName is the instrumentation name passed to otel.Tracer, matching
// publisher/internal/worker/outbox_worker.go's otel.Tracer("outbox-worker")
// convention of naming the tracer after the component that owns it.
const tracerName = "jobforge"

// Tracer returns the package-wide tracer, to be called once at startup and
// threaded into the gin router and dispatcher the way the rest of
// jobforged's dependencies are constructed explicitly rather than resolved
// through package-level globals.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// NewTracerProvider builds the process-wide TracerProvider backing spec.md
// §2's "per-request spans" responsibility of the Observability Core.
// Disabled tracing still installs a provider (sampling nothing) rather than
// leaving the otel global no-op default in place, so every Tracer() call
// resolves consistently regardless of config.
func NewTracerProvider(cfg config.TracingConfig) *sdktrace.TracerProvider {
	sampler := sdktrace.NeverSample()
	if cfg.Enabled {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio(cfg)))
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sampler))
	otel.SetTracerProvider(provider)
	return provider
}

func sampleRatio(cfg config.TracingConfig) float64 {
	if cfg.SampleRatio <= 0 || cfg.SampleRatio > 1 {
		return 1.0
	}
	return cfg.SampleRatio
}

// TracingMiddleware opens one span per admin API request, adapted from
// CorrelationMiddleware's shape: a gin.HandlerFunc that wraps c.Next() in
// span start/end, carrying correlation_id as a span attribute so traces and
// log lines can be cross-referenced (§8's round-trip property).
func TracingMiddleware(tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "http."+c.Request.Method+" "+c.FullPath(),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.target", c.Request.URL.Path),
			))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if id, ok := c.Get("correlation_id"); ok {
			if s, ok := id.(string); ok {
				span.SetAttributes(attribute.String("correlation_id", s))
			}
		}
	}
}

// StartExecutionSpan opens a span around one dispatched Execution, named and
// attributed the way publishOne's "outbox.publish" span is in
// publisher/internal/worker/outbox_worker.go, giving component I visibility
// into per-job-execution latency alongside the HTTP request spans above.
func StartExecutionSpan(ctx context.Context, tracer trace.Tracer, taskName, correlationID string, attempt int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "execution.run",
		trace.WithAttributes(
			attribute.String("task.name", taskName),
			attribute.String("correlation_id", correlationID),
			attribute.Int("retry_count", attempt),
		))
}

// EndExecutionSpan records the terminal outcome on span before closing it.
func EndExecutionSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("execution.status", status))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// shutdownTimeout bounds how long jobforged waits for buffered spans to
// flush during graceful shutdown.
const shutdownTimeout = 5 * time.Second

// ShutdownTracerProvider flushes and stops provider; callers attach their
// own logger.Error to the returned error.
func ShutdownTracerProvider(provider *sdktrace.TracerProvider) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return provider.Shutdown(ctx)
}
