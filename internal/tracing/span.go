package tracing

import (
	"context"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// StartRequestSpan starts a client span named after the method and URL path.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, method, rawURL string) (context.Context, trace.Span) {
	name := method
	attrs := []attribute.KeyValue{semconv.HTTPRequestMethodKey.String(method)}
	if u, err := url.Parse(rawURL); err == nil {
		if u.Path != "" {
			name = method + " " + u.Path
		}
		attrs = append(attrs, semconv.URLPath(u.Path))
		if u.Host != "" {
			attrs = append(attrs, semconv.ServerAddress(u.Hostname()))
		}
	}
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan finishes a span. A non-zero status is recorded as the response
// status code; err marks the span failed.
func EndSpan(span trace.Span, status int, err error) {
	if status > 0 {
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
