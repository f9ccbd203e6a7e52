package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const defaultSpanBufferLimit = 512

// SpanBuffer holds spans ended before the exporter can be created, so they
// can be replayed once the transport trust is known.
type SpanBuffer struct {
	mu       sync.Mutex
	spans    []sdktrace.ReadOnlySpan
	limit    int
	dropped  int
	provider *sdktrace.TracerProvider
}

// StartSpanBuffer installs a buffering tracer provider as the global provider.
func StartSpanBuffer(serviceName string) *SpanBuffer {
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	b := &SpanBuffer{limit: defaultSpanBufferLimit}
	b.provider = sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(b),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName))),
	)
	otel.SetTracerProvider(b.provider)
	return b
}

// OnStart implements sdktrace.SpanProcessor.
func (b *SpanBuffer) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd keeps the span until the buffer is full.
func (b *SpanBuffer) OnEnd(span sdktrace.ReadOnlySpan) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.spans) >= b.limit {
		b.dropped++
		return
	}
	b.spans = append(b.spans, span)
}

// Shutdown implements sdktrace.SpanProcessor.
func (b *SpanBuffer) Shutdown(context.Context) error { return nil }

// ForceFlush implements sdktrace.SpanProcessor.
func (b *SpanBuffer) ForceFlush(context.Context) error { return nil }

// Drain returns the buffered spans and empties the buffer.
func (b *SpanBuffer) Drain() []sdktrace.ReadOnlySpan {
	b.mu.Lock()
	defer b.mu.Unlock()
	spans := b.spans
	b.spans = nil
	return spans
}

// Dropped returns how many spans did not fit.
func (b *SpanBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close shuts down the buffering provider. Spans started afterwards are dropped.
func (b *SpanBuffer) Close(ctx context.Context) error {
	return b.provider.Shutdown(ctx)
}
