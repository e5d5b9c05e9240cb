package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Legacy header names emitted by older producers alongside the W3C set. When
// both are present on an inbound message the legacy pair wins, matching what
// those producers expect downstream.
const (
	legacyTraceHeader = "X-B3-TraceId"
	legacySpanHeader  = "X-B3-SpanId"
	traceparentHeader = "traceparent"
)

// InjectHeaders writes the active span's trace context into outgoing message
// headers so downstream consumers can continue the trace.
func InjectHeaders(ctx context.Context, headers map[string]string) {
	propagator := otel.GetTextMapPropagator()
	propagator.Inject(ctx, propagation.MapCarrier(headers))
}

// ExtractHeaders restores the trace context carried on inbound message headers
// into a child of ctx. The caller's own context is untouched, so no trace
// identifiers can leak past the one message being handled.
func ExtractHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	carrier := propagation.MapCarrier(headers)
	if tid, ok := headers[legacyTraceHeader]; ok && tid != "" {
		if sid, ok := headers[legacySpanHeader]; ok && sid != "" {
			// Rewrite the legacy pair as a traceparent so the configured
			// propagator picks it up, shadowing any generic header present.
			// Older producers send 64-bit trace ids; pad them to the 128-bit
			// form a traceparent requires.
			if len(tid) == 16 {
				tid = "0000000000000000" + tid
			}
			carrier = propagation.MapCarrier{
				traceparentHeader: "00-" + tid + "-" + sid + "-01",
			}
		}
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
