package logging

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// WithTrace enriches the supplied logger with the trace and span identifiers of
// the span active on ctx, if any. Because the enriched logger is a child scoped
// to the one call, the caller's logger is untouched once the message has been
// handled — identifiers never leak between unrelated log lines.
func WithTrace(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
}
