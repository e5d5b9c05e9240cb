package store

import (
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNotFound is returned when a lookup matches no record, including
	// confirmation tokens that have already been finalized.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when a save races a concurrent writer.
	// It is an ordinary retryable condition, not an unexpected failure.
	ErrVersionConflict = errors.New("optimistic version conflict")
)

const tracerName = "booking-reconciler"

func addDBStatsToSpan(span trace.Span, statement string, rowCount int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("rowCount", rowCount),
		attribute.String("db.statement", statement),
		attribute.Float64("db.execution_time_ms", float64(duration.Milliseconds())),
	)
}
