// Package pipeline provides the shared receive, trace-decorate, dispatch,
// ack-or-dead-letter skeleton every topic listener runs on.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tixflow/go-reconciler/pkg/broker"
	"github.com/tixflow/go-reconciler/pkg/logging"
	"github.com/tixflow/go-reconciler/pkg/metrics"
	"github.com/tixflow/go-reconciler/pkg/telemetry"
)

// Outcome is a handler's verdict on one delivery.
type Outcome struct {
	deadLetter bool
	cause      error
}

// Ack marks the delivery handled.
func Ack() Outcome { return Outcome{} }

// Escalate routes the delivery to the dead-letter path with the given cause.
func Escalate(cause error) Outcome { return Outcome{deadLetter: true, cause: cause} }

// DeadLettered reports whether the outcome routes to the dead-letter path.
func (o Outcome) DeadLettered() bool { return o.deadLetter }

// Cause is the escalation cause, nil for an ack.
func (o Outcome) Cause() error { return o.cause }

// Handler processes one delivery. Implementations never settle the delivery
// themselves; the consumer acks or escalates based on the outcome.
type Handler interface {
	Handle(ctx context.Context, d broker.Delivery) Outcome
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, d broker.Delivery) Outcome

func (f HandlerFunc) Handle(ctx context.Context, d broker.Delivery) Outcome { return f(ctx, d) }

// Consumer runs one topic subscription over a bounded worker set. Deliveries
// sharing a key always land on the same worker, so per-key processing stays
// sequential while distinct keys proceed concurrently.
type Consumer struct {
	broker    broker.MessageBroker
	escalator *Escalator
	workers   int
	tracer    trace.Tracer
	log       zerolog.Logger
}

func NewConsumer(b broker.MessageBroker, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		broker:    b,
		escalator: NewEscalator(b),
		workers:   workers,
		tracer:    otel.Tracer("booking-reconciler"),
		log:       logging.WithComponent("pipeline"),
	}
}

// Run consumes the topic until ctx is cancelled or the subscription ends.
func (c *Consumer) Run(ctx context.Context, topic string, h Handler) error {
	deliveries, err := c.broker.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	slots := make([]chan broker.Delivery, c.workers)
	var wg sync.WaitGroup
	for i := range slots {
		slots[i] = make(chan broker.Delivery)
		wg.Add(1)
		go func(slot chan broker.Delivery) {
			defer wg.Done()
			for d := range slot {
				c.process(ctx, h, d)
			}
		}(slots[i])
	}

	for d := range deliveries {
		slots[c.slot(d)] <- d
	}
	for _, slot := range slots {
		close(slot)
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) slot(d broker.Delivery) int {
	key := d.Key
	if key == "" {
		key = d.Topic
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(c.workers))
}

func (c *Consumer) process(ctx context.Context, h Handler, d broker.Delivery) {
	dctx := telemetry.ExtractHeaders(ctx, d.Headers)
	dctx, span := c.tracer.Start(dctx, "ProcessDelivery", trace.WithAttributes(
		attribute.String("messaging.destination", d.Topic),
		attribute.String("messaging.message_key", d.Key),
	))
	defer span.End()

	log := logging.WithTrace(dctx, c.log)
	start := time.Now()

	outcome := c.safeHandle(dctx, h, d, log)

	// A failure caused by our own shutdown is not a poison message. Leave
	// the delivery unsettled so the broker redelivers it after restart.
	if outcome.deadLetter && ctx.Err() != nil && errors.Is(outcome.cause, context.Canceled) {
		if err := d.Nack(); err != nil {
			log.Error().Err(err).Str("topic", d.Topic).Msg("failed to nack delivery on shutdown")
		}
		metrics.MessageProcessing.WithLabelValues(d.Topic, "requeue").Observe(time.Since(start).Seconds())
		return
	}

	result := "ack"
	if outcome.deadLetter {
		result = "dead_letter"
		span.RecordError(outcome.cause)
		span.SetStatus(codes.Error, outcome.cause.Error())
		c.escalator.Escalate(dctx, d, outcome.cause)
	}

	// Offset commit happens only after successful processing or after the
	// escalation attempt, never before.
	if err := d.Ack(); err != nil {
		log.Error().Err(err).Str("topic", d.Topic).Msg("failed to ack delivery")
	}

	metrics.MessageProcessing.WithLabelValues(d.Topic, result).Observe(time.Since(start).Seconds())
}

// safeHandle shields the consumer loop from handler panics; anything
// unexpected is treated as exhausted and dead-lettered instead of crashing
// the worker.
func (c *Consumer) safeHandle(ctx context.Context, h Handler, d broker.Delivery, log zerolog.Logger) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("topic", d.Topic).Str("key", d.Key).Msg("handler panicked")
			outcome = Escalate(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h.Handle(ctx, d)
}
