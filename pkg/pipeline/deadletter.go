package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tixflow/go-reconciler/pkg/broker"
	"github.com/tixflow/go-reconciler/pkg/logging"
	"github.com/tixflow/go-reconciler/pkg/metrics"
)

// Escalator republishes failed deliveries to their dead-letter destination.
// Escalation is attempted exactly once: if the dead-letter publish itself
// fails, the failure is logged and the original offset is still acknowledged,
// so one poisoned message can never hold a partition in a redelivery loop.
type Escalator struct {
	broker broker.MessageBroker
	log    zerolog.Logger
}

func NewEscalator(b broker.MessageBroker) *Escalator {
	return &Escalator{
		broker: b,
		log:    logging.WithComponent("dead-letter"),
	}
}

func (e *Escalator) Escalate(ctx context.Context, d broker.Delivery, cause error) {
	log := logging.WithTrace(ctx, e.log)
	log.Error().
		Err(cause).
		Str("topic", d.Topic).
		Str("key", d.Key).
		Int("payload_bytes", len(d.Payload)).
		Msg("escalating message to dead letter")

	if err := e.broker.DeadLetter(ctx, d, cause); err != nil {
		log.Error().Err(err).Str("topic", d.Topic).Msg("dead-letter publish failed; dropping after single attempt")
		return
	}
	metrics.DeadLetteredMessages.WithLabelValues(d.Topic).Inc()
}
