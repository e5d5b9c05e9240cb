package broker

import (
	"context"
	"maps"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tixflow/go-reconciler/pkg/config"
	"github.com/tixflow/go-reconciler/pkg/logging"
	"github.com/tixflow/go-reconciler/pkg/messages"
	"github.com/tixflow/go-reconciler/pkg/telemetry"
)

// PubSubBrokerCreator defines a function type for creating Pub/Sub clients.
type PubSubBrokerCreator func(ctx context.Context, settings *config.BrokerSettings, dltSuffix string, opts ...option.ClientOption) (MessageBroker, error)

// NewPubSubClient is the default implementation of PubSubBrokerCreator.
var NewPubSubClient PubSubBrokerCreator = func(ctx context.Context, settings *config.BrokerSettings, dltSuffix string, opts ...option.ClientOption) (MessageBroker, error) {
	client, err := pubsub.NewClient(ctx, settings.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return &pubSubBroker{client: client, dltSuffix: dltSuffix}, nil
}

type pubSubBroker struct {
	client    *pubsub.Client
	dltSuffix string
}

func (p *pubSubBroker) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	tracer := otel.Tracer("booking-reconciler")
	ctx, span := tracer.Start(ctx, "Publish",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(topic),
		),
	)
	defer span.End()

	// Inject the trace context into the message attributes
	attributes := make(map[string]string, len(headers))
	maps.Copy(attributes, headers)
	telemetry.InjectHeaders(ctx, attributes)

	message := &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	}
	message.OrderingKey = key

	res := p.client.Topic(topic).Publish(ctx, message)
	_, err := res.Get(ctx) // wait for server ack
	if err != nil {
		span.RecordError(err)
		return &PublishError{Topic: topic, Err: err}
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(payload)),
	)

	return nil
}

// Subscribe consumes the subscription named after the topic. Receive drives
// its own callback concurrency; funnelling into an unbuffered channel keeps
// at most one message per ordering key in flight for the pipeline.
func (p *pubSubBroker) Subscribe(ctx context.Context, topic string) (<-chan Delivery, error) {
	sub := p.client.Subscription(topic)

	out := make(chan Delivery)
	go func() {
		defer close(out)
		err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
			d := NewDelivery(
				topic,
				m.OrderingKey,
				m.Data,
				m.Attributes,
				func() error { m.Ack(); return nil },
				func() error { m.Nack(); return nil },
			)
			select {
			case out <- d:
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && ctx.Err() == nil {
			// Receive only returns on hard failure; the consumer sees the
			// closed channel and shuts down.
			log := logging.WithComponent("pubsub")
			log.Error().Err(err).Str("topic", topic).Msg("receive terminated")
		}
	}()

	return out, nil
}

func (p *pubSubBroker) DeadLetter(ctx context.Context, d Delivery, cause error) error {
	headers := make(map[string]string, len(d.Headers)+1)
	maps.Copy(headers, d.Headers)
	if cause != nil {
		headers[HeaderDeadLetterCause] = cause.Error()
	}
	return p.Publish(ctx, messages.DeadLetterTopic(d.Topic, p.dltSuffix), d.Key, d.Payload, headers)
}

func (p *pubSubBroker) Close() error {
	return p.client.Close()
}
