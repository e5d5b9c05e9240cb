package broker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tixflow/go-reconciler/pkg/config"
	"github.com/tixflow/go-reconciler/pkg/logging"
	"github.com/tixflow/go-reconciler/pkg/messages"
	"github.com/tixflow/go-reconciler/pkg/telemetry"
)

const headerMessageKey = "x-message-key"

type RabbitMQBrokerCreator func(ctx context.Context, settings *config.BrokerSettings, dltSuffix string) (MessageBroker, error)

var NewRabbitMqBroker RabbitMQBrokerCreator = func(ctx context.Context, settings *config.BrokerSettings, dltSuffix string) (MessageBroker, error) {
	if settings.PoolSize <= 0 {
		return nil, errors.New("poolSize must be greater than 0")
	}

	conn, err := newConnection(settings)
	if err != nil {
		return nil, err
	}

	broker := &rabbitMqBroker{
		connection:      conn,
		channelPool:     make(chan *pooledChannel, settings.PoolSize),
		settings:        settings,
		dltSuffix:       dltSuffix,
		reconnectTicker: time.NewTicker(5 * time.Second), // Retry every 5 seconds
		stopReconnect:   make(chan struct{}),
		log:             logging.WithComponent("rabbitmq"),
	}

	// Initialize the connection and channel pool
	if err := broker.connectAndInitialize(); err != nil {
		return nil, err
	}

	// Start connection recovery in a separate goroutine
	go broker.recoverConnection()

	return broker, nil
}

type rabbitMqBroker struct {
	connection      *amqp.Connection
	channelPool     chan *pooledChannel
	mu              sync.Mutex
	settings        *config.BrokerSettings
	dltSuffix       string
	reconnectTicker *time.Ticker
	stopReconnect   chan struct{}
	log             zerolog.Logger
}

func (r *rabbitMqBroker) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	tracer := otel.Tracer("booking-reconciler")
	ctx, span := tracer.Start(ctx, "Publish",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("rabbitmq"),
			semconv.MessagingDestinationKey.String(r.settings.Exchange),
			semconv.MessagingRabbitmqRoutingKeyKey.String(topic),
		),
	)
	defer span.End()

	// Inject the trace context into the message headers
	traceHeaders := make(map[string]string)
	telemetry.InjectHeaders(ctx, traceHeaders)

	merged := make(map[string]string, len(headers)+len(traceHeaders)+1)
	maps.Copy(merged, headers)
	maps.Copy(merged, traceHeaders)
	if key != "" {
		merged[headerMessageKey] = key
	}

	// Convert headers to amqp.Table
	amqpHeaders := make(amqp.Table)
	for k, v := range merged {
		amqpHeaders[k] = v
	}

	// Get a channel from the pool
	pooledChan, err := r.getChannel()
	if err != nil {
		span.RecordError(err)
		return &PublishError{Topic: topic, Err: err}
	}
	defer r.releaseChannel(pooledChan)

	// ExchangeDeclare is idempotent and has no effect if the exchange is already in place
	err = pooledChan.channel.ExchangeDeclare(
		r.settings.Exchange, // name of the exchange
		"topic",             // type of the exchange
		true,                // durable
		false,               // auto-deleted
		false,               // internal
		false,               // no-wait
		nil,                 // arguments
	)
	if err != nil {
		return &PublishError{Topic: topic, Err: fmt.Errorf("failed to declare exchange: %w", err)}
	}

	err = pooledChan.channel.Publish(
		r.settings.Exchange, topic, false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
			Headers:     amqpHeaders,
		},
	)
	if err != nil {
		span.RecordError(err)
		return &PublishError{Topic: topic, Err: err}
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(payload)),
	)

	return nil
}

// Subscribe binds a durable queue named after the topic and consumes it with
// manual acks, one message in flight per channel so delivery order is
// preserved end-to-end.
func (r *rabbitMqBroker) Subscribe(ctx context.Context, topic string) (<-chan Delivery, error) {
	channel, err := r.connection.Channel()
	if err != nil {
		return nil, err
	}

	if err := channel.ExchangeDeclare(r.settings.Exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		return nil, err
	}
	queue, err := channel.QueueDeclare(topic, true, false, false, false, nil)
	if err != nil {
		channel.Close()
		return nil, err
	}
	if err := channel.QueueBind(queue.Name, topic, r.settings.Exchange, false, nil); err != nil {
		channel.Close()
		return nil, err
	}
	if err := channel.Qos(1, 0, false); err != nil {
		channel.Close()
		return nil, err
	}

	inbound, err := channel.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		channel.Close()
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer channel.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-inbound:
				if !ok {
					return
				}
				out <- r.toDelivery(topic, msg)
			}
		}
	}()

	return out, nil
}

func (r *rabbitMqBroker) toDelivery(topic string, msg amqp.Delivery) Delivery {
	headers := make(map[string]string, len(msg.Headers))
	for k, v := range msg.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return NewDelivery(
		topic,
		headers[headerMessageKey],
		msg.Body,
		headers,
		func() error { return msg.Ack(false) },
		func() error { return msg.Nack(false, true) },
	)
}

func (r *rabbitMqBroker) DeadLetter(ctx context.Context, d Delivery, cause error) error {
	headers := make(map[string]string, len(d.Headers)+1)
	maps.Copy(headers, d.Headers)
	if cause != nil {
		headers[HeaderDeadLetterCause] = cause.Error()
	}
	return r.Publish(ctx, messages.DeadLetterTopic(d.Topic, r.dltSuffix), d.Key, d.Payload, headers)
}

func (r *rabbitMqBroker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Stop the connection recovery goroutine
	close(r.stopReconnect)
	r.reconnectTicker.Stop()

	// Close all channels in the pool
	close(r.channelPool)
	for pooledChan := range r.channelPool {
		pooledChan.channel.Close()
	}

	// Close the connection
	if r.connection != nil {
		return r.connection.Close()
	}
	return nil
}
