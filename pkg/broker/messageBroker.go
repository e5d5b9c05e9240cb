package broker

import (
	"context"
	"fmt"
)

// MessageBroker defines the operations the reconciliation core needs from the
// message transport. The broker itself never retries; retry policy is layered
// on top by callers.
type MessageBroker interface {
	// Publish sends the payload to the topic with the given ordering key and headers.
	Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
	// Subscribe returns a stream of deliveries for the topic. Each delivery
	// must be settled with Ack or routed to DeadLetter.
	Subscribe(ctx context.Context, topic string) (<-chan Delivery, error)
	// DeadLetter republishes a failed delivery to the topic's dead-letter
	// destination, preserving headers and recording the cause.
	DeadLetter(ctx context.Context, d Delivery, cause error) error
	// Close cleans up any resources (connections).
	Close() error
}

// PublishError is the typed failure surfaced to callers when a publish fails.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Header recorded on dead-lettered messages with the escalation cause.
const HeaderDeadLetterCause = "x-exception-message"

// Delivery is one received message plus its settlement handles.
type Delivery struct {
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string

	ack  func() error
	nack func() error
}

// NewDelivery builds a delivery around transport-specific settlement
// functions. Exposed so pipeline handlers can be exercised without a broker.
func NewDelivery(topic, key string, payload []byte, headers map[string]string, ack, nack func() error) Delivery {
	return Delivery{Topic: topic, Key: key, Payload: payload, Headers: headers, ack: ack, nack: nack}
}

// Ack marks the message handled; the offset is committed and the message is
// never redelivered.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack returns the message unhandled so the broker redelivers it.
func (d Delivery) Nack() error {
	if d.nack == nil {
		return nil
	}
	return d.nack()
}
