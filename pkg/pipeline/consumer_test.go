package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tixflow/go-reconciler/pkg/broker"
)

type fakeBroker struct {
	mu          sync.Mutex
	deliveries  chan broker.Delivery
	deadLetters []broker.Delivery
	deadCauses  []error
	deadErr     error
}

func newFakeBroker(buffer int) *fakeBroker {
	return &fakeBroker{deliveries: make(chan broker.Delivery, buffer)}
}

func (f *fakeBroker) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	return nil
}

func (f *fakeBroker) Subscribe(ctx context.Context, topic string) (<-chan broker.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeBroker) DeadLetter(ctx context.Context, d broker.Delivery, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deadErr != nil {
		return f.deadErr
	}
	f.deadLetters = append(f.deadLetters, d)
	f.deadCauses = append(f.deadCauses, cause)
	return nil
}

func (f *fakeBroker) Close() error { return nil }

func (f *fakeBroker) deadLettered() []broker.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broker.Delivery(nil), f.deadLetters...)
}

func TestConsumerAcksAfterSuccessfulHandling(t *testing.T) {
	fb := newFakeBroker(1)
	acks := 0
	fb.deliveries <- broker.NewDelivery("booking-confirmed", "evt-1", []byte(`{}`), nil,
		func() error { acks++; return nil }, nil)
	close(fb.deliveries)

	c := NewConsumer(fb, 2)
	err := c.Run(context.Background(), "booking-confirmed", HandlerFunc(func(ctx context.Context, d broker.Delivery) Outcome {
		return Ack()
	}))

	assert.NoError(t, err)
	assert.Equal(t, 1, acks)
	assert.Empty(t, fb.deadLettered())
}

func TestConsumerDeadLettersThenAcks(t *testing.T) {
	fb := newFakeBroker(1)
	var sequence []string
	var mu sync.Mutex
	fb.deliveries <- broker.NewDelivery("booking-cancelled", "evt-1", []byte(`{}`), nil,
		func() error {
			mu.Lock()
			defer mu.Unlock()
			sequence = append(sequence, "ack")
			return nil
		}, nil)
	close(fb.deliveries)

	cause := errors.New("store unavailable")
	c := NewConsumer(fb, 1)
	// Record escalation order through the broker so we can assert the ack
	// happens only after the dead-letter publish.
	instrumented := &orderRecordingBroker{fakeBroker: fb, mu: &mu, sequence: &sequence}
	c.broker = instrumented
	c.escalator = NewEscalator(instrumented)

	err := c.Run(context.Background(), "booking-cancelled", HandlerFunc(func(ctx context.Context, d broker.Delivery) Outcome {
		return Escalate(cause)
	}))

	assert.NoError(t, err)
	assert.Equal(t, []string{"dead-letter", "ack"}, sequence)
	assert.Len(t, fb.deadLettered(), 1)
	assert.Equal(t, cause, fb.deadCauses[0])
}

type orderRecordingBroker struct {
	*fakeBroker
	mu       *sync.Mutex
	sequence *[]string
}

func (o *orderRecordingBroker) DeadLetter(ctx context.Context, d broker.Delivery, cause error) error {
	err := o.fakeBroker.DeadLetter(ctx, d, cause)
	o.mu.Lock()
	defer o.mu.Unlock()
	*o.sequence = append(*o.sequence, "dead-letter")
	return err
}

func TestConsumerAcksEvenWhenDeadLetterFails(t *testing.T) {
	fb := newFakeBroker(1)
	fb.deadErr = errors.New("dead-letter topic unreachable")
	acks := 0
	fb.deliveries <- broker.NewDelivery("booking-cancelled", "evt-1", []byte(`{}`), nil,
		func() error { acks++; return nil }, nil)
	close(fb.deliveries)

	c := NewConsumer(fb, 1)
	err := c.Run(context.Background(), "booking-cancelled", HandlerFunc(func(ctx context.Context, d broker.Delivery) Outcome {
		return Escalate(errors.New("boom"))
	}))

	assert.NoError(t, err)
	assert.Equal(t, 1, acks)
}

func TestConsumerRequeuesWhenShutdownInterruptsHandling(t *testing.T) {
	fb := newFakeBroker(1)
	acks, nacks := 0, 0
	fb.deliveries <- broker.NewDelivery("booking-confirmed", "evt-1", []byte(`{}`), nil,
		func() error { acks++; return nil },
		func() error { nacks++; return nil })
	close(fb.deliveries)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsumer(fb, 1)
	err := c.Run(ctx, "booking-confirmed", HandlerFunc(func(hctx context.Context, d broker.Delivery) Outcome {
		cancel()
		return Escalate(hctx.Err())
	}))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, acks)
	assert.Equal(t, 1, nacks)
	assert.Empty(t, fb.deadLettered())
}

func TestConsumerRecoversHandlerPanic(t *testing.T) {
	fb := newFakeBroker(1)
	acks := 0
	fb.deliveries <- broker.NewDelivery("booking-confirmed", "evt-1", []byte(`not json`), nil,
		func() error { acks++; return nil }, nil)
	close(fb.deliveries)

	c := NewConsumer(fb, 1)
	err := c.Run(context.Background(), "booking-confirmed", HandlerFunc(func(ctx context.Context, d broker.Delivery) Outcome {
		panic("unexpected payload shape")
	}))

	assert.NoError(t, err)
	assert.Equal(t, 1, acks)
	assert.Len(t, fb.deadLettered(), 1)
	assert.Contains(t, fb.deadCauses[0].Error(), "handler panic")
}

func TestConsumerPreservesPerKeyOrdering(t *testing.T) {
	const n = 20
	fb := newFakeBroker(n)
	for i := 0; i < n; i++ {
		fb.deliveries <- broker.NewDelivery("booking-confirmed", "evt-1", []byte{byte(i)}, nil, nil, nil)
	}
	close(fb.deliveries)

	var mu sync.Mutex
	var order []byte
	c := NewConsumer(fb, 8)
	err := c.Run(context.Background(), "booking-confirmed", HandlerFunc(func(ctx context.Context, d broker.Delivery) Outcome {
		mu.Lock()
		order = append(order, d.Payload[0])
		mu.Unlock()
		return Ack()
	}))

	assert.NoError(t, err)
	assert.Len(t, order, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, byte(i), order[i])
	}
}

func TestOutcomeAccessors(t *testing.T) {
	assert.False(t, Ack().DeadLettered())
	assert.Nil(t, Ack().Cause())

	cause := errors.New("exhausted")
	out := Escalate(cause)
	assert.True(t, out.DeadLettered())
	assert.Equal(t, cause, out.Cause())
}
