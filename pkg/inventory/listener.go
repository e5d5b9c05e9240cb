// Package inventory keeps event seat availability consistent with booking
// lifecycle messages.
package inventory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tixflow/go-reconciler/pkg/broker"
	"github.com/tixflow/go-reconciler/pkg/logging"
	"github.com/tixflow/go-reconciler/pkg/messages"
	"github.com/tixflow/go-reconciler/pkg/pipeline"
	"github.com/tixflow/go-reconciler/pkg/retry"
	"github.com/tixflow/go-reconciler/pkg/store"
)

type Listener struct {
	events     store.EventRepository
	broker     broker.MessageBroker
	storeCall  retry.Policy
	brokerCall retry.Policy
	log        zerolog.Logger
}

func NewListener(events store.EventRepository, b broker.MessageBroker, storeCall, brokerCall retry.Policy) *Listener {
	return &Listener{
		events:     events,
		broker:     b,
		storeCall:  storeCall,
		brokerCall: brokerCall,
		log:        logging.WithComponent("inventory"),
	}
}

// HandleBookingConfirmed decrements the event's seat counter, or signals
// unavailability instead of decrementing when seats are exhausted.
func (l *Listener) HandleBookingConfirmed(ctx context.Context, d broker.Delivery) pipeline.Outcome {
	var msg messages.BookingConfirmed
	if err := messages.Decode(d.Payload, &msg); err != nil {
		return pipeline.Escalate(fmt.Errorf("unparseable booking-confirmed payload: %w", err))
	}
	if msg.EventID == "" {
		return pipeline.Escalate(fmt.Errorf("booking-confirmed payload missing eventId"))
	}

	log := logging.WithTrace(ctx, l.log)

	var soldOut bool
	err := l.storeCall.Do(ctx, func(ctx context.Context) error {
		// Re-read inside the attempt so a version conflict retries against
		// fresh state.
		event, err := l.events.FindByID(ctx, msg.EventID)
		if err != nil {
			return err
		}
		if event.AvailableBookings == 0 {
			soldOut = true
			return nil
		}
		soldOut = false
		event.AvailableBookings--
		return l.events.Save(ctx, event)
	})
	if err != nil {
		return pipeline.Escalate(err)
	}

	if soldOut {
		log.Info().Str("event_id", msg.EventID).Str("booking_id", msg.Booking.ID).Msg("event sold out, signalling unavailable")
		payload, err := messages.Encode(messages.BookingEventUnavailable{
			Booking: msg.Booking,
			EventID: msg.EventID,
		})
		if err != nil {
			return pipeline.Escalate(err)
		}
		err = l.brokerCall.Do(ctx, func(ctx context.Context) error {
			return l.broker.Publish(ctx, messages.TopicBookingEventUnavailable, msg.EventID, payload, nil)
		})
		if err != nil {
			return pipeline.Escalate(err)
		}
		return pipeline.Ack()
	}

	log.Debug().Str("event_id", msg.EventID).Msg("seat reserved")
	return pipeline.Ack()
}

// HandleBookingCancelled frees one seat on the referenced event.
func (l *Listener) HandleBookingCancelled(ctx context.Context, d broker.Delivery) pipeline.Outcome {
	var msg messages.BookingCancelled
	if err := messages.Decode(d.Payload, &msg); err != nil {
		return pipeline.Escalate(fmt.Errorf("unparseable booking-cancelled payload: %w", err))
	}
	if msg.EventID == "" {
		return pipeline.Escalate(fmt.Errorf("booking-cancelled payload missing eventId"))
	}

	err := l.storeCall.Do(ctx, func(ctx context.Context) error {
		event, err := l.events.FindByID(ctx, msg.EventID)
		if err != nil {
			return err
		}
		event.AvailableBookings++
		return l.events.Save(ctx, event)
	})
	if err != nil {
		return pipeline.Escalate(err)
	}

	log := logging.WithTrace(ctx, l.log)
	log.Debug().Str("event_id", msg.EventID).Msg("seat released")
	return pipeline.Ack()
}
