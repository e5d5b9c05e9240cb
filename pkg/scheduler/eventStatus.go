package scheduler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tixflow/go-reconciler/pkg/broker"
	"github.com/tixflow/go-reconciler/pkg/clock"
	"github.com/tixflow/go-reconciler/pkg/logging"
	"github.com/tixflow/go-reconciler/pkg/messages"
	"github.com/tixflow/go-reconciler/pkg/metrics"
	"github.com/tixflow/go-reconciler/pkg/retry"
	"github.com/tixflow/go-reconciler/pkg/store"
)

// eventTransitioner applies a single validated status transition under
// bounded optimistic retries. A version conflict re-reads fresh state; an
// illegal transition surfaces immediately and leaves the record unchanged.
type eventTransitioner struct {
	events     store.EventRepository
	optimistic retry.Policy
}

func (t *eventTransitioner) transition(ctx context.Context, eventID string, next store.EventStatus) error {
	return t.optimistic.Do(ctx, func(ctx context.Context) error {
		event, err := t.events.FindByID(ctx, eventID)
		if err != nil {
			return err
		}
		if err := event.Transition(next); err != nil {
			return err
		}
		return t.events.Save(ctx, event)
	})
}

// EventCompletionSweep promotes events whose scheduled time has fully elapsed
// to COMPLETED and announces each completion downstream.
type EventCompletionSweep struct {
	eventTransitioner
	broker     broker.MessageBroker
	brokerCall retry.Policy
	clock      clock.Clock
	log        zerolog.Logger
}

func NewEventCompletionSweep(events store.EventRepository, b broker.MessageBroker, optimistic, brokerCall retry.Policy, clk clock.Clock) *EventCompletionSweep {
	return &EventCompletionSweep{
		eventTransitioner: eventTransitioner{events: events, optimistic: optimistic},
		broker:            b,
		brokerCall:        brokerCall,
		clock:             clk,
		log:               logging.WithComponent("event-completion-sweep"),
	}
}

func (s *EventCompletionSweep) Name() string { return "checkForCompletedEvents" }

func (s *EventCompletionSweep) Run(ctx context.Context) error {
	events, err := s.events.FindByStatus(ctx, store.EventStatusAwaiting, store.EventStatusInProgress)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for i := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		event := &events[i]
		if !event.EndTime().Before(now) {
			continue
		}

		if err := s.transition(ctx, event.ID, store.EventStatusCompleted); err != nil {
			// An AWAITING event whose end has already passed cannot be
			// completed, and the start sweep skips it too once the end is
			// behind us. It stays AWAITING until resolved by hand.
			var illegal *store.IllegalTransitionError
			if errors.As(err, &illegal) {
				s.log.Warn().Str("event_id", event.ID).Str("from", string(illegal.From)).Msg("event past its end but not completable, needs manual resolution")
			} else {
				s.log.Error().Err(err).Str("event_id", event.ID).Msg("failed to complete event, skipping this cycle")
			}
			continue
		}
		metrics.SweepTransitions.WithLabelValues(s.Name()).Inc()
		s.log.Info().Str("event_id", event.ID).Msg("event completed")

		s.publishCompleted(ctx, event.ID)
	}
	return nil
}

func (s *EventCompletionSweep) publishCompleted(ctx context.Context, eventID string) {
	payload, err := messages.Encode(messages.EventCompleted{EventID: eventID})
	if err != nil {
		s.log.Error().Err(err).Str("event_id", eventID).Msg("failed to encode completion event")
		return
	}
	err = s.brokerCall.Do(ctx, func(ctx context.Context) error {
		return s.broker.Publish(ctx, messages.TopicEventCompleted, eventID, payload, nil)
	})
	if err != nil {
		s.log.Error().Err(err).Str("event_id", eventID).Msg("failed to publish completion event")
	}
}

// EventStartSweep promotes AWAITING events whose start time has arrived to
// IN_PROGRESS. No downstream event is emitted.
type EventStartSweep struct {
	eventTransitioner
	clock clock.Clock
	log   zerolog.Logger
}

func NewEventStartSweep(events store.EventRepository, optimistic retry.Policy, clk clock.Clock) *EventStartSweep {
	return &EventStartSweep{
		eventTransitioner: eventTransitioner{events: events, optimistic: optimistic},
		clock:             clk,
		log:               logging.WithComponent("event-start-sweep"),
	}
}

func (s *EventStartSweep) Name() string { return "checkForAwaitingEventsThatHaveStarted" }

func (s *EventStartSweep) Run(ctx context.Context) error {
	events, err := s.events.FindByStatus(ctx, store.EventStatusAwaiting)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for i := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		event := &events[i]
		if now.Before(event.StartTime) || !now.Before(event.EndTime()) {
			continue
		}

		if err := s.transition(ctx, event.ID, store.EventStatusInProgress); err != nil {
			s.log.Error().Err(err).Str("event_id", event.ID).Msg("failed to start event, skipping this cycle")
			continue
		}
		metrics.SweepTransitions.WithLabelValues(s.Name()).Inc()
		s.log.Info().Str("event_id", event.ID).Msg("event in progress")
	}
	return nil
}
