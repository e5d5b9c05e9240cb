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

// ConfirmationExpirySweep expires pending confirmations whose deadline has
// passed. It shares the optimistic-version guard with the synchronous
// confirmation handler: when that handler finalizes a token first, this
// sweep's save loses the version race and the record is simply skipped for
// the cycle.
type ConfirmationExpirySweep struct {
	confirmations store.ConfirmationRepository
	broker        broker.MessageBroker
	brokerCall    retry.Policy
	clock         clock.Clock
	log           zerolog.Logger
}

func NewConfirmationExpirySweep(confirmations store.ConfirmationRepository, b broker.MessageBroker, brokerCall retry.Policy, clk clock.Clock) *ConfirmationExpirySweep {
	return &ConfirmationExpirySweep{
		confirmations: confirmations,
		broker:        b,
		brokerCall:    brokerCall,
		clock:         clk,
		log:           logging.WithComponent("confirmation-expiry-sweep"),
	}
}

func (s *ConfirmationExpirySweep) Name() string { return "expireConfirmations" }

func (s *ConfirmationExpirySweep) Run(ctx context.Context) error {
	expired, err := s.confirmations.FindExpired(ctx, s.clock.Now())
	if err != nil {
		return err
	}

	for i := range expired {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c := &expired[i]
		c.Status = store.ConfirmationStatusExpired

		if err := s.confirmations.Save(ctx, c); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				// Finalized concurrently by the confirmation endpoint.
				s.log.Debug().Str("confirmation_id", c.ID).Msg("lost version race, skipping")
			} else {
				s.log.Error().Err(err).Str("confirmation_id", c.ID).Msg("failed to expire confirmation, skipping this cycle")
			}
			continue
		}
		metrics.ConfirmationsExpired.Inc()
		metrics.SweepTransitions.WithLabelValues(s.Name()).Inc()
		s.log.Info().Str("confirmation_id", c.ID).Str("booking_id", c.BookingID).Msg("confirmation expired")

		s.publishExpired(ctx, c)
	}
	return nil
}

func (s *ConfirmationExpirySweep) publishExpired(ctx context.Context, c *store.BookingConfirmation) {
	payload, err := messages.Encode(messages.BookingExpired{
		Booking: messages.Booking{ID: c.BookingID, Email: c.MemberEmail, Username: c.MemberUsername},
		EventID: c.EventID,
	})
	if err != nil {
		s.log.Error().Err(err).Str("booking_id", c.BookingID).Msg("failed to encode expiry event")
		return
	}
	err = s.brokerCall.Do(ctx, func(ctx context.Context) error {
		return s.broker.Publish(ctx, messages.TopicBookingExpired, c.EventID, payload, nil)
	})
	if err != nil {
		s.log.Error().Err(err).Str("booking_id", c.BookingID).Msg("failed to publish expiry event")
	}
}
