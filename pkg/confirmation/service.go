// Package confirmation owns the email-confirmation lifecycle: creating
// pending confirmations, finalizing them when a member clicks the link, and
// answering the confirmation endpoint.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tixflow/go-reconciler/pkg/broker"
	"github.com/tixflow/go-reconciler/pkg/clock"
	"github.com/tixflow/go-reconciler/pkg/logging"
	"github.com/tixflow/go-reconciler/pkg/messages"
	"github.com/tixflow/go-reconciler/pkg/metrics"
	"github.com/tixflow/go-reconciler/pkg/retry"
	"github.com/tixflow/go-reconciler/pkg/store"
)

var (
	// ErrBadToken rejects tokens that are not the confirmation-identifier
	// format; no store access happens for these.
	ErrBadToken = errors.New("malformed confirmation token")

	// ErrWindowExpired reports a token presented at or after its deadline.
	ErrWindowExpired = errors.New("confirmation window has expired")
)

// Result is the user-visible response for a successful confirmation.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Service struct {
	confirmations store.ConfirmationRepository
	broker        broker.MessageBroker
	storeCall     retry.Policy
	brokerCall    retry.Policy
	clock         clock.Clock
	log           zerolog.Logger
}

func NewService(confirmations store.ConfirmationRepository, b broker.MessageBroker, storeCall, brokerCall retry.Policy, clk clock.Clock) *Service {
	return &Service{
		confirmations: confirmations,
		broker:        b,
		storeCall:     storeCall,
		brokerCall:    brokerCall,
		clock:         clk,
		log:           logging.WithComponent("confirmation"),
	}
}

// Confirm finalizes the confirmation identified by token as CONFIRMED or
// EXPIRED. The deadline boundary is exclusive: a minute-truncated "now" equal
// to the minute-truncated deadline expires the token. Once finalized, a token
// is single-use — later lookups behave as not-found.
func (s *Service) Confirm(ctx context.Context, token string) (*Result, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, ErrBadToken
	}

	log := logging.WithTrace(ctx, s.log)

	var c *store.BookingConfirmation
	err := s.storeCall.Do(ctx, func(ctx context.Context) error {
		var lookupErr error
		c, lookupErr = s.confirmations.FindAwaitingByToken(ctx, token)
		return lookupErr
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().Truncate(time.Minute)
	deadline := c.Deadline().Truncate(time.Minute)

	if now.Before(deadline) {
		if err := s.finalize(ctx, token, store.ConfirmationStatusConfirmed, &c); err != nil {
			return nil, err
		}
		metrics.ConfirmationsConfirmed.Inc()

		s.publishBestEffort(ctx, messages.TopicBookingConfirmed, c.EventID, messages.BookingConfirmed{
			Booking: messages.Booking{ID: c.BookingID, Email: c.MemberEmail, Username: c.MemberUsername},
			EventID: c.EventID,
		}, log)

		return &Result{
			Status:  "confirmed",
			Message: fmt.Sprintf("Booking confirmed for %s. See you there!", c.MemberUsername),
		}, nil
	}

	if err := s.finalize(ctx, token, store.ConfirmationStatusExpired, &c); err != nil {
		return nil, err
	}
	metrics.ConfirmationsExpired.Inc()

	s.publishBestEffort(ctx, messages.TopicBookingExpired, c.EventID, messages.BookingExpired{
		Booking: messages.Booking{ID: c.BookingID, Email: c.MemberEmail, Username: c.MemberUsername},
		EventID: c.EventID,
	}, log)

	return nil, ErrWindowExpired
}

// finalize persists the terminal status under optimistic lock. Every attempt
// re-reads through the awaiting-scoped lookup, so losing a race against the
// expiry sweep surfaces as not-found rather than a stale overwrite.
func (s *Service) finalize(ctx context.Context, token string, status store.ConfirmationStatus, out **store.BookingConfirmation) error {
	return s.storeCall.Do(ctx, func(ctx context.Context) error {
		c, err := s.confirmations.FindAwaitingByToken(ctx, token)
		if err != nil {
			return err
		}
		c.Status = status
		if err := s.confirmations.Save(ctx, c); err != nil {
			return err
		}
		*out = c
		return nil
	})
}

// publishBestEffort emits a downstream event without affecting the already
// persisted confirmation; failures are logged, never rolled back.
func (s *Service) publishBestEffort(ctx context.Context, topic, key string, msg any, log zerolog.Logger) {
	payload, err := messages.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed to encode downstream event")
		return
	}
	err = s.brokerCall.Do(ctx, func(ctx context.Context) error {
		return s.broker.Publish(ctx, topic, key, payload, nil)
	})
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed to publish downstream event")
	}
}
