package confirmation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tixflow/go-reconciler/pkg/broker"
	"github.com/tixflow/go-reconciler/pkg/clock"
	"github.com/tixflow/go-reconciler/pkg/logging"
	"github.com/tixflow/go-reconciler/pkg/messages"
	"github.com/tixflow/go-reconciler/pkg/pipeline"
	"github.com/tixflow/go-reconciler/pkg/retry"
	"github.com/tixflow/go-reconciler/pkg/store"
)

// Intake materializes a pending confirmation for every created booking. The
// token it mints is the single-use identifier the confirmation endpoint
// accepts.
type Intake struct {
	confirmations store.ConfirmationRepository
	storeCall     retry.Policy
	clock         clock.Clock
	windowMinutes int
	log           zerolog.Logger
}

func NewIntake(confirmations store.ConfirmationRepository, storeCall retry.Policy, clk clock.Clock, windowMinutes int) *Intake {
	return &Intake{
		confirmations: confirmations,
		storeCall:     storeCall,
		clock:         clk,
		windowMinutes: windowMinutes,
		log:           logging.WithComponent("confirmation-intake"),
	}
}

func (i *Intake) HandleBookingCreated(ctx context.Context, d broker.Delivery) pipeline.Outcome {
	var msg messages.BookingCreated
	if err := messages.Decode(d.Payload, &msg); err != nil {
		return pipeline.Escalate(fmt.Errorf("unparseable booking-created payload: %w", err))
	}
	if msg.BookingID == "" || msg.EventID == "" {
		return pipeline.Escalate(fmt.Errorf("booking-created payload missing identifiers"))
	}

	c := &store.BookingConfirmation{
		ID:             uuid.NewString(),
		BookingID:      msg.BookingID,
		EventID:        msg.EventID,
		Token:          uuid.NewString(),
		MemberUsername: msg.MemberUsername,
		MemberEmail:    msg.MemberEmail,
		WindowStart:    i.clock.Now(),
		WindowMinutes:  i.windowMinutes,
		Status:         store.ConfirmationStatusAwaiting,
	}

	err := i.storeCall.Do(ctx, func(ctx context.Context) error {
		return i.confirmations.Insert(ctx, c)
	})
	if err != nil {
		return pipeline.Escalate(err)
	}

	log := logging.WithTrace(ctx, i.log)
	log.Info().
		Str("booking_id", msg.BookingID).
		Str("event_id", msg.EventID).
		Msg("confirmation created")
	return pipeline.Ack()
}
