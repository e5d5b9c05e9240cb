// Package scheduler runs the time-driven reconciliation sweeps. Each sweep is
// mutually exclusive across the fleet through a named distributed lock; sweep
// kinds are independent of each other and may run concurrently.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tixflow/go-reconciler/pkg/lock"
	"github.com/tixflow/go-reconciler/pkg/logging"
)

// Sweep is one periodic batch job scanning stored entities for state that
// should transition based on elapsed time. Run must respect ctx: the runner
// bounds every cycle with a wall-clock budget strictly less than the lock's
// minimum hold, so a stalled sweep cannot outlive its own lock.
type Sweep interface {
	Name() string
	Run(ctx context.Context) error
}

type Runner struct {
	locks        lock.Provider
	delay        time.Duration
	initialDelay time.Duration
	minHold      time.Duration
	budget       time.Duration
	tracer       trace.Tracer
	log          zerolog.Logger
}

func NewRunner(locks lock.Provider, delay, initialDelay, minHold, budget time.Duration) *Runner {
	return &Runner{
		locks:        locks,
		delay:        delay,
		initialDelay: initialDelay,
		minHold:      minHold,
		budget:       budget,
		tracer:       otel.Tracer("booking-reconciler"),
		log:          logging.WithComponent("scheduler"),
	}
}

// Run executes the sweep on a fixed-delay cadence until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, s Sweep) {
	select {
	case <-time.After(r.initialDelay):
	case <-ctx.Done():
		return
	}

	for {
		r.runOnce(ctx, s)
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, s Sweep) {
	log := r.log.With().Str("sweep", s.Name()).Logger()

	held, err := r.locks.TryAcquire(ctx, s.Name(), r.minHold)
	if errors.Is(err, lock.ErrNotAcquired) {
		log.Debug().Msg("sweep lock held elsewhere, skipping cycle")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to acquire sweep lock")
		return
	}

	sctx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	sctx, span := r.tracer.Start(sctx, "Sweep/"+s.Name())
	defer span.End()

	// A failed cycle ends early without crashing the scheduler; the next
	// tick retries.
	if err := s.Run(sctx); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("sweep cycle ended early")
	}

	if err := held.Release(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to release sweep lock, relying on expiry")
	}
}
