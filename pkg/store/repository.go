package store

import (
	"context"
	"time"
)

// EventRepository defines the store operations the reconciliation core needs
// on events. Save is a version-checked write: it succeeds only when the
// entity's version still matches the stored row, and bumps the version on the
// way through.
type EventRepository interface {
	// FindByID retrieves a single event, ErrNotFound when absent.
	FindByID(ctx context.Context, id string) (*Event, error)
	// FindByStatus retrieves all events in any of the given statuses.
	FindByStatus(ctx context.Context, statuses ...EventStatus) ([]Event, error)
	// Save persists the entity under optimistic lock; ErrVersionConflict when
	// the stored version no longer matches.
	Save(ctx context.Context, event *Event) error
}

// ConfirmationRepository defines the store operations on booking
// confirmations. Token lookups are scoped to AWAITING_CONFIRMATION so that
// finalized tokens surface as ErrNotFound.
type ConfirmationRepository interface {
	// Insert stores a freshly created confirmation.
	Insert(ctx context.Context, c *BookingConfirmation) error
	// FindAwaitingByToken retrieves a pending confirmation by its token.
	FindAwaitingByToken(ctx context.Context, token string) (*BookingConfirmation, error)
	// FindExpired retrieves pending confirmations whose deadline has passed.
	FindExpired(ctx context.Context, now time.Time) ([]BookingConfirmation, error)
	// Save persists the entity under optimistic lock.
	Save(ctx context.Context, c *BookingConfirmation) error
}
