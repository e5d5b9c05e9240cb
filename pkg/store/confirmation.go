package store

import "time"

// ConfirmationStatus is the lifecycle state of an email-confirmation workflow.
// AWAITING_CONFIRMATION is the only non-terminal state: once a token leaves it,
// re-presentation of the same token is treated as not-found.
type ConfirmationStatus string

const (
	ConfirmationStatusAwaiting  ConfirmationStatus = "AWAITING_CONFIRMATION"
	ConfirmationStatusConfirmed ConfirmationStatus = "CONFIRMED"
	ConfirmationStatusExpired   ConfirmationStatus = "EXPIRED"
)

// BookingConfirmation is a pending email-confirmation workflow for a booking.
type BookingConfirmation struct {
	ID             string             `bson:"_id"`
	BookingID      string             `bson:"booking_id"`
	EventID        string             `bson:"event_id"`
	Token          string             `bson:"token"`
	MemberUsername string             `bson:"member_username"`
	MemberEmail    string             `bson:"member_email"`
	WindowStart    time.Time          `bson:"window_start"`
	WindowMinutes  int                `bson:"window_minutes"`
	Status         ConfirmationStatus `bson:"status"`
	Version        int64              `bson:"version"`
}

// Deadline is the instant the confirmation window closes. The boundary is
// exclusive for confirmation: a token presented exactly at the deadline
// expires.
func (c *BookingConfirmation) Deadline() time.Time {
	return c.WindowStart.Add(time.Duration(c.WindowMinutes) * time.Minute)
}
