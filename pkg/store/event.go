package store

import (
	"fmt"
	"time"
)

// EventStatus is the lifecycle state of a bookable event.
type EventStatus string

const (
	EventStatusAwaiting   EventStatus = "AWAITING"
	EventStatusInProgress EventStatus = "IN_PROGRESS"
	EventStatusCompleted  EventStatus = "COMPLETED"
	// EventStatusCancelled is reachable only through explicit cancellation by
	// the event-management service, never through the time-driven sweeps.
	EventStatusCancelled EventStatus = "CANCELLED"
)

// allowedTransitions is the validated transition table. Self-transitions that
// appear here are idempotent no-ops; everything absent is forbidden.
var allowedTransitions = map[EventStatus]map[EventStatus]bool{
	EventStatusAwaiting: {
		EventStatusAwaiting:   true,
		EventStatusInProgress: true,
	},
	EventStatusInProgress: {
		EventStatusInProgress: true,
		EventStatusCompleted:  true,
	},
	EventStatusCompleted: {
		EventStatusCompleted: true,
	},
}

// IllegalTransitionError reports an attempt to apply a (from, to) pair absent
// from the transition table. The stored status is left unchanged.
type IllegalTransitionError struct {
	From EventStatus
	To   EventStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal event status transition %s -> %s", e.From, e.To)
}

// CanTransitionTo reports whether moving to next is legal from s.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	return allowedTransitions[s][next]
}

// Event is a bookable occasion. Seat accounting and time-driven status
// promotion are the only mutations performed by this service; creation and
// cancellation belong to the event-management service.
type Event struct {
	ID                string      `bson:"_id"`
	Facilitator       string      `bson:"facilitator"`
	Title             string      `bson:"title"`
	StartTime         time.Time   `bson:"start_time"`
	DurationMinutes   int         `bson:"duration_minutes"`
	AvailableBookings int         `bson:"available_bookings"`
	Status            EventStatus `bson:"status"`
	Version           int64       `bson:"version"`
}

// EndTime is the instant the event's scheduled duration elapses.
func (e *Event) EndTime() time.Time {
	return e.StartTime.Add(time.Duration(e.DurationMinutes) * time.Minute)
}

// Transition applies a status change after validating it against the
// transition table.
func (e *Event) Transition(next EventStatus) error {
	if !e.Status.CanTransitionTo(next) {
		return &IllegalTransitionError{From: e.Status, To: next}
	}
	e.Status = next
	return nil
}
