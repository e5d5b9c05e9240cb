// Package messages defines the wire contracts exchanged between the booking
// services and the stable topic names used to route them.
package messages

import "encoding/json"

// Topic names double as routing keys. Dead-letter destinations are derived by
// suffixing, never configured per topic.
const (
	TopicBookingCreated          = "booking-created"
	TopicBookingConfirmed        = "booking-confirmed"
	TopicBookingExpired          = "booking-expired"
	TopicBookingEventUnavailable = "booking-event-unavailable"
	TopicBookingCancelled        = "booking-cancelled"
	TopicEventChanged            = "event-changed"
	TopicBookingsUpdated         = "bookings-updated"
	TopicEventCancelled          = "event-cancelled"
	TopicBookingsCancelled       = "bookings-cancelled"
	TopicEventCompleted          = "event-completed"
)

// DeadLetterTopic derives the dead-letter destination for a topic.
func DeadLetterTopic(topic, suffix string) string {
	return topic + suffix
}

// Booking identifies a member's reservation as carried inside lifecycle messages.
type Booking struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type BookingCreated struct {
	BookingID      string `json:"bookingId"`
	EventID        string `json:"eventId"`
	MemberUsername string `json:"memberUsername"`
	MemberEmail    string `json:"memberEmail"`
}

type BookingConfirmed struct {
	Booking Booking `json:"booking"`
	EventID string  `json:"eventId"`
}

type BookingCancelled struct {
	EventID    string   `json:"eventId"`
	BookingIDs []string `json:"bookingIds"`
}

type BookingsCancelled struct {
	Bookings []Booking `json:"bookings"`
	EventID  string    `json:"eventId"`
	Message  string    `json:"message,omitempty"`
}

type BookingsUpdated struct {
	BookingIDs     []string `json:"bookingIds"`
	EventID        string   `json:"eventId"`
	MemberUsername string   `json:"memberUsername"`
	MemberEmail    string   `json:"memberEmail"`
	Message        string   `json:"message"`
}

type BookingEventUnavailable struct {
	Booking Booking `json:"booking"`
	EventID string  `json:"eventId"`
}

type EventChanged struct {
	EventID string `json:"eventId"`
}

type EventCancelled struct {
	EventID string `json:"eventId"`
}

type EventCompleted struct {
	EventID string `json:"eventId"`
}

type BookingExpired struct {
	Booking Booking `json:"booking"`
	EventID string  `json:"eventId"`
}

// Encode marshals a message payload for publishing.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode unmarshals an inbound payload into the expected contract. Unknown
// fields from newer producers are tolerated.
func Decode(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}
