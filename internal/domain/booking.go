package domain

import "time"

type BookingStatus string

const (
	BookingStatusHeld            BookingStatus = "held"
	BookingStatusAwaitingPayment BookingStatus = "awaiting_payment"
	BookingStatusScheduled       BookingStatus = "scheduled"
	BookingStatusInProgress      BookingStatus = "in_progress"
	BookingStatusCompleted       BookingStatus = "completed"
	BookingStatusCancelled       BookingStatus = "cancelled"
	BookingStatusFailed          BookingStatus = "failed"
	BookingStatusExpired         BookingStatus = "expired"
)

// LiveStatuses are the statuses that claim a window on the responder's calendar.
var LiveStatuses = []BookingStatus{
	BookingStatusHeld,
	BookingStatusAwaitingPayment,
	BookingStatusScheduled,
	BookingStatusInProgress,
}

var transitions = map[BookingStatus][]BookingStatus{
	BookingStatusHeld:            {BookingStatusAwaitingPayment, BookingStatusCancelled, BookingStatusExpired},
	BookingStatusAwaitingPayment: {BookingStatusScheduled, BookingStatusFailed, BookingStatusCancelled, BookingStatusExpired},
	BookingStatusScheduled:       {BookingStatusInProgress, BookingStatusCompleted, BookingStatusCancelled},
	BookingStatusInProgress:      {BookingStatusCompleted},
}

func (s BookingStatus) IsLive() bool {
	for _, l := range LiveStatuses {
		if s == l {
			return true
		}
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusFailed, BookingStatusExpired:
		return true
	}
	return false
}

func (s BookingStatus) Valid() bool {
	return s.IsLive() || s.IsTerminal()
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Booking struct {
	ID              string
	RequesterID     string
	ResponderID     string
	StartAt         time.Time
	EndAt           time.Time
	Timezone        string
	DurationMinutes int
	PriceMinor      int64
	Currency        string
	Status          BookingStatus
	HoldExpiresAt   *time.Time
	IdempotencyKey  string
	Notes           string
	ExternalEventID *string
	CancelReason    string
	CancelledBy     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (b *Booking) Window() Interval {
	return Interval{Start: b.StartAt, End: b.EndAt}
}

func (b *Booking) IsFree() bool {
	return b.PriceMinor == 0
}

// IsParty reports whether the actor is the requester or the responder of the booking.
func (b *Booking) IsParty(actorID string) bool {
	return actorID != "" && (actorID == b.RequesterID || actorID == b.ResponderID)
}

// HoldExpired reports whether a pre-confirmation hold has lapsed at the given instant.
func (b *Booking) HoldExpired(now time.Time) bool {
	return b.HoldExpiresAt != nil && !now.Before(*b.HoldExpiresAt)
}

type BookingFilter struct {
	PartyID string
	From    time.Time
	To      time.Time
	Limit   int
}
