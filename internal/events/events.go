package events

import (
	"context"
	"time"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/google/uuid"
)

const (
	TypeBookingHeld             = "booking.held"
	TypeBookingPaymentRequested = "booking.payment_requested"
	TypeBookingConfirmed        = "booking.confirmed"
	TypeBookingFailed           = "booking.failed"
	TypeBookingExpired          = "booking.expired"
	TypeBookingCancelled        = "booking.cancelled"
	TypeBookingRescheduled      = "booking.rescheduled"
	TypeBookingStarted          = "booking.started"
	TypeBookingCompleted        = "booking.completed"
)

// BookingEvent is published once per committed booking transition.
type BookingEvent struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	BookingID      string    `json:"booking_id"`
	RequesterID    string    `json:"requester_id"`
	ResponderID    string    `json:"responder_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	Timezone       string    `json:"timezone"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewBookingEvent(eventType string, b *domain.Booking, previous domain.BookingStatus, at time.Time) BookingEvent {
	return BookingEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		BookingID:      b.ID,
		RequesterID:    b.RequesterID,
		ResponderID:    b.ResponderID,
		Status:         string(b.Status),
		PreviousStatus: string(previous),
		StartAt:        b.StartAt,
		EndAt:          b.EndAt,
		Timezone:       b.Timezone,
		Reason:         b.CancelReason,
		OccurredAt:     at.UTC(),
	}
}

// Key partitions events by booking so one booking's events stay ordered on a partition.
func (e BookingEvent) Key() string {
	return e.BookingID
}

type Publisher interface {
	Publish(ctx context.Context, event BookingEvent) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, BookingEvent) error { return nil }

var _ Publisher = Nop{}
