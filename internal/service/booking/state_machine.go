package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/Domenick1991/slotbooking/internal/events"
	"github.com/Domenick1991/slotbooking/internal/repository"
	"go.uber.org/zap"
)

// StateMachine owns every booking status change. Each transition is a conditional update in
// the caller's transaction; the change event is published once that transaction commits.
type StateMachine struct {
	bookings  repository.BookingRepository
	tx        repository.Transactor
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewStateMachine(
	bookings repository.BookingRepository,
	tx repository.Transactor,
	publisher events.Publisher,
	logger *zap.Logger,
	now func() time.Time,
) *StateMachine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if now == nil {
		now = time.Now
	}
	return &StateMachine{
		bookings:  bookings,
		tx:        tx,
		publisher: publisher,
		logger:    logger,
		now:       now,
	}
}

func (m *StateMachine) GetForUpdate(ctx context.Context, id string) (*domain.Booking, error) {
	return m.bookings.GetForUpdate(ctx, id)
}

// move applies to and persists b, conditioned on the status it was read with.
func (m *StateMachine) move(ctx context.Context, b *domain.Booking, to domain.BookingStatus, eventType, reason string) error {
	from := b.Status
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: booking %s cannot go from %s to %s", domain.ErrInvalidStatusTransition, b.ID, from, to)
	}
	b.Status = to
	if to != domain.BookingStatusAwaitingPayment {
		b.HoldExpiresAt = nil
	}
	if err := m.bookings.Save(ctx, b, from); err != nil {
		b.Status = from
		return err
	}
	m.publishAfterCommit(ctx, eventType, b, from, reason)
	return nil
}

func (m *StateMachine) publishAfterCommit(ctx context.Context, eventType string, b *domain.Booking, previous domain.BookingStatus, reason string) {
	event := events.NewBookingEvent(eventType, b, previous, m.now())
	event.Reason = reason
	repository.AfterCommit(ctx, func(ctx context.Context) {
		m.publish(ctx, event)
	})
}

func (m *StateMachine) publish(ctx context.Context, event events.BookingEvent) {
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("failed to publish booking event",
			zap.String("type", event.Type),
			zap.String("booking_id", event.BookingID),
			zap.Error(err),
		)
	}
}

// Created announces a freshly inserted booking.
func (m *StateMachine) Created(ctx context.Context, b *domain.Booking) {
	eventType := events.TypeBookingHeld
	if b.Status == domain.BookingStatusScheduled {
		eventType = events.TypeBookingConfirmed
	}
	m.publishAfterCommit(ctx, eventType, b, "", "")
}

// MarkAwaitingPayment moves a live hold to awaiting_payment and keeps it alive until at least
// holdUntil. The payment deadline is fixed by the first request; a booking already awaiting
// payment is left as it is.
func (m *StateMachine) MarkAwaitingPayment(ctx context.Context, b *domain.Booking, holdUntil time.Time) error {
	if b.HoldExpired(m.now()) {
		return fmt.Errorf("%w: hold on booking %s has expired", domain.ErrInvalidStatusTransition, b.ID)
	}

	switch b.Status {
	case domain.BookingStatusHeld:
		previous := b.HoldExpiresAt
		if previous == nil || previous.Before(holdUntil) {
			b.HoldExpiresAt = &holdUntil
		}
		if err := m.move(ctx, b, domain.BookingStatusAwaitingPayment, events.TypeBookingPaymentRequested, ""); err != nil {
			b.HoldExpiresAt = previous
			return err
		}
		return nil
	case domain.BookingStatusAwaitingPayment:
		return nil
	default:
		return fmt.Errorf("%w: booking %s is %s", domain.ErrInvalidStatusTransition, b.ID, b.Status)
	}
}

// Confirm schedules a paid booking. Confirming a scheduled booking changes nothing.
func (m *StateMachine) Confirm(ctx context.Context, id string) (*domain.Booking, error) {
	var b *domain.Booking
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = m.bookings.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.Status == domain.BookingStatusScheduled {
			return nil
		}
		return m.move(ctx, b, domain.BookingStatusScheduled, events.TypeBookingConfirmed, "")
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Fail releases the window of a booking whose payment failed.
func (m *StateMachine) Fail(ctx context.Context, id, reason string) (*domain.Booking, error) {
	var b *domain.Booking
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = m.bookings.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.Status == domain.BookingStatusFailed {
			return nil
		}
		return m.move(ctx, b, domain.BookingStatusFailed, events.TypeBookingFailed, reason)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (m *StateMachine) Cancel(ctx context.Context, b *domain.Booking, actorID, reason string) error {
	b.CancelledBy = actorID
	b.CancelReason = reason
	return m.move(ctx, b, domain.BookingStatusCancelled, events.TypeBookingCancelled, reason)
}

// Reschedule moves the booking to window without changing its status. The exclusion
// constraint rejects a window that overlaps another live booking.
func (m *StateMachine) Reschedule(ctx context.Context, b *domain.Booking, window domain.Interval) error {
	oldStart, oldEnd := b.StartAt, b.EndAt
	b.StartAt = window.Start.UTC()
	b.EndAt = window.End.UTC()
	if err := m.bookings.Save(ctx, b, b.Status); err != nil {
		b.StartAt, b.EndAt = oldStart, oldEnd
		return err
	}
	m.publishAfterCommit(ctx, events.TypeBookingRescheduled, b, b.Status, "")
	return nil
}

// MarkSessionEnded completes a session on an explicit signal. It has to have started.
func (m *StateMachine) MarkSessionEnded(ctx context.Context, b *domain.Booking) error {
	if b.Status == domain.BookingStatusCompleted {
		return nil
	}
	if m.now().Before(b.StartAt) {
		return fmt.Errorf("%w: session %s has not started", domain.ErrInvalidStatusTransition, b.ID)
	}
	return m.move(ctx, b, domain.BookingStatusCompleted, events.TypeBookingCompleted, "")
}

// ExpireHolds demotes every lapsed hold in one conditional update.
func (m *StateMachine) ExpireHolds(ctx context.Context) ([]domain.Booking, error) {
	expired, err := m.bookings.ExpireHoldsBefore(ctx, m.now())
	if err != nil {
		return nil, fmt.Errorf("expire holds: %w", err)
	}
	for i := range expired {
		m.publish(ctx, events.NewBookingEvent(events.TypeBookingExpired, &expired[i], "", m.now()))
	}
	return expired, nil
}

// AdvanceSessions starts sessions whose window has begun and completes those that have ended.
func (m *StateMachine) AdvanceSessions(ctx context.Context) (started, completed []domain.Booking, err error) {
	now := m.now()
	started, err = m.bookings.StartDue(ctx, now)
	if err != nil {
		return nil, nil, fmt.Errorf("start sessions: %w", err)
	}
	for i := range started {
		m.publish(ctx, events.NewBookingEvent(events.TypeBookingStarted, &started[i], domain.BookingStatusScheduled, now))
	}

	completed, err = m.bookings.CompleteDue(ctx, now)
	if err != nil {
		return started, nil, fmt.Errorf("complete sessions: %w", err)
	}
	for i := range completed {
		m.publish(ctx, events.NewBookingEvent(events.TypeBookingCompleted, &completed[i], "", now))
	}
	return started, completed, nil
}
