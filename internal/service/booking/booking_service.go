package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/slotbooking/config"
	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/Domenick1991/slotbooking/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	ListBookings(ctx context.Context, filter domain.BookingFilter) ([]domain.Booking, error)
	RequestPayment(ctx context.Context, id, actorID string) (*PaymentRequest, error)
	CancelBooking(ctx context.Context, id, actorID, reason string) (*Cancellation, error)
	RescheduleBooking(ctx context.Context, id, actorID string, input RescheduleInput) (*domain.Booking, error)
	EndSession(ctx context.Context, id, actorID string) (*domain.Booking, error)
	ExpireStaleHolds(ctx context.Context) ([]domain.Booking, error)
	AdvanceSessions(ctx context.Context) (started, completed []domain.Booking, err error)
}

// Payments is what the booking flow needs from reconciliation.
type Payments interface {
	OpenPayment(ctx context.Context, booking *domain.Booking) (*domain.PaymentRecord, error)
	CreateCharge(ctx context.Context, booking *domain.Booking) (*domain.PaymentRecord, error)
	RefundForCancellation(ctx context.Context, booking *domain.Booking, actorID string) (*domain.RefundRecord, error)
}

type Availability interface {
	CheckWindow(ctx context.Context, responderID string, window domain.Interval, ignoreBookingID string) error
}

type Settings struct {
	HoldTTL         time.Duration
	PaymentTTL      time.Duration
	CancelCutoff    time.Duration
	DefaultCurrency string
}

func NewSettings(cfg config.BookingConfig) Settings {
	return Settings{
		HoldTTL:         cfg.HoldTTL(),
		PaymentTTL:      cfg.PaymentTTL(),
		CancelCutoff:    cfg.CancelCutoff(),
		DefaultCurrency: cfg.DefaultCurrency,
	}
}

type BookingService struct {
	bookings     repository.BookingRepository
	tx           repository.Transactor
	machine      *StateMachine
	payments     Payments
	availability Availability
	settings     Settings
	logger       *zap.Logger
	now          func() time.Time
}

type BookingServiceOption func(*BookingService)

// WithAvailability makes create and reschedule check the responder's open hours.
func WithAvailability(availability Availability) BookingServiceOption {
	return func(s *BookingService) {
		s.availability = availability
	}
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		s.now = now
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	tx repository.Transactor,
	machine *StateMachine,
	payments Payments,
	settings Settings,
	logger *zap.Logger,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings: bookings,
		tx:       tx,
		machine:  machine,
		payments: payments,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

type CreateBookingInput struct {
	RequesterID    string    `json:"-"`
	ResponderID    string    `json:"responder_id"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	Timezone       string    `json:"timezone"`
	PriceMinor     int64     `json:"price_minor"`
	Currency       string    `json:"currency"`
	IdempotencyKey string    `json:"idempotency_key"`
	Notes          string    `json:"notes"`
}

type RescheduleInput struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

type PaymentRequest struct {
	Booking *domain.Booking
	Payment *domain.PaymentRecord
}

// Cancellation is the cancelled booking and the refund it triggered, if any.
type Cancellation struct {
	Booking *domain.Booking
	Refund  *domain.RefundRecord
}

func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error) {
	if err := s.validateCreate(&input); err != nil {
		return nil, err
	}

	if input.IdempotencyKey != "" {
		existing, err := s.bookings.GetByIdempotencyKey(ctx, input.RequesterID, input.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	window := domain.Interval{Start: input.StartAt.UTC(), End: input.EndAt.UTC()}
	if s.availability != nil {
		if err := s.availability.CheckWindow(ctx, input.ResponderID, window, ""); err != nil {
			return nil, err
		}
	}

	now := s.now()
	booking := &domain.Booking{
		ID:              uuid.NewString(),
		RequesterID:     input.RequesterID,
		ResponderID:     input.ResponderID,
		StartAt:         window.Start,
		EndAt:           window.End,
		Timezone:        input.Timezone,
		DurationMinutes: int(window.Duration() / time.Minute),
		PriceMinor:      input.PriceMinor,
		Currency:        input.Currency,
		Status:          domain.BookingStatusHeld,
		IdempotencyKey:  input.IdempotencyKey,
		Notes:           input.Notes,
	}
	if booking.IsFree() {
		booking.Status = domain.BookingStatusScheduled
	} else {
		expires := now.Add(s.settings.HoldTTL)
		booking.HoldExpiresAt = &expires
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.bookings.Create(ctx, booking); err != nil {
			return err
		}
		s.machine.Created(ctx, booking)
		return nil
	})
	if input.IdempotencyKey != "" && errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
		// Lost a race with an identical request.
		return s.bookings.GetByIdempotencyKey(ctx, input.RequesterID, input.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking created",
		zap.String("booking_id", booking.ID),
		zap.String("responder_id", booking.ResponderID),
		zap.String("status", string(booking.Status)),
	)
	return booking, nil
}

func (s *BookingService) validateCreate(input *CreateBookingInput) error {
	input.RequesterID = strings.TrimSpace(input.RequesterID)
	input.ResponderID = strings.TrimSpace(input.ResponderID)
	switch {
	case input.RequesterID == "":
		return fmt.Errorf("%w: requester id is required", domain.ErrInvalidRequest)
	case input.ResponderID == "":
		return fmt.Errorf("%w: responder id is required", domain.ErrInvalidRequest)
	case input.RequesterID == input.ResponderID:
		return fmt.Errorf("%w: cannot book a session with yourself", domain.ErrInvalidRequest)
	case input.PriceMinor < 0:
		return fmt.Errorf("%w: price must not be negative", domain.ErrInvalidRequest)
	}
	if err := s.validateWindow(input.StartAt, input.EndAt); err != nil {
		return err
	}

	if input.Timezone == "" {
		input.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(input.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", domain.ErrInvalidRequest, input.Timezone)
	}
	if input.Currency == "" {
		input.Currency = s.settings.DefaultCurrency
	}
	input.Currency = strings.ToLower(input.Currency)
	return nil
}

func (s *BookingService) validateWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return fmt.Errorf("%w: start must be before end", domain.ErrInvalidRequest)
	}
	if !start.After(s.now()) {
		return fmt.Errorf("%w: start must be in the future", domain.ErrInvalidRequest)
	}
	return nil
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

func (s *BookingService) ListBookings(ctx context.Context, filter domain.BookingFilter) ([]domain.Booking, error) {
	if filter.PartyID == "" {
		return nil, fmt.Errorf("%w: party is required", domain.ErrInvalidRequest)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, fmt.Errorf("%w: from must be before to", domain.ErrInvalidRequest)
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.bookings.List(ctx, filter)
}

// RequestPayment moves a hold to awaiting_payment and returns its checkout. Repeating it
// reuses the payment record and checkout created the first time.
func (s *BookingService) RequestPayment(ctx context.Context, id, actorID string) (*PaymentRequest, error) {
	var booking *domain.Booking
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.machine.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if actorID != b.RequesterID {
			return fmt.Errorf("%w: only the requester can pay for a booking", domain.ErrForbidden)
		}
		if b.IsFree() {
			return fmt.Errorf("%w: booking %s is free", domain.ErrInvalidRequest, b.ID)
		}
		if err := s.machine.MarkAwaitingPayment(ctx, b, s.now().Add(s.settings.PaymentTTL)); err != nil {
			return err
		}
		if _, err := s.payments.OpenPayment(ctx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	payment, err := s.payments.CreateCharge(ctx, booking)
	if err != nil {
		return nil, err
	}
	return &PaymentRequest{Booking: booking, Payment: payment}, nil
}

// CancelBooking cancels on behalf of either party. A scheduled booking can only be cancelled
// before the cutoff; any refund owed is recorded in the same transaction.
func (s *BookingService) CancelBooking(ctx context.Context, id, actorID, reason string) (*Cancellation, error) {
	result := &Cancellation{}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.machine.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !b.IsParty(actorID) {
			return fmt.Errorf("%w: only a party to the booking can cancel it", domain.ErrForbidden)
		}
		result.Booking = b
		if b.Status == domain.BookingStatusCancelled {
			return nil
		}
		if b.Status == domain.BookingStatusScheduled && s.withinCutoff(b) {
			return fmt.Errorf("%w: cancellation window closed %s before start", domain.ErrInvalidStatusTransition, s.settings.CancelCutoff)
		}

		if err := s.machine.Cancel(ctx, b, actorID, strings.TrimSpace(reason)); err != nil {
			return err
		}
		result.Refund, err = s.payments.RefundForCancellation(ctx, b, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BookingService) withinCutoff(b *domain.Booking) bool {
	return !s.now().Before(b.StartAt.Add(-s.settings.CancelCutoff))
}

// RescheduleBooking moves the requester's booking to a window of the same length. The payment
// record is left as it is.
func (s *BookingService) RescheduleBooking(ctx context.Context, id, actorID string, input RescheduleInput) (*domain.Booking, error) {
	if err := s.validateWindow(input.StartAt, input.EndAt); err != nil {
		return nil, err
	}
	window := domain.Interval{Start: input.StartAt.UTC(), End: input.EndAt.UTC()}

	var booking *domain.Booking
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.machine.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if actorID != b.RequesterID {
			return fmt.Errorf("%w: only the requester can reschedule", domain.ErrForbidden)
		}
		switch b.Status {
		case domain.BookingStatusHeld, domain.BookingStatusAwaitingPayment, domain.BookingStatusScheduled:
		default:
			return fmt.Errorf("%w: booking %s is %s", domain.ErrInvalidStatusTransition, b.ID, b.Status)
		}
		if s.withinCutoff(b) {
			return fmt.Errorf("%w: reschedule window closed %s before start", domain.ErrInvalidStatusTransition, s.settings.CancelCutoff)
		}
		if window.Duration() != b.Window().Duration() {
			return fmt.Errorf("%w: new window must last %d minutes", domain.ErrInvalidRequest, b.DurationMinutes)
		}
		if s.availability != nil {
			if err := s.availability.CheckWindow(ctx, b.ResponderID, window, b.ID); err != nil {
				return err
			}
		}
		if err := s.machine.Reschedule(ctx, b, window); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// EndSession records a session-end signal from either party.
func (s *BookingService) EndSession(ctx context.Context, id, actorID string) (*domain.Booking, error) {
	var booking *domain.Booking
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.machine.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !b.IsParty(actorID) {
			return fmt.Errorf("%w: only a party to the booking can end it", domain.ErrForbidden)
		}
		if err := s.machine.MarkSessionEnded(ctx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *BookingService) ExpireStaleHolds(ctx context.Context) ([]domain.Booking, error) {
	expired, err := s.machine.ExpireHolds(ctx)
	if err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		s.logger.Info("expired stale holds", zap.Int("count", len(expired)))
	}
	return expired, nil
}

func (s *BookingService) AdvanceSessions(ctx context.Context) ([]domain.Booking, []domain.Booking, error) {
	return s.machine.AdvanceSessions(ctx)
}

var _ BookingUseCase = (*BookingService)(nil)
