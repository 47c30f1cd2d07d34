package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Booking, error)
	GetByIdempotencyKey(ctx context.Context, requesterID, key string) (*domain.Booking, error)
	List(ctx context.Context, filter domain.BookingFilter) ([]domain.Booking, error)
	ListLive(ctx context.Context, responderID string, window domain.Interval) ([]domain.Booking, error)
	Save(ctx context.Context, booking *domain.Booking, expected domain.BookingStatus) error
	ExpireHoldsBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error)
	StartDue(ctx context.Context, now time.Time) ([]domain.Booking, error)
	CompleteDue(ctx context.Context, now time.Time) ([]domain.Booking, error)
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

const bookingColumns = `id, requester_id, responder_id, start_at, end_at, timezone, duration_minutes, price_minor, currency,
	status, hold_expires_at, idempotency_key, notes, external_event_id, cancel_reason, cancelled_by, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b   domain.Booking
		key *string
	)
	if err := row.Scan(&b.ID, &b.RequesterID, &b.ResponderID, &b.StartAt, &b.EndAt, &b.Timezone, &b.DurationMinutes,
		&b.PriceMinor, &b.Currency, &b.Status, &b.HoldExpiresAt, &key, &b.Notes, &b.ExternalEventID,
		&b.CancelReason, &b.CancelledBy, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if key != nil {
		b.IdempotencyKey = *key
	}
	b.StartAt, b.EndAt = b.StartAt.UTC(), b.EndAt.UTC()
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]domain.Booking, error) {
	defer rows.Close()

	bookings := make([]domain.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// Create inserts the booking. The bookings_no_overlap exclusion constraint rejects a window
// that overlaps a live booking of the same responder, which surfaces as ErrSlotUnavailable.
// A booking without an idempotency key stores NULL, which the unique constraint ignores.
func (r *PGBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	err := conn(ctx, r.db).QueryRow(ctx, `INSERT INTO bookings (id, requester_id, responder_id, start_at, end_at, timezone,
		duration_minutes, price_minor, currency, status, hold_expires_at, idempotency_key, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		booking.ID, booking.RequesterID, booking.ResponderID, booking.StartAt, booking.EndAt, booking.Timezone,
		booking.DurationMinutes, booking.PriceMinor, booking.Currency, booking.Status, booking.HoldExpiresAt,
		idempotencyKey(booking.IdempotencyKey), booking.Notes).
		Scan(&booking.CreatedAt, &booking.UpdatedAt)
	return mapError(err, "booking")
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := scanBooking(conn(ctx, r.db).QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id))
	return b, mapError(err, "booking "+id)
}

// GetForUpdate locks the row until the surrounding transaction ends.
func (r *PGBookingRepository) GetForUpdate(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := scanBooking(conn(ctx, r.db).QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1 FOR UPDATE`, id))
	return b, mapError(err, "booking "+id)
}

func (r *PGBookingRepository) GetByIdempotencyKey(ctx context.Context, requesterID, key string) (*domain.Booking, error) {
	b, err := scanBooking(conn(ctx, r.db).QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE requester_id=$1 AND idempotency_key=$2`, requesterID, key))
	return b, mapError(err, "booking")
}

func (r *PGBookingRepository) List(ctx context.Context, filter domain.BookingFilter) ([]domain.Booking, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	// A zero bound leaves that side of the range open.
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE (requester_id=$1 OR responder_id=$1)
			AND ($2::timestamptz IS NULL OR end_at > $2)
			AND ($3::timestamptz IS NULL OR start_at < $3)
		ORDER BY start_at LIMIT $4`, filter.PartyID, timeBound(filter.From), timeBound(filter.To), limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// ListLive returns bookings of the responder that claim any part of window.
func (r *PGBookingRepository) ListLive(ctx context.Context, responderID string, window domain.Interval) ([]domain.Booking, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE responder_id=$1 AND status = ANY($2) AND start_at < $4 AND end_at > $3
		ORDER BY start_at`, responderID, statusStrings(domain.LiveStatuses...), window.Start, window.End)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// Save writes the mutable columns of booking, but only if the stored status still equals
// expected. A concurrent transition makes it fail with ErrInvalidStatusTransition.
func (r *PGBookingRepository) Save(ctx context.Context, booking *domain.Booking, expected domain.BookingStatus) error {
	err := conn(ctx, r.db).QueryRow(ctx, `UPDATE bookings SET status=$3, start_at=$4, end_at=$5, hold_expires_at=$6,
		external_event_id=$7, cancel_reason=$8, cancelled_by=$9, updated_at=now()
		WHERE id=$1 AND status=$2
		RETURNING updated_at`,
		booking.ID, expected, booking.Status, booking.StartAt, booking.EndAt, booking.HoldExpiresAt,
		booking.ExternalEventID, booking.CancelReason, booking.CancelledBy).
		Scan(&booking.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: booking %s is no longer %s", domain.ErrInvalidStatusTransition, booking.ID, expected)
	}
	return mapError(err, "booking "+booking.ID)
}

// ExpireHoldsBefore demotes unpaid holds whose expiry has passed. The status predicate keeps
// the sweep from clobbering a confirmation that committed concurrently.
func (r *PGBookingRepository) ExpireHoldsBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `UPDATE bookings SET status=$1, updated_at=now()
		WHERE status = ANY($2) AND hold_expires_at <= $3
		RETURNING `+bookingColumns,
		domain.BookingStatusExpired,
		statusStrings(domain.BookingStatusHeld, domain.BookingStatusAwaitingPayment),
		deadline)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PGBookingRepository) StartDue(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `UPDATE bookings SET status=$1, updated_at=now()
		WHERE status=$2 AND start_at <= $3 AND end_at > $3
		RETURNING `+bookingColumns,
		domain.BookingStatusInProgress, domain.BookingStatusScheduled, now)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PGBookingRepository) CompleteDue(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `UPDATE bookings SET status=$1, updated_at=now()
		WHERE status = ANY($2) AND end_at <= $3
		RETURNING `+bookingColumns,
		domain.BookingStatusCompleted,
		statusStrings(domain.BookingStatusScheduled, domain.BookingStatusInProgress),
		now)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func timeBound(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func idempotencyKey(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}

func statusStrings(statuses ...domain.BookingStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

var _ BookingRepository = (*PGBookingRepository)(nil)
