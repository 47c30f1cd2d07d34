package repository

import (
	"errors"
	"fmt"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"

	constraintBookingIdempotency = "bookings_idempotency_key"
	constraintBookingNoOverlap   = "bookings_no_overlap"
)

// ErrDuplicateIdempotencyKey is returned when a requester reuses an idempotency key.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

// mapError translates driver errors into domain errors. what names the entity for NotFound.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgExclusionViolation:
			return fmt.Errorf("%w: window overlaps a live booking", domain.ErrSlotUnavailable)
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraintBookingIdempotency:
			return ErrDuplicateIdempotencyKey
		}
	}
	return err
}
