package repository

import (
	"context"
	"errors"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository interface {
	// CreatePayment inserts p unless the booking already has a payment record, in which case
	// the existing record is returned and created is false.
	CreatePayment(ctx context.Context, p *domain.PaymentRecord) (existing *domain.PaymentRecord, created bool, err error)
	GetPaymentByBooking(ctx context.Context, bookingID string) (*domain.PaymentRecord, error)
	LockPaymentByBooking(ctx context.Context, bookingID string) (*domain.PaymentRecord, error)
	LockPaymentByRef(ctx context.Context, ref string) (*domain.PaymentRecord, error)
	UpdatePayment(ctx context.Context, p *domain.PaymentRecord) error

	CreateRefund(ctx context.Context, r *domain.RefundRecord) error
	GetRefund(ctx context.Context, id string) (*domain.RefundRecord, error)
	LockRefund(ctx context.Context, id string) (*domain.RefundRecord, error)
	LockRefundByRef(ctx context.Context, ref string) (*domain.RefundRecord, error)
	ListRefunds(ctx context.Context, paymentID string) ([]domain.RefundRecord, error)
	UpdateRefund(ctx context.Context, r *domain.RefundRecord) error

	// MarkEventProcessed records a gateway event id; first is false if it was seen before.
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (first bool, err error)
}

type PGPaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) PaymentRepository {
	return &PGPaymentRepository{db: db}
}

const paymentColumns = `id, booking_id, external_ref, intent_ref, checkout_url, amount, captured_amount, refunded_amount,
	currency, status, failure_reason, paid_at, failed_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	if err := row.Scan(&p.ID, &p.BookingID, &p.ExternalRef, &p.IntentRef, &p.CheckoutURL, &p.Amount, &p.CapturedAmount,
		&p.RefundedAmount, &p.Currency, &p.Status, &p.FailureReason, &p.PaidAt, &p.FailedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PGPaymentRepository) CreatePayment(ctx context.Context, p *domain.PaymentRecord) (*domain.PaymentRecord, bool, error) {
	q := conn(ctx, r.db)
	inserted, err := scanPayment(q.QueryRow(ctx, `INSERT INTO payments (id, booking_id, external_ref, intent_ref, checkout_url,
		amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (booking_id) DO NOTHING
		RETURNING `+paymentColumns,
		p.ID, p.BookingID, p.ExternalRef, p.IntentRef, p.CheckoutURL, p.Amount, p.Currency, p.Status))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	existing, err := r.GetPaymentByBooking(ctx, p.BookingID)
	return existing, false, err
}

func (r *PGPaymentRepository) GetPaymentByBooking(ctx context.Context, bookingID string) (*domain.PaymentRecord, error) {
	p, err := scanPayment(conn(ctx, r.db).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id=$1`, bookingID))
	return p, mapError(err, "payment for booking "+bookingID)
}

func (r *PGPaymentRepository) LockPaymentByBooking(ctx context.Context, bookingID string) (*domain.PaymentRecord, error) {
	p, err := scanPayment(conn(ctx, r.db).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id=$1 FOR UPDATE`, bookingID))
	return p, mapError(err, "payment for booking "+bookingID)
}

// LockPaymentByRef finds a payment by its checkout reference or its payment intent reference.
func (r *PGPaymentRepository) LockPaymentByRef(ctx context.Context, ref string) (*domain.PaymentRecord, error) {
	p, err := scanPayment(conn(ctx, r.db).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE external_ref=$1 OR intent_ref=$1 LIMIT 1 FOR UPDATE`, ref))
	return p, mapError(err, "payment "+ref)
}

func (r *PGPaymentRepository) UpdatePayment(ctx context.Context, p *domain.PaymentRecord) error {
	err := conn(ctx, r.db).QueryRow(ctx, `UPDATE payments SET external_ref=$2, intent_ref=$3, checkout_url=$4,
		captured_amount=$5, refunded_amount=$6, status=$7, failure_reason=$8, paid_at=$9, failed_at=$10, updated_at=now()
		WHERE id=$1
		RETURNING updated_at`,
		p.ID, p.ExternalRef, p.IntentRef, p.CheckoutURL, p.CapturedAmount, p.RefundedAmount, p.Status, p.FailureReason,
		p.PaidAt, p.FailedAt).Scan(&p.UpdatedAt)
	return mapError(err, "payment "+p.ID)
}

const refundColumns = `id, payment_id, booking_id, external_ref, amount, status, reason, requested_by, created_at, updated_at`

func scanRefund(row pgx.Row) (*domain.RefundRecord, error) {
	var rf domain.RefundRecord
	if err := row.Scan(&rf.ID, &rf.PaymentID, &rf.BookingID, &rf.ExternalRef, &rf.Amount, &rf.Status, &rf.Reason,
		&rf.RequestedBy, &rf.CreatedAt, &rf.UpdatedAt); err != nil {
		return nil, err
	}
	return &rf, nil
}

func (r *PGPaymentRepository) CreateRefund(ctx context.Context, rf *domain.RefundRecord) error {
	err := conn(ctx, r.db).QueryRow(ctx, `INSERT INTO refunds (id, payment_id, booking_id, external_ref, amount, status,
		reason, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		rf.ID, rf.PaymentID, rf.BookingID, rf.ExternalRef, rf.Amount, rf.Status, rf.Reason, rf.RequestedBy).
		Scan(&rf.CreatedAt, &rf.UpdatedAt)
	return mapError(err, "refund")
}

func (r *PGPaymentRepository) GetRefund(ctx context.Context, id string) (*domain.RefundRecord, error) {
	rf, err := scanRefund(conn(ctx, r.db).QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id=$1`, id))
	return rf, mapError(err, "refund "+id)
}

func (r *PGPaymentRepository) LockRefund(ctx context.Context, id string) (*domain.RefundRecord, error) {
	rf, err := scanRefund(conn(ctx, r.db).QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id=$1 FOR UPDATE`, id))
	return rf, mapError(err, "refund "+id)
}

func (r *PGPaymentRepository) LockRefundByRef(ctx context.Context, ref string) (*domain.RefundRecord, error) {
	rf, err := scanRefund(conn(ctx, r.db).QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds
		WHERE external_ref=$1 AND external_ref <> '' FOR UPDATE`, ref))
	return rf, mapError(err, "refund "+ref)
}

func (r *PGPaymentRepository) ListRefunds(ctx context.Context, paymentID string) ([]domain.RefundRecord, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `SELECT `+refundColumns+` FROM refunds WHERE payment_id=$1 ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refunds := make([]domain.RefundRecord, 0)
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, *rf)
	}
	return refunds, rows.Err()
}

func (r *PGPaymentRepository) UpdateRefund(ctx context.Context, rf *domain.RefundRecord) error {
	err := conn(ctx, r.db).QueryRow(ctx, `UPDATE refunds SET external_ref=$2, status=$3, updated_at=now()
		WHERE id=$1
		RETURNING updated_at`, rf.ID, rf.ExternalRef, rf.Status).Scan(&rf.UpdatedAt)
	return mapError(err, "refund "+rf.ID)
}

func (r *PGPaymentRepository) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `INSERT INTO payment_events (event_id, event_type) VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

var _ PaymentRepository = (*PGPaymentRepository)(nil)
