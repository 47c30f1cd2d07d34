package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/Domenick1991/slotbooking/internal/gateway"
	"github.com/Domenick1991/slotbooking/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const systemActor = "system"

type PaymentUseCase interface {
	OpenPayment(ctx context.Context, booking *domain.Booking) (*domain.PaymentRecord, error)
	CreateCharge(ctx context.Context, booking *domain.Booking) (*domain.PaymentRecord, error)
	GetPayment(ctx context.Context, bookingID string) (*Summary, error)
	RefundForCancellation(ctx context.Context, booking *domain.Booking, actorID string) (*domain.RefundRecord, error)
	SubmitRefund(ctx context.Context, refundID string) error
	HandleEvent(ctx context.Context, event gateway.Event) error
}

// Bookings is the slice of the booking state machine reconciliation may drive.
type Bookings interface {
	GetForUpdate(ctx context.Context, id string) (*domain.Booking, error)
	Confirm(ctx context.Context, id string) (*domain.Booking, error)
	Fail(ctx context.Context, id, reason string) (*domain.Booking, error)
}

// RetryQueue hands work to the out-of-band worker.
type RetryQueue interface {
	EnqueueRefund(ctx context.Context, refundID string) error
	EnqueueEvent(ctx context.Context, event gateway.Event) error
}

type Summary struct {
	Payment *domain.PaymentRecord
	Refunds []domain.RefundRecord
}

type PaymentService struct {
	payments repository.PaymentRepository
	bookings Bookings
	tx       repository.Transactor
	gateway  gateway.Gateway
	queue    RetryQueue
	policy   RefundPolicy
	logger   *zap.Logger
	now      func() time.Time
}

type PaymentServiceOption func(*PaymentService)

func WithRetryQueue(queue RetryQueue) PaymentServiceOption {
	return func(s *PaymentService) {
		s.queue = queue
	}
}

func WithRefundPolicy(policy RefundPolicy) PaymentServiceOption {
	return func(s *PaymentService) {
		s.policy = policy
	}
}

func WithClock(now func() time.Time) PaymentServiceOption {
	return func(s *PaymentService) {
		s.now = now
	}
}

func NewPaymentService(
	payments repository.PaymentRepository,
	bookings Bookings,
	tx repository.Transactor,
	gw gateway.Gateway,
	logger *zap.Logger,
	opts ...PaymentServiceOption,
) *PaymentService {
	service := &PaymentService{
		payments: payments,
		bookings: bookings,
		tx:       tx,
		gateway:  gw,
		policy:   DefaultRefundPolicy(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// OpenPayment creates the pending record for a paid booking, or returns the one that already
// exists. It joins the caller's transaction.
func (s *PaymentService) OpenPayment(ctx context.Context, booking *domain.Booking) (*domain.PaymentRecord, error) {
	if booking.IsFree() {
		return nil, fmt.Errorf("%w: booking %s is free", domain.ErrInvalidRequest, booking.ID)
	}
	record := &domain.PaymentRecord{
		ID:        uuid.NewString(),
		BookingID: booking.ID,
		Amount:    booking.PriceMinor,
		Currency:  booking.Currency,
		Status:    domain.PaymentStatusPending,
	}
	p, _, err := s.payments.CreatePayment(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return p, nil
}

// CreateCharge asks the gateway for a checkout once per booking. Calling it again returns the
// stored checkout.
func (s *PaymentService) CreateCharge(ctx context.Context, booking *domain.Booking) (*domain.PaymentRecord, error) {
	p, err := s.payments.GetPaymentByBooking(ctx, booking.ID)
	if errors.Is(err, domain.ErrNotFound) {
		p, err = s.OpenPayment(ctx, booking)
	}
	if err != nil {
		return nil, err
	}
	if p.ExternalRef != "" || !p.Status.Open() {
		return p, nil
	}

	charge, err := s.gateway.CreateCharge(ctx, gateway.ChargeRequest{
		BookingID:   booking.ID,
		Description: fmt.Sprintf("Session %s", booking.StartAt.UTC().Format("2006-01-02 15:04 UTC")),
		Amount:      p.Amount,
		Currency:    p.Currency,
	})
	if err != nil {
		s.logger.Warn("gateway rejected charge", zap.String("booking_id", booking.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentFailed, err)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		locked, err := s.payments.LockPaymentByBooking(ctx, booking.ID)
		if err != nil {
			return err
		}
		if locked.ExternalRef != "" {
			p = locked
			return nil
		}
		locked.ExternalRef = charge.ExternalRef
		locked.IntentRef = charge.IntentRef
		locked.CheckoutURL = charge.CheckoutURL
		if locked.Status == domain.PaymentStatusPending {
			locked.Status = domain.PaymentStatusProcessing
		}
		if err := s.payments.UpdatePayment(ctx, locked); err != nil {
			return err
		}
		p = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("checkout created", zap.String("booking_id", booking.ID), zap.String("external_ref", p.ExternalRef))
	return p, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, bookingID string) (*Summary, error) {
	p, err := s.payments.GetPaymentByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	refunds, err := s.payments.ListRefunds(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &Summary{Payment: p, Refunds: refunds}, nil
}

// RefundForCancellation records the refund owed for a cancelled booking inside the caller's
// transaction and submits it to the gateway once that transaction commits. It returns nil
// when nothing was captured or the policy grants nothing.
func (s *PaymentService) RefundForCancellation(ctx context.Context, booking *domain.Booking, actorID string) (*domain.RefundRecord, error) {
	if booking.IsFree() {
		return nil, nil
	}
	p, err := s.payments.LockPaymentByBooking(ctx, booking.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !p.Status.Captured() {
		return nil, nil
	}

	amount := s.policy.Compute(p.CapturedAmount, booking.StartAt, s.now())
	return s.queueRefund(ctx, p, amount, "cancellation", actorID)
}

// queueRefund caps amount by what is still refundable and records it as pending.
func (s *PaymentService) queueRefund(ctx context.Context, p *domain.PaymentRecord, amount int64, reason, actorID string) (*domain.RefundRecord, error) {
	outstanding, err := s.outstanding(ctx, p)
	if err != nil {
		return nil, err
	}
	if amount > outstanding {
		amount = outstanding
	}
	if amount <= 0 {
		return nil, nil
	}

	refund := &domain.RefundRecord{
		ID:          uuid.NewString(),
		PaymentID:   p.ID,
		BookingID:   p.BookingID,
		Amount:      amount,
		Status:      domain.RefundStatusPending,
		Reason:      reason,
		RequestedBy: actorID,
	}
	if err := s.payments.CreateRefund(ctx, refund); err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}

	repository.AfterCommit(ctx, func(ctx context.Context) {
		s.submitOrEnqueue(ctx, refund.ID)
	})
	return refund, nil
}

// outstanding is the captured amount not yet refunded or promised to a live refund.
func (s *PaymentService) outstanding(ctx context.Context, p *domain.PaymentRecord) (int64, error) {
	refunds, err := s.payments.ListRefunds(ctx, p.ID)
	if err != nil {
		return 0, err
	}
	var promised int64
	for _, r := range refunds {
		if r.Status != domain.RefundStatusFailed {
			promised += r.Amount
		}
	}
	if p.RefundedAmount > promised {
		promised = p.RefundedAmount
	}
	left := p.CapturedAmount - promised
	if left < 0 {
		return 0, nil
	}
	return left, nil
}

func (s *PaymentService) submitOrEnqueue(ctx context.Context, refundID string) {
	err := s.SubmitRefund(ctx, refundID)
	if err == nil {
		return
	}
	s.logger.Warn("refund submission failed, scheduling retry", zap.String("refund_id", refundID), zap.Error(err))
	if s.queue == nil {
		return
	}
	if err := s.queue.EnqueueRefund(ctx, refundID); err != nil {
		s.logger.Error("failed to enqueue refund", zap.String("refund_id", refundID), zap.Error(err))
	}
}

// SubmitRefund sends a pending refund to the gateway. Submitted refunds are left alone, so
// retries are safe.
func (s *PaymentService) SubmitRefund(ctx context.Context, refundID string) error {
	refund, err := s.payments.GetRefund(ctx, refundID)
	if err != nil {
		return err
	}
	if refund.Status != domain.RefundStatusPending || refund.ExternalRef != "" {
		return nil
	}
	p, err := s.payments.GetPaymentByBooking(ctx, refund.BookingID)
	if err != nil {
		return err
	}

	result, err := s.gateway.CreateRefund(ctx, gateway.RefundRequest{
		RefundID:    refund.ID,
		BookingID:   refund.BookingID,
		ExternalRef: p.ExternalRef,
		IntentRef:   p.IntentRef,
		Amount:      refund.Amount,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExternalServiceDegraded, err)
	}

	refund.ExternalRef = result.ExternalRef
	refund.Status = result.Status
	if refund.Status == domain.RefundStatusPending {
		refund.Status = domain.RefundStatusProcessing
	}
	if err := s.payments.UpdateRefund(ctx, refund); err != nil {
		return err
	}
	s.logger.Info("refund submitted",
		zap.String("refund_id", refund.ID),
		zap.String("external_ref", refund.ExternalRef),
		zap.Int64("amount", refund.Amount),
	)
	return nil
}

// HandleEvent applies a verified gateway event exactly once. The dedup row and the effects
// commit together, so a failed attempt can be retried.
func (s *PaymentService) HandleEvent(ctx context.Context, event gateway.Event) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		first, err := s.payments.MarkEventProcessed(ctx, event.EventID(), event.EventType())
		if err != nil {
			return fmt.Errorf("mark event: %w", err)
		}
		if !first {
			s.logger.Info("duplicate gateway event ignored", zap.String("event_id", event.EventID()))
			return nil
		}
		return event.Accept(ctx, s)
	})
}

func (s *PaymentService) lockPayment(ctx context.Context, bookingID string, refs ...string) (*domain.PaymentRecord, error) {
	if bookingID != "" {
		return s.payments.LockPaymentByBooking(ctx, bookingID)
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		p, err := s.payments.LockPaymentByRef(ctx, ref)
		if !errors.Is(err, domain.ErrNotFound) {
			return p, err
		}
	}
	return nil, fmt.Errorf("%w: no payment for event", domain.ErrNotFound)
}

func (s *PaymentService) OnChargeSucceeded(ctx context.Context, e gateway.ChargeSucceeded) error {
	p, err := s.lockPayment(ctx, e.BookingID, e.ExternalRef, e.IntentRef)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("charge succeeded for unknown payment", zap.String("event_id", e.ID), zap.String("booking_id", e.BookingID))
		return nil
	}
	if err != nil {
		return err
	}
	if p.Status.Captured() {
		return nil
	}

	now := s.now()
	p.Status = domain.PaymentStatusSucceeded
	p.CapturedAmount = e.Amount
	if p.CapturedAmount <= 0 {
		p.CapturedAmount = p.Amount
	}
	p.FailureReason = ""
	p.PaidAt = &now
	if p.ExternalRef == "" {
		p.ExternalRef = e.ExternalRef
	}
	if p.IntentRef == "" {
		p.IntentRef = e.IntentRef
	}
	if err := s.payments.UpdatePayment(ctx, p); err != nil {
		return err
	}

	booking, err := s.bookings.GetForUpdate(ctx, p.BookingID)
	if err != nil {
		return err
	}
	if booking.Status.IsTerminal() {
		// The booking is gone but money arrived; send all of it back.
		s.logger.Warn("late payment for closed booking, refunding in full",
			zap.String("booking_id", booking.ID),
			zap.String("booking_status", string(booking.Status)),
			zap.Int64("captured", p.CapturedAmount),
		)
		_, err := s.queueRefund(ctx, p, p.CapturedAmount, "late payment", systemActor)
		return err
	}
	if booking.Status != domain.BookingStatusAwaitingPayment {
		return nil
	}
	_, err = s.bookings.Confirm(ctx, booking.ID)
	return err
}

func (s *PaymentService) OnChargeFailed(ctx context.Context, e gateway.ChargeFailed) error {
	p, err := s.lockPayment(ctx, e.BookingID, e.ExternalRef, e.IntentRef)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("charge failed for unknown payment", zap.String("event_id", e.ID), zap.String("booking_id", e.BookingID))
		return nil
	}
	if err != nil {
		return err
	}
	if p.Status.Captured() {
		s.logger.Warn("charge failure after success ignored",
			zap.String("event_id", e.ID),
			zap.String("booking_id", p.BookingID),
			zap.String("payment_status", string(p.Status)),
		)
		return nil
	}
	if p.Status == domain.PaymentStatusFailed {
		return nil
	}

	now := s.now()
	p.Status = domain.PaymentStatusFailed
	p.FailureReason = e.Reason
	p.FailedAt = &now
	if err := s.payments.UpdatePayment(ctx, p); err != nil {
		return err
	}

	booking, err := s.bookings.GetForUpdate(ctx, p.BookingID)
	if err != nil {
		return err
	}
	if booking.Status != domain.BookingStatusAwaitingPayment {
		return nil
	}
	_, err = s.bookings.Fail(ctx, booking.ID, e.Reason)
	return err
}

func (s *PaymentService) OnChargeRefunded(ctx context.Context, e gateway.ChargeRefunded) error {
	p, err := s.lockPayment(ctx, e.BookingID, e.IntentRef)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("refund for unknown payment", zap.String("event_id", e.ID), zap.String("intent_ref", e.IntentRef))
		return nil
	}
	if err != nil {
		return err
	}
	if !p.Status.Captured() {
		// The success notification has not been applied yet; retry later.
		return fmt.Errorf("%w: refund before capture on payment %s", domain.ErrInvalidStatusTransition, p.ID)
	}
	if e.AmountRefunded <= p.RefundedAmount && !(e.Full && p.Status != domain.PaymentStatusRefunded) {
		return nil
	}

	refunded := e.AmountRefunded
	if refunded > p.CapturedAmount {
		refunded = p.CapturedAmount
	}
	if refunded > p.RefundedAmount {
		p.RefundedAmount = refunded
	}
	if e.Full || p.RefundedAmount >= p.CapturedAmount {
		p.Status = domain.PaymentStatusRefunded
	} else {
		p.Status = domain.PaymentStatusPartiallyRefunded
	}
	return s.payments.UpdatePayment(ctx, p)
}

func (s *PaymentService) OnRefundUpdated(ctx context.Context, e gateway.RefundUpdated) error {
	refund, err := s.payments.LockRefundByRef(ctx, e.ExternalRef)
	if errors.Is(err, domain.ErrNotFound) && e.RefundID != "" {
		refund, err = s.payments.LockRefund(ctx, e.RefundID)
	}
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("update for unknown refund", zap.String("event_id", e.ID), zap.String("external_ref", e.ExternalRef))
		return nil
	}
	if err != nil {
		return err
	}

	settled := refund.Status == domain.RefundStatusSucceeded || refund.Status == domain.RefundStatusFailed
	if refund.Status == e.Status || (settled && !isSettled(e.Status)) {
		return nil
	}
	refund.Status = e.Status
	if refund.ExternalRef == "" {
		refund.ExternalRef = e.ExternalRef
	}
	return s.payments.UpdateRefund(ctx, refund)
}

func isSettled(status domain.RefundStatus) bool {
	return status == domain.RefundStatusSucceeded || status == domain.RefundStatusFailed
}

func (s *PaymentService) OnUnknown(_ context.Context, e gateway.Unknown) error {
	s.logger.Info("unhandled gateway event", zap.String("event_id", e.ID), zap.String("type", e.Type))
	return nil
}

var (
	_ PaymentUseCase        = (*PaymentService)(nil)
	_ gateway.EventHandler = (*PaymentService)(nil)
)
