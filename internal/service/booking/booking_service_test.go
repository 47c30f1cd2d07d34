package booking

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/Domenick1991/slotbooking/internal/events"
	"github.com/Domenick1991/slotbooking/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Mock структуры

type MockBookingRepository struct {
	mock.Mock
}

func (m *MockBookingRepository) booking(args mock.Arguments) (*domain.Booking, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	return m.Called(ctx, booking).Error(0)
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	return m.booking(m.Called(ctx, id))
}

func (m *MockBookingRepository) GetForUpdate(ctx context.Context, id string) (*domain.Booking, error) {
	return m.booking(m.Called(ctx, id))
}

func (m *MockBookingRepository) GetByIdempotencyKey(ctx context.Context, requesterID, key string) (*domain.Booking, error) {
	return m.booking(m.Called(ctx, requesterID, key))
}

func (m *MockBookingRepository) List(ctx context.Context, filter domain.BookingFilter) ([]domain.Booking, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) ListLive(ctx context.Context, responderID string, window domain.Interval) ([]domain.Booking, error) {
	args := m.Called(ctx, responderID, window)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) Save(ctx context.Context, booking *domain.Booking, expected domain.BookingStatus) error {
	return m.Called(ctx, booking, expected).Error(0)
}

func (m *MockBookingRepository) ExpireHoldsBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error) {
	args := m.Called(ctx, deadline)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) StartDue(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) CompleteDue(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

type MockPayments struct {
	mock.Mock
}

func (m *MockPayments) OpenPayment(ctx context.Context, booking *domain.Booking) (*domain.PaymentRecord, error) {
	args := m.Called(ctx, booking)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentRecord), args.Error(1)
}

func (m *MockPayments) CreateCharge(ctx context.Context, booking *domain.Booking) (*domain.PaymentRecord, error) {
	args := m.Called(ctx, booking)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentRecord), args.Error(1)
}

func (m *MockPayments) RefundForCancellation(ctx context.Context, booking *domain.Booking, actorID string) (*domain.RefundRecord, error) {
	args := m.Called(ctx, booking, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefundRecord), args.Error(1)
}

type MockAvailability struct {
	mock.Mock
}

func (m *MockAvailability) CheckWindow(ctx context.Context, responderID string, window domain.Interval, ignoreBookingID string) error {
	return m.Called(ctx, responderID, window, ignoreBookingID).Error(0)
}

// MockPublisher - реализует events.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event events.BookingEvent) error {
	return m.Called(ctx, event).Error(0)
}

type inlineTx struct{}

func (inlineTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var fixedNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo         *MockBookingRepository
	payments     *MockPayments
	availability *MockAvailability
	publisher    *MockPublisher
	machine      *StateMachine
	service      *BookingService
}

func newFixture() *fixture {
	f := &fixture{
		repo:         &MockBookingRepository{},
		payments:     &MockPayments{},
		availability: &MockAvailability{},
		publisher:    &MockPublisher{},
	}
	clock := func() time.Time { return fixedNow }
	f.machine = NewStateMachine(f.repo, inlineTx{}, f.publisher, zap.NewNop(), clock)
	f.service = NewBookingService(f.repo, inlineTx{}, f.machine, f.payments, Settings{
		HoldTTL:         15 * time.Minute,
		PaymentTTL:      30 * time.Minute,
		CancelCutoff:    time.Hour,
		DefaultCurrency: "usd",
	}, zap.NewNop(), WithAvailability(f.availability), WithClock(clock))
	return f
}

func (f *fixture) assertExpectations(t *testing.T) {
	f.repo.AssertExpectations(t)
	f.payments.AssertExpectations(t)
	f.availability.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func (f *fixture) expectEvent(eventType string) {
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e events.BookingEvent) bool {
		return e.Type == eventType
	})).Return(nil).Once()
}

func validInput() CreateBookingInput {
	return CreateBookingInput{
		RequesterID:    "requester-1",
		ResponderID:    "responder-1",
		StartAt:        fixedNow.Add(48 * time.Hour),
		EndAt:          fixedNow.Add(49 * time.Hour),
		PriceMinor:     5000,
		IdempotencyKey: "key-1",
	}
}

func existingBooking(status domain.BookingStatus, startIn time.Duration) *domain.Booking {
	b := &domain.Booking{
		ID:              "booking-1",
		RequesterID:     "requester-1",
		ResponderID:     "responder-1",
		StartAt:         fixedNow.Add(startIn),
		EndAt:           fixedNow.Add(startIn + time.Hour),
		DurationMinutes: 60,
		PriceMinor:      5000,
		Currency:        "usd",
		Status:          status,
	}
	if status == domain.BookingStatusHeld || status == domain.BookingStatusAwaitingPayment {
		expires := fixedNow.Add(10 * time.Minute)
		b.HoldExpiresAt = &expires
	}
	return b
}

// ============================ Тесты для CreateBooking ============================

// Тест 1: Платное бронирование встает в hold
func TestBookingService_CreateBooking_PaidIsHeld(t *testing.T) {
	f := newFixture()
	input := validInput()
	f.repo.On("GetByIdempotencyKey", mock.Anything, "requester-1", "key-1").Return(nil, fmt.Errorf("%w: booking", domain.ErrNotFound))
	f.availability.On("CheckWindow", mock.Anything, "responder-1", domain.Interval{Start: input.StartAt, End: input.EndAt}, "").Return(nil)
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Booking")).Return(nil)
	f.expectEvent(events.TypeBookingHeld)

	booking, err := f.service.CreateBooking(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusHeld, booking.Status)
	require.NotNil(t, booking.HoldExpiresAt)
	assert.Equal(t, fixedNow.Add(15*time.Minute), *booking.HoldExpiresAt)
	assert.Equal(t, 60, booking.DurationMinutes)
	assert.Equal(t, "usd", booking.Currency)
	assert.Equal(t, "UTC", booking.Timezone)
	f.assertExpectations(t)
}

// Тест 2: Бесплатное бронирование сразу scheduled, без платежа
func TestBookingService_CreateBooking_FreeIsScheduled(t *testing.T) {
	f := newFixture()
	input := validInput()
	input.PriceMinor = 0
	input.IdempotencyKey = ""
	f.availability.On("CheckWindow", mock.Anything, "responder-1", mock.Anything, "").Return(nil)
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Booking")).Return(nil)
	f.expectEvent(events.TypeBookingConfirmed)

	booking, err := f.service.CreateBooking(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusScheduled, booking.Status)
	assert.Nil(t, booking.HoldExpiresAt)
	f.payments.AssertNotCalled(t, "OpenPayment", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything)
}

// Два бронирования без ключа идемпотентности создаются независимо
func TestBookingService_CreateBooking_WithoutKeyTwice(t *testing.T) {
	f := newFixture()
	f.availability.On("CheckWindow", mock.Anything, "responder-1", mock.Anything, "").Return(nil)
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Booking")).Return(nil).Twice()
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	first := validInput()
	first.IdempotencyKey = ""
	second := first
	second.StartAt = first.StartAt.Add(2 * time.Hour)
	second.EndAt = first.EndAt.Add(2 * time.Hour)

	b1, err := f.service.CreateBooking(context.Background(), first)
	require.NoError(t, err)
	b2, err := f.service.CreateBooking(context.Background(), second)
	require.NoError(t, err)

	assert.NotEqual(t, b1.ID, b2.ID)
	assert.Equal(t, second.StartAt, b2.StartAt)
	f.repo.AssertNumberOfCalls(t, "Create", 2)
	f.repo.AssertNotCalled(t, "GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything)
}

// Без ключа нарушение уникальности не подменяет новое бронирование старым
func TestBookingService_CreateBooking_WithoutKeyNoReplayFallback(t *testing.T) {
	f := newFixture()
	input := validInput()
	input.IdempotencyKey = ""
	f.availability.On("CheckWindow", mock.Anything, mock.Anything, mock.Anything, "").Return(nil)
	f.repo.On("Create", mock.Anything, mock.Anything).Return(repository.ErrDuplicateIdempotencyKey)

	_, err := f.service.CreateBooking(context.Background(), input)

	assert.ErrorIs(t, err, repository.ErrDuplicateIdempotencyKey)
	f.repo.AssertNotCalled(t, "GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything)
}

// Тест 3: Повтор с тем же ключом возвращает существующее бронирование
func TestBookingService_CreateBooking_IdempotentReplay(t *testing.T) {
	f := newFixture()
	existing := existingBooking(domain.BookingStatusHeld, 48*time.Hour)
	f.repo.On("GetByIdempotencyKey", mock.Anything, "requester-1", "key-1").Return(existing, nil)

	booking, err := f.service.CreateBooking(context.Background(), validInput())

	require.NoError(t, err)
	assert.Same(t, existing, booking)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestBookingService_CreateBooking_IdempotencyRace(t *testing.T) {
	f := newFixture()
	existing := existingBooking(domain.BookingStatusHeld, 48*time.Hour)
	f.repo.On("GetByIdempotencyKey", mock.Anything, "requester-1", "key-1").Return(nil, fmt.Errorf("%w: booking", domain.ErrNotFound)).Once()
	f.availability.On("CheckWindow", mock.Anything, mock.Anything, mock.Anything, "").Return(nil)
	f.repo.On("Create", mock.Anything, mock.Anything).Return(repository.ErrDuplicateIdempotencyKey)
	f.repo.On("GetByIdempotencyKey", mock.Anything, "requester-1", "key-1").Return(existing, nil).Once()

	booking, err := f.service.CreateBooking(context.Background(), validInput())

	require.NoError(t, err)
	assert.Equal(t, "booking-1", booking.ID)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestBookingService_CreateBooking_SlotTaken(t *testing.T) {
	f := newFixture()
	f.repo.On("GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything).Return(nil, fmt.Errorf("%w: booking", domain.ErrNotFound))
	f.availability.On("CheckWindow", mock.Anything, mock.Anything, mock.Anything, "").Return(nil)
	f.repo.On("Create", mock.Anything, mock.Anything).Return(fmt.Errorf("%w: window overlaps a live booking", domain.ErrSlotUnavailable))

	_, err := f.service.CreateBooking(context.Background(), validInput())

	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestBookingService_CreateBooking_OutsideOpenHours(t *testing.T) {
	f := newFixture()
	f.repo.On("GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything).Return(nil, fmt.Errorf("%w: booking", domain.ErrNotFound))
	f.availability.On("CheckWindow", mock.Anything, mock.Anything, mock.Anything, "").Return(domain.ErrSlotUnavailable)

	_, err := f.service.CreateBooking(context.Background(), validInput())

	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestBookingService_CreateBooking_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateBookingInput)
	}{
		{name: "no requester", mutate: func(in *CreateBookingInput) { in.RequesterID = " " }},
		{name: "no responder", mutate: func(in *CreateBookingInput) { in.ResponderID = "" }},
		{name: "self booking", mutate: func(in *CreateBookingInput) { in.ResponderID = in.RequesterID }},
		{name: "negative price", mutate: func(in *CreateBookingInput) { in.PriceMinor = -1 }},
		{name: "reversed window", mutate: func(in *CreateBookingInput) { in.EndAt = in.StartAt.Add(-time.Minute) }},
		{name: "empty window", mutate: func(in *CreateBookingInput) { in.EndAt = in.StartAt }},
		{name: "in the past", mutate: func(in *CreateBookingInput) {
			in.StartAt = fixedNow.Add(-time.Hour)
			in.EndAt = fixedNow
		}},
		{name: "bad timezone", mutate: func(in *CreateBookingInput) { in.Timezone = "Nowhere/Land" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			input := validInput()
			tt.mutate(&input)

			_, err := f.service.CreateBooking(context.Background(), input)

			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		})
	}
}

// ============================ Тесты для RequestPayment ============================

func TestBookingService_RequestPayment_Success(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusHeld, 48*time.Hour)
	payment := &domain.PaymentRecord{ID: "payment-1", BookingID: "booking-1", CheckoutURL: "https://pay.example/cs_1"}

	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)
	f.repo.On("Save", mock.Anything, b, domain.BookingStatusHeld).Return(nil)
	f.expectEvent(events.TypeBookingPaymentRequested)
	f.payments.On("OpenPayment", mock.Anything, b).Return(payment, nil)
	f.payments.On("CreateCharge", mock.Anything, b).Return(payment, nil)

	result, err := f.service.RequestPayment(context.Background(), "booking-1", "requester-1")

	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusAwaitingPayment, result.Booking.Status)
	require.NotNil(t, result.Booking.HoldExpiresAt)
	assert.Equal(t, fixedNow.Add(30*time.Minute), *result.Booking.HoldExpiresAt)
	assert.Equal(t, "https://pay.example/cs_1", result.Payment.CheckoutURL)
	f.assertExpectations(t)
}

func TestBookingService_RequestPayment_Reentrant(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusAwaitingPayment, 48*time.Hour)
	later := fixedNow.Add(time.Hour)
	b.HoldExpiresAt = &later
	payment := &domain.PaymentRecord{ID: "payment-1"}

	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)
	f.payments.On("OpenPayment", mock.Anything, b).Return(payment, nil)
	f.payments.On("CreateCharge", mock.Anything, b).Return(payment, nil)

	result, err := f.service.RequestPayment(context.Background(), "booking-1", "requester-1")

	require.NoError(t, err)
	assert.Equal(t, later, *result.Booking.HoldExpiresAt)
	f.repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

// Повторный запрос оплаты не продлевает срок удержания
func TestBookingService_RequestPayment_ReentryKeepsDeadline(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusAwaitingPayment, 48*time.Hour)
	deadline := *b.HoldExpiresAt
	payment := &domain.PaymentRecord{ID: "payment-1"}

	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)
	f.payments.On("OpenPayment", mock.Anything, b).Return(payment, nil)
	f.payments.On("CreateCharge", mock.Anything, b).Return(payment, nil)

	result, err := f.service.RequestPayment(context.Background(), "booking-1", "requester-1")

	require.NoError(t, err)
	require.NotNil(t, result.Booking.HoldExpiresAt)
	assert.Equal(t, fixedNow.Add(10*time.Minute), *result.Booking.HoldExpiresAt)
	assert.Equal(t, deadline, *result.Booking.HoldExpiresAt)
	f.repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingService_RequestPayment_ReentryAfterDeadline(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusAwaitingPayment, 48*time.Hour)
	past := fixedNow.Add(-time.Minute)
	b.HoldExpiresAt = &past
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)

	_, err := f.service.RequestPayment(context.Background(), "booking-1", "requester-1")

	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	f.payments.AssertNotCalled(t, "OpenPayment", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingService_RequestPayment_ExpiredHold(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusHeld, 48*time.Hour)
	past := fixedNow.Add(-time.Minute)
	b.HoldExpiresAt = &past
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)

	_, err := f.service.RequestPayment(context.Background(), "booking-1", "requester-1")

	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	f.payments.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
}

func TestBookingService_RequestPayment_OnlyRequester(t *testing.T) {
	f := newFixture()
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(existingBooking(domain.BookingStatusHeld, 48*time.Hour), nil)

	_, err := f.service.RequestPayment(context.Background(), "booking-1", "responder-1")

	assert.ErrorIs(t, err, domain.ErrForbidden)
}

// ============================ Тесты для CancelBooking ============================

func TestBookingService_CancelBooking_ScheduledWithRefund(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusScheduled, 48*time.Hour)
	refund := &domain.RefundRecord{ID: "refund-1", Amount: 5000}

	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)
	f.repo.On("Save", mock.Anything, b, domain.BookingStatusScheduled).Return(nil)
	f.expectEvent(events.TypeBookingCancelled)
	f.payments.On("RefundForCancellation", mock.Anything, b, "responder-1").Return(refund, nil)

	result, err := f.service.CancelBooking(context.Background(), "booking-1", "responder-1", " sick ")

	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, result.Booking.Status)
	assert.Equal(t, "responder-1", result.Booking.CancelledBy)
	assert.Equal(t, "sick", result.Booking.CancelReason)
	assert.Same(t, refund, result.Refund)
	f.assertExpectations(t)
}

func TestBookingService_CancelBooking_InsideCutoff(t *testing.T) {
	f := newFixture()
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(existingBooking(domain.BookingStatusScheduled, 30*time.Minute), nil)

	_, err := f.service.CancelBooking(context.Background(), "booking-1", "requester-1", "")

	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	f.repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingService_CancelBooking_HeldInsideCutoffAllowed(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusHeld, 30*time.Minute)
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)
	f.repo.On("Save", mock.Anything, b, domain.BookingStatusHeld).Return(nil)
	f.expectEvent(events.TypeBookingCancelled)
	f.payments.On("RefundForCancellation", mock.Anything, b, "requester-1").Return(nil, nil)

	result, err := f.service.CancelBooking(context.Background(), "booking-1", "requester-1", "")

	require.NoError(t, err)
	assert.Nil(t, result.Refund)
	assert.Nil(t, result.Booking.HoldExpiresAt)
}

func TestBookingService_CancelBooking_Stranger(t *testing.T) {
	f := newFixture()
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(existingBooking(domain.BookingStatusScheduled, 48*time.Hour), nil)

	_, err := f.service.CancelBooking(context.Background(), "booking-1", "someone-else", "")

	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestBookingService_CancelBooking_AlreadyCancelled(t *testing.T) {
	f := newFixture()
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(existingBooking(domain.BookingStatusCancelled, 48*time.Hour), nil)

	result, err := f.service.CancelBooking(context.Background(), "booking-1", "requester-1", "")

	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, result.Booking.Status)
	f.payments.AssertNotCalled(t, "RefundForCancellation", mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingService_CancelBooking_Completed(t *testing.T) {
	f := newFixture()
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(existingBooking(domain.BookingStatusCompleted, -48*time.Hour), nil)

	_, err := f.service.CancelBooking(context.Background(), "booking-1", "requester-1", "")

	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
}

// ============================ Тесты для RescheduleBooking ============================

func TestBookingService_RescheduleBooking_Success(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusScheduled, 48*time.Hour)
	input := RescheduleInput{StartAt: fixedNow.Add(72 * time.Hour), EndAt: fixedNow.Add(73 * time.Hour)}
	window := domain.Interval{Start: input.StartAt, End: input.EndAt}

	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)
	f.availability.On("CheckWindow", mock.Anything, "responder-1", window, "booking-1").Return(nil)
	f.repo.On("Save", mock.Anything, b, domain.BookingStatusScheduled).Return(nil)
	f.expectEvent(events.TypeBookingRescheduled)

	booking, err := f.service.RescheduleBooking(context.Background(), "booking-1", "requester-1", input)

	require.NoError(t, err)
	assert.Equal(t, input.StartAt, booking.StartAt)
	assert.Equal(t, domain.BookingStatusScheduled, booking.Status)
	f.payments.AssertNotCalled(t, "RefundForCancellation", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestBookingService_RescheduleBooking_Conflict(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusScheduled, 48*time.Hour)
	original := b.StartAt
	input := RescheduleInput{StartAt: fixedNow.Add(72 * time.Hour), EndAt: fixedNow.Add(73 * time.Hour)}

	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)
	f.availability.On("CheckWindow", mock.Anything, mock.Anything, mock.Anything, "booking-1").Return(nil)
	f.repo.On("Save", mock.Anything, b, domain.BookingStatusScheduled).Return(domain.ErrSlotUnavailable)

	_, err := f.service.RescheduleBooking(context.Background(), "booking-1", "requester-1", input)

	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
	assert.Equal(t, original, b.StartAt)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestBookingService_RescheduleBooking_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		actor   string
		startIn time.Duration
		status  domain.BookingStatus
		input   RescheduleInput
		wantErr error
	}{
		{
			name: "responder", actor: "responder-1", startIn: 48 * time.Hour, status: domain.BookingStatusScheduled,
			input:   RescheduleInput{StartAt: fixedNow.Add(72 * time.Hour), EndAt: fixedNow.Add(73 * time.Hour)},
			wantErr: domain.ErrForbidden,
		},
		{
			name: "inside cutoff", actor: "requester-1", startIn: 30 * time.Minute, status: domain.BookingStatusScheduled,
			input:   RescheduleInput{StartAt: fixedNow.Add(72 * time.Hour), EndAt: fixedNow.Add(73 * time.Hour)},
			wantErr: domain.ErrInvalidStatusTransition,
		},
		{
			name: "different length", actor: "requester-1", startIn: 48 * time.Hour, status: domain.BookingStatusScheduled,
			input:   RescheduleInput{StartAt: fixedNow.Add(72 * time.Hour), EndAt: fixedNow.Add(74 * time.Hour)},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name: "expired", actor: "requester-1", startIn: 48 * time.Hour, status: domain.BookingStatusExpired,
			input:   RescheduleInput{StartAt: fixedNow.Add(72 * time.Hour), EndAt: fixedNow.Add(73 * time.Hour)},
			wantErr: domain.ErrInvalidStatusTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(existingBooking(tt.status, tt.startIn), nil)

			_, err := f.service.RescheduleBooking(context.Background(), "booking-1", tt.actor, tt.input)

			assert.ErrorIs(t, err, tt.wantErr)
			f.repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

// ============================ Тесты для StateMachine ============================

func TestStateMachine_Confirm(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusAwaitingPayment, 48*time.Hour)
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)
	f.repo.On("Save", mock.Anything, b, domain.BookingStatusAwaitingPayment).Return(nil)
	f.expectEvent(events.TypeBookingConfirmed)

	confirmed, err := f.machine.Confirm(context.Background(), "booking-1")

	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusScheduled, confirmed.Status)
	assert.Nil(t, confirmed.HoldExpiresAt)
	f.assertExpectations(t)
}

func TestStateMachine_Confirm_ScheduledIsNoop(t *testing.T) {
	f := newFixture()
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(existingBooking(domain.BookingStatusScheduled, 48*time.Hour), nil)

	_, err := f.machine.Confirm(context.Background(), "booking-1")

	require.NoError(t, err)
	f.repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestStateMachine_Confirm_FromHeldRejected(t *testing.T) {
	f := newFixture()
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(existingBooking(domain.BookingStatusHeld, 48*time.Hour), nil)

	_, err := f.machine.Confirm(context.Background(), "booking-1")

	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
}

func TestStateMachine_Confirm_LostRace(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusAwaitingPayment, 48*time.Hour)
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)
	f.repo.On("Save", mock.Anything, b, domain.BookingStatusAwaitingPayment).Return(domain.ErrInvalidStatusTransition)

	_, err := f.machine.Confirm(context.Background(), "booking-1")

	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	assert.Equal(t, domain.BookingStatusAwaitingPayment, b.Status)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestStateMachine_Fail(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusAwaitingPayment, 48*time.Hour)
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)
	f.repo.On("Save", mock.Anything, b, domain.BookingStatusAwaitingPayment).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e events.BookingEvent) bool {
		return e.Type == events.TypeBookingFailed && e.Reason == "card declined" && e.PreviousStatus == "awaiting_payment"
	})).Return(nil)

	failed, err := f.machine.Fail(context.Background(), "booking-1", "card declined")

	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusFailed, failed.Status)
	f.assertExpectations(t)
}

func TestStateMachine_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusAwaitingPayment, 48*time.Hour)
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)
	f.repo.On("Save", mock.Anything, b, domain.BookingStatusAwaitingPayment).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(fmt.Errorf("broker down"))

	_, err := f.machine.Confirm(context.Background(), "booking-1")

	assert.NoError(t, err)
}

func TestBookingService_ExpireStaleHolds(t *testing.T) {
	f := newFixture()
	expired := []domain.Booking{
		*existingBooking(domain.BookingStatusExpired, 48*time.Hour),
		*existingBooking(domain.BookingStatusExpired, 72*time.Hour),
	}
	f.repo.On("ExpireHoldsBefore", mock.Anything, fixedNow).Return(expired, nil)
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e events.BookingEvent) bool {
		return e.Type == events.TypeBookingExpired
	})).Return(nil).Twice()

	result, err := f.service.ExpireStaleHolds(context.Background())

	require.NoError(t, err)
	assert.Len(t, result, 2)
	f.assertExpectations(t)
}

func TestBookingService_AdvanceSessions(t *testing.T) {
	f := newFixture()
	f.repo.On("StartDue", mock.Anything, fixedNow).Return([]domain.Booking{*existingBooking(domain.BookingStatusInProgress, -time.Minute)}, nil)
	f.repo.On("CompleteDue", mock.Anything, fixedNow).Return([]domain.Booking{}, nil)
	f.expectEvent(events.TypeBookingStarted)

	started, completed, err := f.service.AdvanceSessions(context.Background())

	require.NoError(t, err)
	assert.Len(t, started, 1)
	assert.Empty(t, completed)
	f.assertExpectations(t)
}

func TestBookingService_EndSession(t *testing.T) {
	f := newFixture()
	b := existingBooking(domain.BookingStatusInProgress, -30*time.Minute)
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(b, nil)
	f.repo.On("Save", mock.Anything, b, domain.BookingStatusInProgress).Return(nil)
	f.expectEvent(events.TypeBookingCompleted)

	booking, err := f.service.EndSession(context.Background(), "booking-1", "responder-1")

	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCompleted, booking.Status)
}

func TestBookingService_EndSession_BeforeStart(t *testing.T) {
	f := newFixture()
	f.repo.On("GetForUpdate", mock.Anything, "booking-1").Return(existingBooking(domain.BookingStatusScheduled, time.Hour), nil)

	_, err := f.service.EndSession(context.Background(), "booking-1", "responder-1")

	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
}

func TestBookingService_ListBookings_OpenRangePassesThrough(t *testing.T) {
	f := newFixture()
	want := []domain.Booking{*existingBooking(domain.BookingStatusScheduled, 48*time.Hour)}
	f.repo.On("List", mock.Anything, domain.BookingFilter{PartyID: "requester-1", Limit: 100}).Return(want, nil)

	got, err := f.service.ListBookings(context.Background(), domain.BookingFilter{PartyID: "requester-1"})

	require.NoError(t, err)
	assert.Equal(t, want, got)
	f.repo.AssertExpectations(t)
}

func TestBookingService_ListBookings_RequiresParty(t *testing.T) {
	f := newFixture()

	_, err := f.service.ListBookings(context.Background(), domain.BookingFilter{})

	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
